package ocr

import "fmt"

// Signal describes why a unit or node might need recognition.
type Signal int

const (
    // SignalEmpty is a page whose native layer produced no text.
    SignalEmpty Signal = iota
    // SignalSparse is a page whose native text fell below the density threshold.
    SignalSparse
    // SignalEmbedded is a raster found inside a slide or document shape.
    SignalEmbedded
    // SignalImage is a standalone image input.
    SignalImage
)

func (s Signal) String() string {
    switch s {
    case SignalEmpty:
        return "empty"
    case SignalSparse:
        return "sparse"
    case SignalEmbedded:
        return "embedded"
    case SignalImage:
        return "image"
    default:
        return fmt.Sprintf("signal(%d)", int(s))
    }
}

const ReasonDisabled = "OCR disabled"

// Policy is the fallback decision table.
type Policy struct {
    Enabled         bool
    EmbeddedEnabled bool
    DefaultDPI      int
    SparseDPI       int
    ConfidenceFloor float64
    // EmbeddedConfidenceFloor overrides ConfidenceFloor for embedded rasters.
    EmbeddedConfidenceFloor *float64
}

// Decision is the outcome of Decide. DPI only matters for rasterized pages.
type Decision struct {
    Attempt bool
    DPI     int
    Floor   float64
    Reason  string
}

func (p Policy) Decide(signal Signal) Decision {
    if !p.Enabled {
        return Decision{Reason: ReasonDisabled}
    }
    if signal == SignalEmbedded && !p.EmbeddedEnabled {
        return Decision{Reason: "OCR disabled for embedded images"}
    }

    d := Decision{
        Attempt: true,
        DPI:     p.DefaultDPI,
        Floor:   p.ConfidenceFloor,
        Reason:  signal.String(),
    }
    switch signal {
    case SignalSparse:
        if p.SparseDPI > 0 {
            d.DPI = p.SparseDPI
        }
    case SignalEmbedded:
        if p.EmbeddedConfidenceFloor != nil {
            d.Floor = *p.EmbeddedConfidenceFloor
        }
    }
    return d
}

// LowConfidence returns the diagnostic for a scored result under the floor,
// or "" when the result is acceptable or unscored.
func (d Decision) LowConfidence(rec Recognition) string {
    if !rec.Scored || rec.Confidence >= d.Floor {
        return ""
    }
    return fmt.Sprintf("low confidence (%.1f < %.1f)", rec.Confidence, d.Floor)
}
