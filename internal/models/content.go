package models

// DocumentKind identifies the container family selected by the router.
type DocumentKind string

const (
    KindPDF   DocumentKind = "pdf"
    KindPPTX  DocumentKind = "pptx"
    KindDOCX  DocumentKind = "docx"
    KindXLSX  DocumentKind = "xlsx"
    KindODT   DocumentKind = "odt"
    KindODP   DocumentKind = "odp"
    KindODS   DocumentKind = "ods"
    KindEPUB  DocumentKind = "epub"
    KindCSV   DocumentKind = "csv"
    KindImage DocumentKind = "image"
    KindHTML  DocumentKind = "html"
    KindText  DocumentKind = "text"
)

// NodeKind is the closed set of content node types.
type NodeKind string

const (
    NodeText             NodeKind = "text"
    NodeTable            NodeKind = "table"
    NodeImagePlaceholder NodeKind = "image_placeholder"
    NodeGroup            NodeKind = "group"
    NodeUnsupported      NodeKind = "unsupported"
)

// UnitKind describes a unit, or the structural element a node came from.
type UnitKind string

const (
    UnitPage      UnitKind = "page"
    UnitSlide     UnitKind = "slide"
    UnitBody      UnitKind = "body"
    UnitHeader    UnitKind = "header"
    UnitFooter    UnitKind = "footer"
    UnitSheet     UnitKind = "sheet"
    UnitChapter   UnitKind = "chapter"
    UnitImage     UnitKind = "image"
    UnitParagraph UnitKind = "paragraph"
    UnitCell      UnitKind = "cell"
)

// Source records whether content came from the native text layer or from OCR.
type Source string

const (
    SourceNative Source = "native"
    SourceOCR    Source = "ocr"
)

type Provenance struct {
    UnitIndex int      `json:"unitIndex"`
    UnitKind  UnitKind `json:"unitKind"`
    Source    Source   `json:"source"`
}

// ContentNode is one typed piece of extracted structure. Children of a group
// are owned by that group alone and keep document order.
type ContentNode struct {
    Kind         NodeKind       `json:"kind"`
    Text         string         `json:"text,omitempty"`
    TableRows    [][]string     `json:"tableRows,omitempty"`
    Children     []*ContentNode `json:"children,omitempty"`
    Provenance   Provenance     `json:"provenance"`
    Confidence   *float64       `json:"confidence,omitempty"`
    Diagnostic   string         `json:"diagnostic,omitempty"`
    OCRAttempted bool           `json:"ocrAttempted,omitempty"`
}

// Walk visits n and its descendants depth-first, pre-order.
func (n *ContentNode) Walk(fn func(*ContentNode)) {
    if n == nil {
        return
    }
    fn(n)
    for _, child := range n.Children {
        child.Walk(fn)
    }
}

// FailureKind classifies unit-local failures.
type FailureKind string

const (
    FailureUnitParse         FailureKind = "unit_parse_error"
    FailureEngineUnavailable FailureKind = "engine_unavailable"
    FailureTimeout           FailureKind = "timeout"
    FailureDepthExceeded     FailureKind = "depth_exceeded"
)

type UnitFailure struct {
    UnitIndex int         `json:"unitIndex"`
    UnitKind  UnitKind    `json:"unitKind"`
    Kind      FailureKind `json:"kind"`
    Message   string      `json:"message"`
}

// Diagnostics is the accumulator threaded through one unit's processing and
// merged by the aggregator.
type Diagnostics struct {
    OCRInvocations    int           `json:"ocrInvocations"`
    ImagesDetected    int           `json:"imagesDetected"`
    UnsupportedShapes int           `json:"unsupportedShapes"`
    UnitFailures      []UnitFailure `json:"unitFailures"`
}

// Merge adds other's counters and failures to d.
func (d *Diagnostics) Merge(other Diagnostics) {
    d.OCRInvocations += other.OCRInvocations
    d.ImagesDetected += other.ImagesDetected
    d.UnsupportedShapes += other.UnsupportedShapes
    d.UnitFailures = append(d.UnitFailures, other.UnitFailures...)
}

// Unit is a top-level independently processed element: a page, a slide, a
// sheet, a book chapter, the body of a document, or one of its headers and
// footers.
type Unit struct {
    Index       int            `json:"index"`
    Kind        UnitKind       `json:"kind"`
    Source      Source         `json:"source"`
    Nodes       []*ContentNode `json:"nodes"`
    Diagnostic  string         `json:"diagnostic,omitempty"`
    Failure     *UnitFailure   `json:"failure,omitempty"`
    Diagnostics Diagnostics    `json:"-"`
}

// Fail marks the unit failed. Its content is replaced by a single
// unsupported node carrying the message, and the failure is recorded.
func (u *Unit) Fail(kind FailureKind, message string) {
    f := UnitFailure{
        UnitIndex: u.Index,
        UnitKind:  u.Kind,
        Kind:      kind,
        Message:   message,
    }
    u.Failure = &f
    u.Nodes = []*ContentNode{{
        Kind:       NodeUnsupported,
        Provenance: Provenance{UnitIndex: u.Index, UnitKind: u.Kind, Source: u.Source},
        Diagnostic: message,
    }}
    u.Diagnostics.UnitFailures = append(u.Diagnostics.UnitFailures, f)
}

// RecordFailure records a failure that does not take the whole unit down.
func (u *Unit) RecordFailure(kind FailureKind, message string) {
    u.Diagnostics.UnitFailures = append(u.Diagnostics.UnitFailures, UnitFailure{
        UnitIndex: u.Index,
        UnitKind:  u.Kind,
        Kind:      kind,
        Message:   message,
    })
}

// Failed reports whether the unit is excluded from text output.
func (u *Unit) Failed() bool {
    return u.Failure != nil
}

// ExtractionResult is owned by the caller and not modified after Extract
// returns it.
type ExtractionResult struct {
    DocumentKind DocumentKind `json:"documentKind"`
    Units        []Unit       `json:"units"`
    Text         string       `json:"text"`
    Diagnostics  Diagnostics  `json:"diagnostics"`
    Partial      bool         `json:"partial,omitempty"`
}

// Degraded reports whether any unit failed.
func (r *ExtractionResult) Degraded() bool {
    return len(r.Diagnostics.UnitFailures) > 0
}
