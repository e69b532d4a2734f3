package preprocess

import (
    "fmt"
    "image"
    "image/color"
    "math"

    "github.com/disintegration/imaging"
)

// ImagePreprocessor is one stage of the normalization pipeline. Stages are
// pure and idempotent on their own output.
type ImagePreprocessor interface {
    Name() string
    Process(img image.Image) (image.Image, error)
}

// toGray copies img into an 8-bit gray image anchored at the origin.
func toGray(img image.Image) *image.Gray {
    if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
        return g
    }
    b := img.Bounds()
    gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
    for y := 0; y < b.Dy(); y++ {
        for x := 0; x < b.Dx(); x++ {
            gray.SetGray(x, y, color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray))
        }
    }
    return gray
}

func isBilevel(g *image.Gray) bool {
    for _, v := range g.Pix {
        if v != 0 && v != 255 {
            return false
        }
    }
    return true
}

// GrayscaleProcessor converts to luminance.
type GrayscaleProcessor struct{}

func NewGrayscaleProcessor() *GrayscaleProcessor {
    return &GrayscaleProcessor{}
}

func (p *GrayscaleProcessor) Name() string { return "grayscale" }

func (p *GrayscaleProcessor) Process(img image.Image) (image.Image, error) {
    if img == nil {
        return nil, fmt.Errorf("input image is nil")
    }
    if g, ok := img.(*image.Gray); ok {
        return g, nil
    }
    return toGray(imaging.Grayscale(img)), nil
}

// DeskewProcessor rotates the image so that text lines run horizontally.
// The skew angle is the one maximizing the variance of the horizontal
// projection profile of dark pixels.
type DeskewProcessor struct {
    angleLimit float64
    step       float64
}

func NewDeskewProcessor(angleLimit, step float64) *DeskewProcessor {
    if step <= 0 {
        step = 0.5
    }
    return &DeskewProcessor{
        angleLimit: angleLimit,
        step:       step,
    }
}

func (p *DeskewProcessor) Name() string { return "deskew" }

func (p *DeskewProcessor) Process(img image.Image) (image.Image, error) {
    if img == nil {
        return nil, fmt.Errorf("input image is nil")
    }
    gray := toGray(img)
    angle := p.detectSkewAngle(gray)
    if math.Abs(angle) < p.step {
        return img, nil
    }
    rotated := toGray(imaging.Rotate(gray, angle, color.White))
    if isBilevel(gray) {
        threshold(rotated, 128)
    }
    return rotated, nil
}

// detectSkewAngle searches outward from zero so that ties resolve to the
// smallest correction.
func (p *DeskewProcessor) detectSkewAngle(g *image.Gray) float64 {
    b := g.Bounds()
    type point struct{ x, y float64 }
    var dark []point
    for y := 0; y < b.Dy(); y++ {
        row := g.Pix[y*g.Stride : y*g.Stride+b.Dx()]
        for x, v := range row {
            if v < 128 {
                dark = append(dark, point{float64(x), float64(y)})
            }
        }
    }
    if len(dark) == 0 || p.angleLimit <= 0 {
        return 0
    }

    diag := int(math.Hypot(float64(b.Dx()), float64(b.Dy()))) + 2
    profile := make([]float64, 2*diag+1)
    score := func(deg float64) float64 {
        for i := range profile {
            profile[i] = 0
        }
        sin, cos := math.Sincos(deg * math.Pi / 180)
        for _, pt := range dark {
            row := int(math.Round(pt.y*cos-pt.x*sin)) + diag
            if row >= 0 && row < len(profile) {
                profile[row]++
            }
        }
        var sum, sumSq float64
        for _, v := range profile {
            sum += v
            sumSq += v * v
        }
        n := float64(len(profile))
        mean := sum / n
        return sumSq/n - mean*mean
    }

    best, bestScore := 0.0, score(0)
    const eps = 1e-9
    for a := p.step; a <= p.angleLimit+eps; a += p.step {
        for _, cand := range []float64{a, -a} {
            if s := score(cand); s > bestScore+eps {
                best, bestScore = cand, s
            }
        }
    }
    // lines falling to the right by best degrees are levelled by a
    // counter-clockwise rotation of the same angle, imaging's convention.
    return best
}

// AdaptiveThresholdProcessor binarizes each pixel against the mean of its
// blockSize window minus a constant.
type AdaptiveThresholdProcessor struct {
    blockSize int
    constant  float64
}

func NewAdaptiveThresholdProcessor(blockSize int, constant float64) *AdaptiveThresholdProcessor {
    if blockSize < 3 {
        blockSize = 3
    }
    if blockSize%2 == 0 {
        blockSize++
    }
    return &AdaptiveThresholdProcessor{
        blockSize: blockSize,
        constant:  constant,
    }
}

func (p *AdaptiveThresholdProcessor) Name() string { return "binarize" }

func (p *AdaptiveThresholdProcessor) Process(img image.Image) (image.Image, error) {
    if img == nil {
        return nil, fmt.Errorf("input image is nil")
    }
    gray := toGray(img)
    if isBilevel(gray) {
        return gray, nil
    }

    w, h := gray.Bounds().Dx(), gray.Bounds().Dy()
    // integral image with a zero row and column
    integral := make([]int64, (w+1)*(h+1))
    for y := 0; y < h; y++ {
        var rowSum int64
        for x := 0; x < w; x++ {
            rowSum += int64(gray.Pix[y*gray.Stride+x])
            integral[(y+1)*(w+1)+x+1] = integral[y*(w+1)+x+1] + rowSum
        }
    }

    half := p.blockSize / 2
    result := image.NewGray(image.Rect(0, 0, w, h))
    for y := 0; y < h; y++ {
        y0, y1 := max(0, y-half), min(h, y+half+1)
        for x := 0; x < w; x++ {
            x0, x1 := max(0, x-half), min(w, x+half+1)
            sum := integral[y1*(w+1)+x1] - integral[y0*(w+1)+x1] - integral[y1*(w+1)+x0] + integral[y0*(w+1)+x0]
            mean := float64(sum) / float64((x1-x0)*(y1-y0))
            v := gray.Pix[y*gray.Stride+x]
            if float64(v) < mean-p.constant {
                result.Pix[y*result.Stride+x] = 0
            } else {
                result.Pix[y*result.Stride+x] = 255
            }
        }
    }
    return result, nil
}

// DenoiseProcessor removes isolated pixels: a pixel whose eight neighbours
// all carry the same value different from its own takes that value. Border
// pixels are left alone.
type DenoiseProcessor struct{}

func NewDenoiseProcessor() *DenoiseProcessor {
    return &DenoiseProcessor{}
}

func (p *DenoiseProcessor) Name() string { return "denoise" }

func (p *DenoiseProcessor) Process(img image.Image) (image.Image, error) {
    if img == nil {
        return nil, fmt.Errorf("input image is nil")
    }
    src := toGray(img)
    w, h := src.Bounds().Dx(), src.Bounds().Dy()
    out := image.NewGray(image.Rect(0, 0, w, h))
    copy(out.Pix, src.Pix)

    changed := false
    for y := 1; y < h-1; y++ {
        for x := 1; x < w-1; x++ {
            v := src.Pix[y*src.Stride+x]
            n := src.Pix[(y-1)*src.Stride+x-1]
            if n == v {
                continue
            }
            isolated := true
            for dy := -1; dy <= 1 && isolated; dy++ {
                for dx := -1; dx <= 1; dx++ {
                    if dx == 0 && dy == 0 {
                        continue
                    }
                    if src.Pix[(y+dy)*src.Stride+x+dx] != n {
                        isolated = false
                        break
                    }
                }
            }
            if isolated {
                out.Pix[y*out.Stride+x] = n
                changed = true
            }
        }
    }
    if !changed {
        return src, nil
    }
    return out, nil
}

func threshold(g *image.Gray, level uint8) {
    for i, v := range g.Pix {
        if v < level {
            g.Pix[i] = 0
        } else {
            g.Pix[i] = 255
        }
    }
}
