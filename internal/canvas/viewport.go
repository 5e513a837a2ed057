package canvas

import "github.com/livetemplate/blockstudio/internal/resolver"

// Canvas padding kept around the page when fitting it into the container.
const (
	PaddingX = 300
	PaddingY = 200
)

// Zoom limits.
const (
	MinScale = 0.1
	MaxScale = 10
)

// Viewport is the scale and translation applied to the canvas inside its
// container: a canvas point p is drawn at Scale*(p+Translate) relative to
// the container origin.
type Viewport struct {
	Scale      float64 `json:"scale"`
	TranslateX float64 `json:"translateX"`
	TranslateY float64 `json:"translateY"`
	// Settling is set until the first Fit completes.
	Settling bool `json:"settling"`
}

// NewViewport returns an unscaled viewport waiting for its first fit.
func NewViewport() Viewport {
	return Viewport{Scale: 1, Settling: true}
}

// Fit scales the canvas so its width plus horizontal padding fills the
// container, then shifts it down so its top sits PaddingY (scaled) below
// the container's top. measure returns the canvas's rendered box under a
// given viewport; it is called once before and once after rescaling.
func (v *Viewport) Fit(container resolver.Rect, measure func(Viewport) resolver.Rect) {
	canvasWidth := measure(*v).Width / v.Scale
	if canvasWidth+2*PaddingX > 0 {
		v.Scale = container.Width / (canvasWidth + 2*PaddingX)
	}
	v.TranslateX = 0
	v.TranslateY = 0

	canvasTop := measure(*v).Y
	if diffY := container.Y - canvasTop + PaddingY*v.Scale; diffY != 0 {
		v.TranslateY = diffY / v.Scale
	}
	v.Settling = false
}

// ToScreen maps a canvas point to container coordinates.
func (v Viewport) ToScreen(x, y float64) (float64, float64) {
	return v.Scale * (x + v.TranslateX), v.Scale * (y + v.TranslateY)
}

// ToCanvas maps a container point to canvas coordinates.
func (v Viewport) ToCanvas(x, y float64) (float64, float64) {
	return x/v.Scale - v.TranslateX, y/v.Scale - v.TranslateY
}

// Zoom multiplies the scale by factor, keeping the container point
// (aroundX, aroundY) over the same canvas point.
func (v *Viewport) Zoom(factor, aroundX, aroundY float64) {
	px, py := v.ToCanvas(aroundX, aroundY)
	v.Scale = min(MaxScale, max(MinScale, v.Scale*factor))
	v.TranslateX = aroundX/v.Scale - px
	v.TranslateY = aroundY/v.Scale - py
}

// Pan moves the canvas by a distance in container pixels.
func (v *Viewport) Pan(dx, dy float64) {
	v.TranslateX += dx / v.Scale
	v.TranslateY += dy / v.Scale
}

// Guides are the alignment lines shown while resizing or moving a block.
type Guides struct {
	ShowX bool    `json:"showX"`
	ShowY bool    `json:"showY"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// Hide clears both guides.
func (g *Guides) Hide() { *g = Guides{} }
