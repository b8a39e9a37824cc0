package render

import (
	"image"
	"image/color"
	imagedraw "image/draw"
	"math"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

type pointF struct {
	X, Y float64
}

func fillRect(img *image.RGBA, rect image.Rectangle, clr color.Color) {
	imagedraw.Draw(img, rect, image.NewUniform(clr), image.Point{}, imagedraw.Over)
}

// drawArrow draws a shaft plus head from the centre of one square to another.
func drawArrow(img *image.RGBA, from, to image.Point, clr color.Color) {
	dx, dy := float64(to.X-from.X), float64(to.Y-from.Y)
	length := math.Hypot(dx, dy)
	if length == 0 {
		return
	}
	dirX, dirY := dx/length, dy/length
	perpX, perpY := -dirY, dirX

	headLen := float64(squareSize) * 0.4
	if headLen > length*0.6 {
		headLen = length * 0.6
	}
	half := float64(squareSize) * 0.08
	head := float64(squareSize) * 0.22
	base := pointF{X: float64(to.X) - dirX*headLen, Y: float64(to.Y) - dirY*headLen}
	start := pointF{X: float64(from.X), Y: float64(from.Y)}

	fillTriangle(img, pointF{start.X - perpX*half, start.Y - perpY*half}, pointF{start.X + perpX*half, start.Y + perpY*half}, pointF{base.X + perpX*half, base.Y + perpY*half}, clr)
	fillTriangle(img, pointF{start.X - perpX*half, start.Y - perpY*half}, pointF{base.X + perpX*half, base.Y + perpY*half}, pointF{base.X - perpX*half, base.Y - perpY*half}, clr)
	fillTriangle(img, pointF{float64(to.X), float64(to.Y)}, pointF{base.X - perpX*head, base.Y - perpY*head}, pointF{base.X + perpX*head, base.Y + perpY*head}, clr)
}

func fillTriangle(img *image.RGBA, a, b, c pointF, clr color.Color) {
	minX := int(math.Floor(math.Min(a.X, math.Min(b.X, c.X))))
	maxX := int(math.Ceil(math.Max(a.X, math.Max(b.X, c.X))))
	minY := int(math.Floor(math.Min(a.Y, math.Min(b.Y, c.Y))))
	maxY := int(math.Ceil(math.Max(a.Y, math.Max(b.Y, c.Y))))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			if inTriangle(float64(x)+0.5, float64(y)+0.5, a, b, c) {
				blendPixel(img, x, y, clr)
			}
		}
	}
}

// inTriangle uses barycentric coordinates; degenerate triangles contain nothing.
func inTriangle(x, y float64, a, b, c pointF) bool {
	denom := (b.Y-c.Y)*(a.X-c.X) + (c.X-b.X)*(a.Y-c.Y)
	if denom == 0 {
		return false
	}
	alpha := ((b.Y-c.Y)*(x-c.X) + (c.X-b.X)*(y-c.Y)) / denom
	beta := ((c.Y-a.Y)*(x-c.X) + (a.X-c.X)*(y-c.Y)) / denom
	return alpha >= 0 && beta >= 0 && 1-alpha-beta >= 0
}

func drawDisc(img *image.RGBA, center image.Point, radius int, clr color.Color) {
	r2 := radius * radius
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			if x*x+y*y <= r2 {
				blendPixel(img, center.X+x, center.Y+y, clr)
			}
		}
	}
}

func drawRoundedPanel(img *image.RGBA, rect image.Rectangle, radius int, clr color.Color) {
	if rect.Empty() {
		return
	}
	if m := min(rect.Dx(), rect.Dy()) / 2; radius > m {
		radius = m
	}
	if radius <= 0 {
		fillRect(img, rect, clr)
		return
	}
	fillRect(img, image.Rect(rect.Min.X+radius, rect.Min.Y, rect.Max.X-radius, rect.Max.Y), clr)
	fillRect(img, image.Rect(rect.Min.X, rect.Min.Y+radius, rect.Min.X+radius, rect.Max.Y-radius), clr)
	fillRect(img, image.Rect(rect.Max.X-radius, rect.Min.Y+radius, rect.Max.X, rect.Max.Y-radius), clr)
	for _, c := range []image.Point{
		{rect.Min.X + radius, rect.Min.Y + radius},
		{rect.Max.X - radius - 1, rect.Min.Y + radius},
		{rect.Min.X + radius, rect.Max.Y - radius - 1},
		{rect.Max.X - radius - 1, rect.Max.Y - radius - 1},
	} {
		drawQuarter(img, c, radius, clr, c.X < rect.Min.X+rect.Dx()/2, c.Y < rect.Min.Y+rect.Dy()/2)
	}
}

// drawQuarter fills the part of a corner disc the panel's rectangles do not cover.
func drawQuarter(img *image.RGBA, center image.Point, radius int, clr color.Color, left, top bool) {
	r2 := radius * radius
	for y := 1; y <= radius; y++ {
		for x := 1; x <= radius; x++ {
			if x*x+y*y > r2 {
				continue
			}
			px, py := center.X+x, center.Y+y
			if left {
				px = center.X - x
			}
			if top {
				py = center.Y - y
			}
			blendPixel(img, px, py, clr)
		}
	}
}

// blendPixel composites clr over the pixel at (x, y) (source-over, non-premultiplied input).
func blendPixel(img *image.RGBA, x, y int, clr color.Color) {
	if !(image.Point{X: x, Y: y}).In(img.Bounds()) {
		return
	}
	c := color.NRGBAModel.Convert(clr).(color.NRGBA)
	if c.A == 0 {
		return
	}
	a := float64(c.A) / 255
	dst := img.RGBAAt(x, y)
	mix := func(s uint8, d uint8) uint8 { return toUint8(float64(s)*a + float64(d)*(1-a)) }
	img.SetRGBA(x, y, color.RGBA{
		R: mix(c.R, dst.R),
		G: mix(c.G, dst.G),
		B: mix(c.B, dst.B),
		A: toUint8(255*a + float64(dst.A)*(1-a)),
	})
}

func toUint8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v + 0.5)
}

func drawCenteredString(drawer *font.Drawer, rect image.Rectangle, text string, clr color.Color) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	m := drawer.Face.Metrics()
	width := drawer.MeasureString(text).Round()
	x := max(rect.Min.X, rect.Min.X+(rect.Dx()-width)/2)
	baseline := rect.Min.Y + (rect.Dy()+m.Ascent.Ceil()-m.Descent.Ceil())/2
	drawer.Src = image.NewUniform(clr)
	drawer.Dot = fixed.P(x, baseline)
	drawer.DrawString(text)
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func truncate(face font.Face, text string, maxWidth int) string {
	d := font.Drawer{Face: face}
	if maxWidth <= 0 || d.MeasureString(text).Round() <= maxWidth {
		return text
	}
	runes := []rune(text)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		if s := string(runes) + "..."; d.MeasureString(s).Round() <= maxWidth {
			return s
		}
	}
	return ""
}
