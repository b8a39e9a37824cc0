// Package render draws a board snapshot as PNG.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strconv"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"

	"github.com/park285/dama-server/internal/rules"
)

type Options struct {
	// LastMove is highlighted with an arrow and its captured squares marked.
	LastMove *rules.Move
	Title    string
	Status   string
	// Flip draws row 7 at the top, the dark player's view.
	Flip bool
}

type BoardRenderer interface {
	RenderPNG(ctx context.Context, board rules.Board, opts Options) ([]byte, error)
}

type svgBoardRenderer struct {
	face font.Face
}

func NewRenderer() BoardRenderer {
	return &svgBoardRenderer{face: basicfont.Face7x13}
}

const (
	squareSize   = 64
	sideMargin   = 32
	topMargin    = 84
	bottomMargin = 32
	panelHeight  = 26
	panelGap     = 8
	panelRadius  = 8
	boardPixels  = squareSize * rules.Size
)

var (
	lightSquare      = color.RGBA{233, 207, 163, 255}
	darkSquare       = color.RGBA{187, 136, 96, 255}
	backgroundColor  = color.RGBA{22, 24, 34, 255}
	boardShadowColor = color.NRGBA{0, 0, 0, 60}
	moveFill         = color.NRGBA{R: 255, G: 228, B: 120, A: 120}
	moveArrow        = color.NRGBA{R: 148, G: 207, B: 255, A: 170}
	captureMark      = color.NRGBA{R: 220, G: 60, B: 60, A: 160}
	panelColor       = color.NRGBA{R: 28, G: 31, B: 46, A: 250}
	panelShadow      = color.NRGBA{0, 0, 0, 50}
	textPrimary      = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	textSecondary    = color.NRGBA{R: 204, G: 210, B: 236, A: 255}
	coordinateColor  = color.NRGBA{R: 8, G: 214, B: 120, A: 255}
)

func (r *svgBoardRenderer) RenderPNG(ctx context.Context, board rules.Board, opts Options) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	width := boardPixels + sideMargin*2
	height := boardPixels + topMargin + bottomMargin
	origin := image.Point{X: sideMargin, Y: topMargin}
	boardRect := image.Rect(origin.X, origin.Y, origin.X+boardPixels, origin.Y+boardPixels)
	g := geometry{origin: origin, flip: opts.Flip}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	r.drawHUD(img, boardRect, opts)
	drawBoardShadow(img, boardRect)
	drawSquares(img, g)
	if mv := opts.LastMove; mv != nil {
		fillRect(img, g.rect(mv.From), moveFill)
		fillRect(img, g.rect(mv.To), moveFill)
	}
	for _, p := range board.Pieces() {
		pic, err := pieceImage(p.Color, p.Rank, squareSize)
		if err != nil {
			return nil, err
		}
		rect := g.rect(p.Square())
		imagedraw.Draw(img, rect, pic, image.Point{}, imagedraw.Over)
	}
	if mv := opts.LastMove; mv != nil {
		for _, c := range mv.Captured {
			drawDisc(img, g.center(c), squareSize/6, captureMark)
		}
		drawArrow(img, g.center(mv.From), g.center(mv.To), moveArrow)
	}
	r.drawCoordinates(img, g)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// geometry maps board squares to pixels.
type geometry struct {
	origin image.Point
	flip   bool
}

func (g geometry) rect(sq rules.Square) image.Rectangle {
	row, col := sq.Row, sq.Col
	if g.flip {
		row, col = rules.Size-1-row, rules.Size-1-col
	}
	x := g.origin.X + col*squareSize
	y := g.origin.Y + row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func (g geometry) center(sq rules.Square) image.Point {
	r := g.rect(sq)
	return image.Point{X: r.Min.X + squareSize/2, Y: r.Min.Y + squareSize/2}
}

func drawSquares(dst *image.RGBA, g geometry) {
	for row := 0; row < rules.Size; row++ {
		for col := 0; col < rules.Size; col++ {
			sq := rules.Square{Row: row, Col: col}
			clr := lightSquare
			if sq.Playable() {
				clr = darkSquare
			}
			imagedraw.Draw(dst, g.rect(sq), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func drawBoardShadow(img *image.RGBA, boardRect image.Rectangle) {
	shadow := image.Rect(boardRect.Min.X+4, boardRect.Min.Y+8, boardRect.Max.X+10, boardRect.Max.Y+12)
	imagedraw.Draw(img, shadow, image.NewUniform(boardShadowColor), image.Point{}, imagedraw.Over)
}

func (r *svgBoardRenderer) drawHUD(img *image.RGBA, boardRect image.Rectangle, opts Options) {
	drawer := &font.Drawer{Dst: img, Face: r.face}
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		title = "Dama"
	}
	status := strings.TrimSpace(opts.Status)

	statusBottom := boardRect.Min.Y - 14
	statusTop := statusBottom - panelHeight
	titleBottom := statusTop - panelGap
	titleRect := image.Rect(boardRect.Min.X, titleBottom-panelHeight, boardRect.Max.X, titleBottom)
	statusRect := image.Rect(boardRect.Min.X+boardRect.Dx()/4, statusTop, boardRect.Max.X-boardRect.Dx()/4, statusBottom)

	drawRoundedPanel(img, titleRect.Add(image.Pt(0, 4)), panelRadius, panelShadow)
	drawRoundedPanel(img, titleRect, panelRadius, panelColor)
	drawCenteredString(drawer, titleRect, truncate(r.face, title, titleRect.Dx()-24), textPrimary)
	if status != "" {
		drawRoundedPanel(img, statusRect.Add(image.Pt(0, 4)), panelRadius, panelShadow)
		drawRoundedPanel(img, statusRect, panelRadius, panelColor)
		drawCenteredString(drawer, statusRect, truncate(r.face, status, statusRect.Dx()-16), textSecondary)
	}
}

// drawCoordinates labels rows 0-7 on the left and columns a-h below, matching the square indices.
func (r *svgBoardRenderer) drawCoordinates(img *image.RGBA, g geometry) {
	drawer := &font.Drawer{Dst: img, Face: r.face, Src: image.NewUniform(coordinateColor)}
	ascent := r.face.Metrics().Ascent.Ceil()
	for i := 0; i < rules.Size; i++ {
		left := g.center(rules.Square{Row: i, Col: 0})
		drawCenteredText(drawer, strconv.Itoa(i), g.origin.X-sideMargin/2, left.Y+ascent/2)
		bottom := g.center(rules.Square{Row: 0, Col: i})
		drawCenteredText(drawer, string(rune('a'+i)), bottom.X, g.origin.Y+boardPixels+ascent+4)
	}
}
