package render

import (
	"bytes"
	"embed"
	"fmt"
	"image"
	"image/draw"
	"sync"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	"github.com/park285/dama-server/internal/rules"
)

//go:embed assets/*.svg
var assetFiles embed.FS

type pieceKey struct {
	color rules.Color
	rank  rules.Rank
	size  int
}

var (
	pieceCache   = map[pieceKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

// pieceImage returns the disc for color, with a crown on top for kings.
func pieceImage(color rules.Color, rank rules.Rank, size int) (image.Image, error) {
	key := pieceKey{color: color, rank: rank, size: size}
	pieceCacheMu.RLock()
	if img, ok := pieceCache[key]; ok {
		pieceCacheMu.RUnlock()
		return img, nil
	}
	pieceCacheMu.RUnlock()

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	disc := "assets/dark.svg"
	if color == rules.Light {
		disc = "assets/light.svg"
	}
	if err := rasterizeInto(img, disc); err != nil {
		return nil, err
	}
	if rank == rules.King {
		if err := rasterizeInto(img, "assets/crown.svg"); err != nil {
			return nil, err
		}
	}

	pieceCacheMu.Lock()
	pieceCache[key] = img
	pieceCacheMu.Unlock()
	return img, nil
}

// rasterizeInto draws an embedded SVG scaled to dst's bounds, over what is already there.
func rasterizeInto(dst *image.RGBA, name string) error {
	data, err := assetFiles.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read asset %s: %w", name, err)
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(sanitizeSVG(data)))
	if err != nil {
		return fmt.Errorf("parse asset %s: %w", name, err)
	}
	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	icon.SetTarget(0, 0, float64(w), float64(h))

	layer := image.NewRGBA(dst.Bounds())
	scanner := rasterx.NewScannerGV(w, h, layer, layer.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1.0)
	draw.Draw(dst, dst.Bounds(), layer, image.Point{}, draw.Over)
	return nil
}

// sanitizeSVG normalizes "prop: #hex" style declarations, which oksvg does not parse.
func sanitizeSVG(svg []byte) []byte {
	out := svg
	for _, prop := range []string{"fill", "stroke", "stop-color"} {
		out = bytes.ReplaceAll(out, []byte(prop+": #"), []byte(prop+":#"))
	}
	return out
}
