// Package render provides viewport preview rendering using fogleman/gg.
package render

import (
	"bytes"
	"image/color"
	"image/png"
	"sync"

	"github.com/fogleman/gg"
)

// Config contains renderer configuration.
type Config struct {
	Width  int
	Height int
}

// Point is one node to draw.
type Point struct {
	X    float64
	Y    float64
	Leaf bool
}

// Edge is one lineage segment between a node and its parent.
type Edge struct {
	X1, Y1 float64
	X2, Y2 float64
}

// Viewport maps data coordinates onto the canvas.
type Viewport struct {
	MinX, MaxX float64
	MinY, MaxY float64
}

// PreviewRenderer draws the reduced node set of a viewport query to a
// PNG, for quick visual inspection of what a client would receive.
type PreviewRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
}

// NewPreviewRenderer creates a new preview renderer.
func NewPreviewRenderer(cfg Config) *PreviewRenderer {
	if cfg.Width <= 0 {
		cfg.Width = 1024
	}
	if cfg.Height <= 0 {
		cfg.Height = 768
	}
	return &PreviewRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.Width, cfg.Height)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}
}

// RenderViewport draws edges first, then points, and returns the encoded
// PNG.
func (r *PreviewRenderer) RenderViewport(points []Point, edges []Edge, vp Viewport) ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.White)
	dc.Clear()

	spanX := vp.MaxX - vp.MinX
	if spanX <= 0 {
		spanX = 1
	}
	spanY := vp.MaxY - vp.MinY
	if spanY <= 0 {
		spanY = 1
	}
	width := float64(r.config.Width)
	height := float64(r.config.Height)

	toCanvas := func(x, y float64) (float64, float64) {
		return (x - vp.MinX) / spanX * width, (y - vp.MinY) / spanY * height
	}

	dc.SetRGBA(0.6, 0.6, 0.6, 0.8)
	dc.SetLineWidth(0.5)
	for _, e := range edges {
		x1, y1 := toCanvas(e.X1, e.Y1)
		x2, y2 := toCanvas(e.X2, e.Y2)
		dc.DrawLine(x1, y1, x2, y2)
		dc.Stroke()
	}

	for _, p := range points {
		px, py := toCanvas(p.X, p.Y)
		if px < 0 || px >= width || py < 0 || py >= height {
			continue
		}
		if p.Leaf {
			dc.SetRGB(0.1, 0.3, 0.7)
			dc.DrawCircle(px, py, 1.5)
		} else {
			dc.SetRGB(0.3, 0.3, 0.3)
			dc.DrawCircle(px, py, 0.8)
		}
		dc.Fill()
	}

	return r.encodeContext(dc)
}

func (r *PreviewRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
