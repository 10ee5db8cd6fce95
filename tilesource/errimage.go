/*
Copyright © 2023 mapknit authors
*/
package tilesource

import (
	"image"

	"github.com/fogleman/gg"
	colorful "github.com/lucasb-eyer/go-colorful"
)

// Blank returns a fully transparent image of the requested size.
func Blank(width, height int) image.Image {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	return image.NewNRGBA(image.Rect(0, 0, width, height))
}

// Diagnostic renders a placeholder tile with the failure message drawn into
// it. Callers of the fetch layer always receive an image of the requested
// size, never an error; this is that image. Transient failures tint amber,
// permanent ones red.
func Diagnostic(width, height int, msg string, transient bool) image.Image {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}

	hue := 8.0 // red
	if transient {
		hue = 45.0 // amber
	}
	bg := colorful.Hsv(hue, 0.10, 0.97)
	frame := colorful.Hsv(hue, 0.55, 0.75)

	dc := gg.NewContext(width, height)
	dc.SetColor(bg)
	dc.Clear()

	dc.SetColor(frame)
	dc.SetLineWidth(1)
	dc.DrawRectangle(0.5, 0.5, float64(width)-1, float64(height)-1)
	dc.Stroke()

	if msg != "" && width >= 48 && height >= 24 {
		dc.SetRGB(0.2, 0.2, 0.2)
		dc.DrawStringWrapped(msg, 6, 6, 0, 0, float64(width)-12, 1.3, gg.AlignLeft)
	}

	return dc.Image()
}
