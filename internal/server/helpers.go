package server

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"gonum.org/v1/gonum/floats"
)

var (
	plotBackground = color.NRGBA{255, 255, 255, 255}
	plotBar        = color.NRGBA{31, 119, 180, 255}
	plotTail       = color.NRGBA{255, 127, 14, 255}
	plotAxis       = color.NRGBA{0, 0, 0, 255}
)

// renderDistribution draws p as a bar chart, one bar per bin. With logScale
// the bar heights span the decades between the smallest and largest entry.
// Boundary bins, which carry the geometric tails, are drawn in a second color.
func renderDistribution(p []float64, width, height int, logScale bool) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{plotBackground}, image.Point{}, draw.Src)

	const margin = 4
	plotH := height - 2*margin
	if len(p) == 0 || plotH <= 0 {
		return img
	}

	heights := make([]float64, len(p))
	maxP := floats.Max(p)
	if logScale {
		minP := math.Max(floats.Min(p), maxP*1e-16)
		span := math.Log(maxP) - math.Log(minP)
		for i, v := range p {
			if span > 0 && v > 0 {
				heights[i] = (math.Log(math.Max(v, minP)) - math.Log(minP)) / span
			}
		}
	} else if maxP > 0 {
		for i, v := range p {
			heights[i] = v / maxP
		}
	}

	barW := float64(width-2*margin) / float64(len(p))
	baseline := height - margin
	for i, h := range heights {
		x0 := margin + int(math.Round(float64(i)*barW))
		x1 := margin + int(math.Round(float64(i+1)*barW))
		if x1-x0 > 2 {
			x1-- // gap between bars
		}
		top := baseline - int(math.Round(h*float64(plotH)))
		c := plotBar
		if i == 0 || i == len(p)-1 {
			c = plotTail
		}
		draw.Draw(img, image.Rect(x0, top, x1, baseline), &image.Uniform{c}, image.Point{}, draw.Src)
	}

	for x := margin; x < width-margin; x++ {
		img.SetNRGBA(x, baseline, plotAxis)
	}
	return img
}
