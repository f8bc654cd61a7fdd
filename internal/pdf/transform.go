package pdf

// Rect is an absolute placement in PDF user-space points,
// origin bottom-left, Y growing upward.
type Rect struct {
	X float64
	Y float64
	W float64
	H float64
}

// TransformPercent converts a placeholder authored in percentages of a
// top-left-origin, Y-down page into the bottom-left-origin, Y-up space
// PDF drawing uses. Pure arithmetic: transforming the same placeholder
// against the same page dimensions always yields the same rectangle.
func TransformPercent(xPct, yPct, wPct, hPct, pageW, pageH float64) Rect {
	w := wPct / 100 * pageW
	h := hPct / 100 * pageH
	x := xPct / 100 * pageW
	y := pageH - yPct/100*pageH - h
	return Rect{X: x, Y: y, W: w, H: h}
}

// PercentFromRect derives the top-left percentages back from an
// absolute rectangle. Inverse of TransformPercent.
func PercentFromRect(r Rect, pageW, pageH float64) (xPct, yPct, wPct, hPct float64) {
	xPct = r.X / pageW * 100
	wPct = r.W / pageW * 100
	hPct = r.H / pageH * 100
	yPct = (pageH - r.Y - r.H) / pageH * 100
	return xPct, yPct, wPct, hPct
}
