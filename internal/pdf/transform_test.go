package pdf

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestTransformPercentA4(t *testing.T) {
	// A4 page, field at 10% across, 70% down, 30% wide, 8% tall.
	r := TransformPercent(10, 70, 30, 8, 595, 842)

	if !almostEqual(r.X, 59.5) {
		t.Errorf("X = %v, want 59.5", r.X)
	}
	if !almostEqual(r.W, 178.5) {
		t.Errorf("W = %v, want 178.5", r.W)
	}
	if !almostEqual(r.H, 67.36) {
		t.Errorf("H = %v, want 67.36", r.H)
	}
	if !almostEqual(r.Y, 185.24) {
		t.Errorf("Y = %v, want 185.24", r.Y)
	}
}

func TestTransformPercentEdges(t *testing.T) {
	// Top-left corner of the page maps to the top of PDF space.
	r := TransformPercent(0, 0, 10, 10, 612, 792)
	if !almostEqual(r.X, 0) || !almostEqual(r.Y, 792-79.2) {
		t.Errorf("top-left corner mapped to (%v, %v)", r.X, r.Y)
	}

	// Bottom edge: y + h = 100% puts the rect at Y = 0.
	r = TransformPercent(0, 90, 10, 10, 612, 792)
	if !almostEqual(r.Y, 0) {
		t.Errorf("bottom edge Y = %v, want 0", r.Y)
	}
}

func TestPercentRoundTrip(t *testing.T) {
	cases := []struct {
		x, y, w, h   float64
		pageW, pageH float64
	}{
		{10, 70, 30, 8, 595, 842},
		{0, 0, 100, 100, 612, 792},
		{42.5, 13.7, 5.25, 3.125, 595.276, 841.89},
	}
	for _, c := range cases {
		r := TransformPercent(c.x, c.y, c.w, c.h, c.pageW, c.pageH)
		x, y, w, h := PercentFromRect(r, c.pageW, c.pageH)
		if !almostEqual(x, c.x) || !almostEqual(y, c.y) || !almostEqual(w, c.w) || !almostEqual(h, c.h) {
			t.Errorf("round trip of (%v,%v,%v,%v) gave (%v,%v,%v,%v)",
				c.x, c.y, c.w, c.h, x, y, w, h)
		}
	}
}

func TestPageCountRejectsGarbage(t *testing.T) {
	if _, err := PageCount([]byte("definitely not a pdf")); err == nil {
		t.Fatal("expected error for non-pdf bytes")
	}
	if _, err := PageCount(nil); err == nil {
		t.Fatal("expected error for empty bytes")
	}
}
