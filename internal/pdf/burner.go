package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"signflow/internal/domain"
)

// Placement pairs a placeholder with the captured image that fills it.
type Placement struct {
	Placeholder domain.Placeholder
	Image       []byte
}

// Burner composites signature images into PDF bytes.
//
// Burning is not idempotent: applying the same batch twice double-draws
// the images. Callers guarantee at-most-once invocation per signer via
// the signer status transition.
type Burner interface {
	Burn(ctx context.Context, docBytes []byte, placements []Placement) ([]byte, error)
}

// StampBurner implements Burner with pdfcpu image stamps.
type StampBurner struct {
	conf *model.Configuration
}

// NewStampBurner builds a burner with relaxed validation, so documents
// produced by the long tail of PDF writers still load.
func NewStampBurner() *StampBurner {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &StampBurner{conf: conf}
}

// Burn draws every placement onto its target page and re-serializes the
// document. Placements are applied one at a time so multiple fields on
// the same page stay independent.
func (b *StampBurner) Burn(ctx context.Context, docBytes []byte, placements []Placement) ([]byte, error) {
	if len(placements) == 0 {
		return nil, fmt.Errorf("no placements to burn")
	}
	dims, err := api.PageDims(bytes.NewReader(docBytes), b.conf)
	if err != nil {
		return nil, fmt.Errorf("read page dimensions: %w", err)
	}
	current := docBytes
	for _, pl := range placements {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := pl.Placeholder.Page
		if page < 1 || page > len(dims) {
			return nil, fmt.Errorf("placeholder %s targets page %d of %d", pl.Placeholder.ID, page, len(dims))
		}
		dim := dims[page-1]
		rect := TransformPercent(
			pl.Placeholder.XPercent,
			pl.Placeholder.YPercent,
			pl.Placeholder.WPercent,
			pl.Placeholder.HPercent,
			dim.Width,
			dim.Height,
		)
		desc, err := stampDesc(rect, pl.Image)
		if err != nil {
			return nil, fmt.Errorf("placeholder %s: %w", pl.Placeholder.ID, err)
		}
		wm, err := api.ImageWatermarkForReader(bytes.NewReader(pl.Image), desc, true, false, types.POINTS)
		if err != nil {
			return nil, fmt.Errorf("build stamp: %w", err)
		}
		var out bytes.Buffer
		if err := api.AddWatermarksMap(bytes.NewReader(current), &out, map[int]*model.Watermark{page: wm}, b.conf); err != nil {
			return nil, fmt.Errorf("stamp page %d: %w", page, err)
		}
		current = out.Bytes()
	}
	return current, nil
}

// stampDesc builds the pdfcpu watermark descriptor anchoring the image
// at the transformed bottom-left corner, scaled to the placeholder
// width. One image pixel maps to one point before scaling.
func stampDesc(rect Rect, imageBytes []byte) (string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(imageBytes))
	if err != nil {
		return "", fmt.Errorf("decode signature image: %w", err)
	}
	if cfg.Width <= 0 {
		return "", fmt.Errorf("signature image has no width")
	}
	scale := rect.W / float64(cfg.Width)
	return fmt.Sprintf("pos:bl, off:%.2f %.2f, scale:%.4f abs, rot:0", rect.X, rect.Y, scale), nil
}
