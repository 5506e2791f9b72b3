// Package layout models the OCR text-layout collaborator: ordered text lines,
// each with a page number and a normalized bounding box. The verifier consumes
// this as its ground truth for locating extracted values on the page.
package layout

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/notaria-labs/registro-cli/internal/config"
	"github.com/notaria-labs/registro-cli/internal/schema"
)

// BBox is a bounding box with coordinates normalized to [0,1].
type BBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// IsZero reports whether the box carries no position information.
func (b BBox) IsZero() bool {
	return b.X0 == 0 && b.Y0 == 0 && b.X1 == 0 && b.Y1 == 0
}

// Zone classifies the box center into a coarse page quadrant. The bottom half
// is a single zone; headers split left/right.
func (b BBox) Zone() schema.Zone {
	if b.IsZero() {
		return schema.ZoneUnknown
	}
	cx := (b.X0 + b.X1) / 2
	cy := (b.Y0 + b.Y1) / 2
	if cy > 0.5 {
		return schema.ZoneBottom
	}
	if cx < 0.5 {
		return schema.ZoneTopLeft
	}
	return schema.ZoneTopRight
}

// Line is one OCR text line.
type Line struct {
	Page int    `json:"page"`
	Text string `json:"text"`
	BBox BBox   `json:"bbox"`
}

// Layout is the full positioned text of one document, lines in reading order.
type Layout struct {
	DocumentID string `json:"document_id"`
	Lines      []Line `json:"lines"`
}

// Provider fetches the text layout for a document.
type Provider interface {
	Layout(ctx context.Context, contentRef string) (*Layout, error)
}

// NewProvider creates a Provider based on config.
func NewProvider(cfg config.LayoutConfig) (Provider, error) {
	switch cfg.Provider {
	case "rest", "":
		if cfg.BaseURL == "" {
			return nil, eris.New("layout: rest provider requires base_url")
		}
		return NewRESTProvider(cfg.BaseURL, cfg.APIKey), nil
	default:
		return nil, eris.Errorf("layout: unknown provider %q", cfg.Provider)
	}
}
