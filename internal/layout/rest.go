package layout

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/notaria-labs/registro-cli/internal/resilience"
)

// RESTProvider fetches text layouts from an OCR layout service over HTTP.
type RESTProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRESTProvider creates a RESTProvider for the given service endpoint.
func NewRESTProvider(baseURL, apiKey string) *RESTProvider {
	return &RESTProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type layoutRequest struct {
	Document string `json:"document"` // base64 PDF
}

type layoutResponse struct {
	Pages []struct {
		Index int `json:"index"`
		Lines []struct {
			Text string     `json:"text"`
			BBox [4]float64 `json:"bbox"`
		} `json:"lines"`
	} `json:"pages"`
}

// Layout reads the document at contentRef, sends it to the layout service,
// and returns positioned lines in reading order. Transient service failures
// are retried.
func (p *RESTProvider) Layout(ctx context.Context, contentRef string) (*Layout, error) {
	data, err := os.ReadFile(contentRef)
	if err != nil {
		return nil, eris.Wrapf(err, "layout: read document %s", contentRef)
	}

	body, err := json.Marshal(layoutRequest{Document: base64.StdEncoding.EncodeToString(data)})
	if err != nil {
		return nil, eris.Wrap(err, "layout: marshal request")
	}

	policy := resilience.DefaultPolicy()
	policy.OnRetry = resilience.Logger("layout", "analyze")
	parsed, err := resilience.Do(ctx, policy, func(ctx context.Context) (*layoutResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/layout", bytes.NewReader(body))
		if err != nil {
			return nil, eris.Wrap(err, "layout: build request")
		}
		req.Header.Set("Content-Type", "application/json")
		if p.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "layout: call service"), 0)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			err := eris.Errorf("layout: service returned %d: %s", resp.StatusCode, string(b))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}

		var parsed layoutResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, eris.Wrap(err, "layout: decode response")
		}
		return &parsed, nil
	})
	if err != nil {
		return nil, err
	}

	out := &Layout{DocumentID: contentRef}
	for _, page := range parsed.Pages {
		for _, l := range page.Lines {
			out.Lines = append(out.Lines, Line{
				Page: page.Index,
				Text: l.Text,
				BBox: BBox{X0: l.BBox[0], Y0: l.BBox[1], X1: l.BBox[2], Y1: l.BBox[3]},
			})
		}
	}
	return out, nil
}
