package extraction

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/notaria-labs/registro-cli/internal/prompt"
	"github.com/notaria-labs/registro-cli/internal/resilience"
	"github.com/notaria-labs/registro-cli/internal/schema"
	"github.com/notaria-labs/registro-cli/pkg/anthropic"
)

const (
	extractMaxTokens = 4096
	// DefaultMaxRetries bounds retry attempts per extraction call.
	DefaultMaxRetries = 3
)

// ClaudeExtractor runs one model's extraction over a document with a given
// prompt pair. Calls are rate-limited and retried with backoff.
type ClaudeExtractor struct {
	client     anthropic.Client
	model      string
	limiter    *rate.Limiter
	maxRetries int
	source     DocumentSource
}

// NewClaudeExtractor creates an extractor bound to one model.
func NewClaudeExtractor(client anthropic.Client, model string, limiter *rate.Limiter, maxRetries int, source DocumentSource) *ClaudeExtractor {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if source == nil {
		source = FileSource{}
	}
	return &ClaudeExtractor{
		client:     client,
		model:      model,
		limiter:    limiter,
		maxRetries: maxRetries,
		source:     source,
	}
}

// Model returns the extractor's model name.
func (e *ClaudeExtractor) Model() string { return e.model }

// RenderUser fills the user prompt template: {{fields}} becomes the
// comma-joined field list, {{document}} the document text.
func RenderUser(template string, sch schema.Schema, document string) string {
	rendered := strings.ReplaceAll(template, "{{fields}}", strings.Join(sch.FieldNames(), ", "))
	return strings.ReplaceAll(rendered, "{{document}}", document)
}

// Extract runs the model over already-fetched document text and returns the
// extracted field map plus the spend in USD across attempts.
func (e *ClaudeExtractor) Extract(ctx context.Context, sch schema.Schema, system, userTemplate, document string) (map[string]string, float64, error) {
	user := RenderUser(userTemplate, sch, document)

	policy := resilience.DefaultPolicy()
	policy.Attempts = e.maxRetries
	// Malformed model output is retried like a transport failure; the model
	// usually recovers on the next attempt.
	policy.Retryable = func(error) bool { return true }
	policy.OnRetry = resilience.Logger("anthropic", "extract "+e.model)

	var cost float64
	fields, err := resilience.Do(ctx, policy, func(ctx context.Context) (map[string]string, error) {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "extraction: rate limit wait")
			}
		}

		resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     e.model,
			MaxTokens: extractMaxTokens,
			System:    []anthropic.SystemBlock{{Text: system}},
			Messages:  []anthropic.Message{{Role: "user", Content: user}},
		})
		if err != nil {
			return nil, err
		}
		resp.Usage.LogCost(e.model, "extraction")
		cost += resp.Usage.EstimateCost(e.model)

		return parseFieldMap(resp.Text())
	})
	if err != nil {
		return nil, cost, eris.Wrapf(err, "extraction: model %s failed after %d attempts", e.model, e.maxRetries)
	}
	return fields, cost, nil
}

// ExtractFields fetches the document and extracts with an explicit prompt
// pair. This is the regression gate's replay entry point.
func (e *ClaudeExtractor) ExtractFields(ctx context.Context, contentRef string, sch schema.Schema, system, userTemplate string) (map[string]string, error) {
	document, err := e.source.Fetch(ctx, contentRef)
	if err != nil {
		return nil, err
	}
	fields, _, err := e.Extract(ctx, sch, system, userTemplate, document)
	return fields, err
}

// PromptContents resolves the prompts to use for a (doc_type, model): the
// active stored pair when one exists, the built-in defaults otherwise.
func PromptContents(ctx context.Context, store prompt.Store, docType, model string) (system, user string, err error) {
	pair, err := store.GetActive(ctx, docType, model)
	if err != nil {
		return "", "", err
	}
	if pair != nil {
		return pair.System.Content, pair.User.Content, nil
	}
	defaults := prompt.Defaults(docType)
	return defaults.System, defaults.User, nil
}

// parseFieldMap extracts the JSON object from a model response and coerces it
// into a flat string map, tolerating code fences and non-string scalars.
func parseFieldMap(text string) (map[string]string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.New("extraction: response contains no JSON object")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, eris.Wrap(err, "extraction: parse response")
	}

	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			// Numbers and booleans come back occasionally; keep the literal.
			s = strings.Trim(string(v), `"`)
		}
		fields[k] = s
	}
	return fields, nil
}
