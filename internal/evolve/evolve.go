// Package evolve rewrites extraction prompts from accumulated feedback. An
// evolution produces a candidate prompt pair; it never touches the active
// pair, which only the regression gate may swap.
package evolve

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/notaria-labs/registro-cli/internal/feedback"
	"github.com/notaria-labs/registro-cli/internal/prompt"
	"github.com/notaria-labs/registro-cli/pkg/anthropic"
)

const (
	// DefaultExampleCount bounds the incorrect examples shown to the rewrite
	// model.
	DefaultExampleCount = 10

	rewriteMaxTokens = 4096
)

// Evolver turns feedback evidence into candidate prompt versions.
type Evolver struct {
	prompts      prompt.Store
	feedback     feedback.Store
	client       anthropic.Client
	rewriteModel string
	exampleCount int
}

// NewEvolver creates an Evolver. rewriteModel is the model used to rewrite
// prompts, not the model whose prompts are being evolved.
func NewEvolver(prompts prompt.Store, fb feedback.Store, client anthropic.Client, rewriteModel string, exampleCount int) *Evolver {
	if exampleCount <= 0 {
		exampleCount = DefaultExampleCount
	}
	return &Evolver{
		prompts:      prompts,
		feedback:     fb,
		client:       client,
		rewriteModel: rewriteModel,
		exampleCount: exampleCount,
	}
}

// Candidate is the output of one evolution: a linked system+user candidate
// pair awaiting the regression gate.
type Candidate struct {
	System *prompt.Version
	User   *prompt.Version
}

// rewriteOutput is the JSON shape the rewrite model must return.
type rewriteOutput struct {
	SystemPrompt  string `json:"system_prompt"`
	UserPrompt    string `json:"user_prompt"`
	ChangeSummary string `json:"change_summary"`
}

// Evolve runs one evolution for a (doc_type, model). It reads the current
// prompt pair and the feedback evidence, asks the rewrite model for an
// improved pair, and stores it as a linked candidate. Queue counters are
// reset only after the candidate is stored; any failure before that leaves
// them intact so the trigger fires again.
func (e *Evolver) Evolve(ctx context.Context, docType, model string) (*Candidate, error) {
	entry, err := e.feedback.Queue(ctx, docType, model)
	if err != nil {
		return nil, err
	}
	if !entry.ShouldEvolve() {
		return nil, eris.Errorf("evolve: no evolution warranted for %s/%s (%d feedback, %d incorrect)",
			docType, model, entry.FeedbackCount, entry.IncorrectCount)
	}

	pair, err := e.prompts.GetActive(ctx, docType, model)
	if err != nil {
		return nil, err
	}
	var systemContent, userContent string
	var systemParent, userParent *string
	if pair != nil {
		systemContent, userContent = pair.System.Content, pair.User.Content
		systemParent, userParent = &pair.System.ID, &pair.User.ID
	} else {
		defaults := prompt.Defaults(docType)
		systemContent, userContent = defaults.System, defaults.User
	}

	examples, err := e.feedback.RecentIncorrect(ctx, docType, model, e.exampleCount)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.rewriteModel,
		MaxTokens: rewriteMaxTokens,
		System:    []anthropic.SystemBlock{{Text: rewriteSystemPrompt}},
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: buildRewriteRequest(docType, systemContent, userContent, entry, examples),
		}},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "evolve: rewrite call for %s/%s", docType, model)
	}
	resp.Usage.LogCost(e.rewriteModel, "prompt rewrite")

	out, err := parseRewrite(resp.Text())
	if err != nil {
		// Counters stay untouched so the next feedback re-triggers.
		return nil, err
	}

	histogram := map[string]int{}
	for cat, n := range entry.Histogram {
		histogram[string(cat)] = n
	}

	system, err := e.prompts.Create(ctx, prompt.NewVersion{
		DocType: docType, Model: model, Role: prompt.RoleSystem,
		Content: out.SystemPrompt, ParentID: systemParent,
		CreatedBy: "evolver", TriggerHistogram: histogram,
		ChangeSummary: out.ChangeSummary,
	})
	if err != nil {
		return nil, err
	}
	user, err := e.prompts.Create(ctx, prompt.NewVersion{
		DocType: docType, Model: model, Role: prompt.RoleUser,
		Content: out.UserPrompt, ParentID: userParent,
		CreatedBy: "evolver", TriggerHistogram: histogram,
		ChangeSummary: out.ChangeSummary,
	})
	if err != nil {
		return nil, err
	}

	if err := e.feedback.ResetCounters(ctx, docType, model); err != nil {
		return nil, err
	}

	zap.L().Info("prompt evolution produced candidate pair",
		zap.String("doc_type", docType),
		zap.String("model", model),
		zap.String("system_version", system.ID),
		zap.String("user_version", user.ID),
		zap.Int("version_number", system.VersionNumber),
		zap.String("change_summary", out.ChangeSummary),
	)
	return &Candidate{System: system, User: user}, nil
}

const rewriteSystemPrompt = `Eres un ingeniero de prompts. Mejoras prompts de extracción de documentos registrales mexicanos a partir de errores reportados por revisores humanos.

Reglas obligatorias para el prompt mejorado:
- Debe seguir exigiendo respuesta en JSON válido con una clave por campo
- Debe conservar la regla de preservar acentos, diéresis y la letra ñ
- El prompt de usuario debe conservar los marcadores {{fields}} y {{document}}
- Cambia solo lo necesario para atacar los errores reportados

Responde únicamente con JSON: {"system_prompt": "...", "user_prompt": "...", "change_summary": "..."}`

// buildRewriteRequest assembles the evidence shown to the rewrite model: the
// current pair, the error histogram sorted by frequency, and recent examples.
func buildRewriteRequest(docType, system, user string, entry *feedback.QueueEntry, examples []feedback.IncorrectExample) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tipo de documento: %s\n\n", docType)
	fmt.Fprintf(&b, "PROMPT DE SISTEMA ACTUAL:\n%s\n\n", system)
	fmt.Fprintf(&b, "PROMPT DE USUARIO ACTUAL:\n%s\n\n", user)

	b.WriteString("HISTOGRAMA DE ERRORES:\n")
	type bucket struct {
		cat feedback.Category
		n   int
	}
	buckets := make([]bucket, 0, len(entry.Histogram))
	for cat, n := range entry.Histogram {
		buckets = append(buckets, bucket{cat, n})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].n != buckets[j].n {
			return buckets[i].n > buckets[j].n
		}
		return buckets[i].cat < buckets[j].cat
	})
	for _, bk := range buckets {
		fmt.Fprintf(&b, "- %s: %d\n", bk.cat, bk.n)
	}

	b.WriteString("\nEJEMPLOS RECIENTES DE ERRORES:\n")
	for i, ex := range examples {
		fmt.Fprintf(&b, "%d. campo=%s valor_extraido=%q motivo=%q categoria=%s\n",
			i+1, ex.Field, ex.WrongValue, ex.Reason, ex.Category)
	}
	return b.String()
}

// parseRewrite extracts the JSON object from the model response, tolerating
// surrounding prose or code fences.
func parseRewrite(text string) (*rewriteOutput, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.New("evolve: rewrite response contains no JSON object")
	}

	var out rewriteOutput
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, eris.Wrap(err, "evolve: parse rewrite response")
	}
	if out.SystemPrompt == "" || out.UserPrompt == "" {
		return nil, eris.New("evolve: rewrite response missing system_prompt or user_prompt")
	}
	return &out, nil
}
