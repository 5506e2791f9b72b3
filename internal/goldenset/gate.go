package goldenset

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/notaria-labs/registro-cli/internal/consensus"
	"github.com/notaria-labs/registro-cli/internal/feedback"
	"github.com/notaria-labs/registro-cli/internal/prompt"
	"github.com/notaria-labs/registro-cli/internal/schema"
)

// BacktestMargin is the accuracy improvement a candidate must show over the
// active pair on feedback-labeled live data: at least one percentage point.
const BacktestMargin = 0.01

// Extractor re-runs extraction with an explicit prompt pair. The pipeline's
// single-model extractor satisfies this.
type Extractor interface {
	ExtractFields(ctx context.Context, contentRef string, sch schema.Schema, system, user string) (map[string]string, error)
}

// PairContents is the rendered text of a system+user prompt pair, independent
// of whether it is stored or a built-in default.
type PairContents struct {
	System string
	User   string
}

// PairLocker serializes gate runs per (doc_type, model). Each candidate is
// then measured against whichever pair is active when its turn comes, so a
// candidate can never deactivate a predecessor it was not compared with.
// db.SessionPairLocker satisfies this.
type PairLocker interface {
	LockPair(ctx context.Context, docType, model string) (func(), error)
}

// Gate evaluates candidate prompt pairs against the golden set and recent
// feedback before allowing activation.
type Gate struct {
	prompts       prompt.Store
	feedback      feedback.Store
	truths        TruthStore
	extractor     Extractor
	schemas       *schema.Registry
	locker        PairLocker
	backtestLimit int
}

// NewGate creates a Gate. A nil locker disables cross-process serialization.
func NewGate(prompts prompt.Store, fb feedback.Store, truths TruthStore, ex Extractor, schemas *schema.Registry, locker PairLocker, backtestLimit int) *Gate {
	if backtestLimit <= 0 {
		backtestLimit = 50
	}
	return &Gate{
		prompts:       prompts,
		feedback:      fb,
		truths:        truths,
		extractor:     ex,
		schemas:       schemas,
		locker:        locker,
		backtestLimit: backtestLimit,
	}
}

// Score is one accuracy measurement: matched expectations over total.
type Score struct {
	Matched int
	Total   int
}

// Accuracy returns the match fraction, or 1.0 for an empty measurement so a
// bootstrap system with no benchmark yet never blocks.
func (s Score) Accuracy() float64 {
	if s.Total == 0 {
		return 1.0
	}
	return float64(s.Matched) / float64(s.Total)
}

// Decision is the gate's verdict on a candidate pair.
type Decision string

const (
	DecisionActivated Decision = "activated"
	DecisionRejected  Decision = "rejected"
	DecisionHeld      Decision = "held"
)

// Outcome reports what the gate measured and decided.
type Outcome struct {
	Decision        Decision `json:"decision"`
	Reason          string   `json:"reason"`
	CandidateGolden float64  `json:"candidate_golden"`
	ActiveGolden    float64  `json:"active_golden"`
	CandidateBack   float64  `json:"candidate_backtest"`
	ActiveBack      float64  `json:"active_backtest"`
	GoldenSkipped   bool     `json:"golden_skipped,omitempty"`
}

// EvaluateGoldenSet scores a prompt pair against every truth for the document
// type. Each truth field is compared to the extracted value with the same
// comparator consensus uses, so diacritics and whitespace normalize away but
// real content differences count.
func (g *Gate) EvaluateGoldenSet(ctx context.Context, docType string, pc PairContents) (Score, error) {
	truths, err := g.truths.List(ctx, docType)
	if err != nil {
		return Score{}, err
	}

	sch := g.schemas.Resolve(docType)
	var score Score
	for _, truth := range truths {
		extracted, err := g.extractor.ExtractFields(ctx, truth.ContentRef, sch, pc.System, pc.User)
		if err != nil {
			return Score{}, eris.Wrapf(err, "goldenset: extract benchmark document %s", truth.DocumentID)
		}
		for field, expected := range truth.Fields {
			score.Total++
			if match, _ := consensus.FieldsEqual(expected, extracted[field]); match {
				score.Matched++
			}
		}
	}
	return score, nil
}

// Backtest scores a prompt pair against recent feedback-labeled documents: it
// re-extracts each referenced document once and checks every human-verified
// field expectation on it.
func (g *Gate) Backtest(ctx context.Context, docType, model string, pc PairContents) (Score, error) {
	samples, err := g.feedback.BacktestSamples(ctx, docType, model, g.backtestLimit)
	if err != nil {
		return Score{}, err
	}

	sch := g.schemas.Resolve(docType)
	extractions := map[string]map[string]string{}
	var score Score
	for _, s := range samples {
		fields, ok := extractions[s.ContentRef]
		if !ok {
			fields, err = g.extractor.ExtractFields(ctx, s.ContentRef, sch, pc.System, pc.User)
			if err != nil {
				return Score{}, eris.Wrapf(err, "goldenset: backtest document %s", s.DocumentID)
			}
			extractions[s.ContentRef] = fields
		}
		score.Total++
		if match, _ := consensus.FieldsEqual(s.Expected, fields[s.Field]); match {
			score.Matched++
		}
	}
	return score, nil
}

// PromoteCandidate runs the dual gate on a candidate pair. The golden set
// protects against regressions on known-good documents: a candidate that
// scores below the active pair there is rejected outright. The backtest
// demands real improvement on live data: a candidate that holds the golden
// set but fails the margin stays a candidate for a later attempt. Activation
// requires both.
func (g *Gate) PromoteCandidate(ctx context.Context, cand prompt.Pair) (*Outcome, error) {
	if cand.System == nil || cand.User == nil {
		return nil, eris.New("goldenset: candidate pair is incomplete")
	}
	docType, model := cand.System.DocType, cand.System.Model

	// The active pair must stay fixed from here through activation, so the
	// whole run holds the pair lock and only then reads the active pair.
	if g.locker != nil {
		release, err := g.locker.LockPair(ctx, docType, model)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	active, err := g.prompts.GetActive(ctx, docType, model)
	if err != nil {
		return nil, err
	}
	activeContents := PairContents{}
	if active != nil {
		activeContents = PairContents{System: active.System.Content, User: active.User.Content}
	} else {
		defaults := prompt.Defaults(docType)
		activeContents = PairContents{System: defaults.System, User: defaults.User}
	}
	candContents := PairContents{System: cand.System.Content, User: cand.User.Content}

	out := &Outcome{}

	candGolden, candErr := g.EvaluateGoldenSet(ctx, docType, candContents)
	activeGolden, activeErr := g.EvaluateGoldenSet(ctx, docType, activeContents)
	if candErr != nil || activeErr != nil {
		// The benchmark being unevaluable must not wedge evolution, so the
		// gate degrades to backtest-only.
		evalErr := candErr
		if evalErr == nil {
			evalErr = activeErr
		}
		zap.L().Warn("golden-set evaluation failed, falling back to backtest only",
			zap.String("doc_type", docType),
			zap.String("model", model),
			zap.Error(evalErr),
		)
		out.GoldenSkipped = true
	} else {
		out.CandidateGolden = candGolden.Accuracy()
		out.ActiveGolden = activeGolden.Accuracy()
		if out.CandidateGolden < out.ActiveGolden {
			return g.reject(ctx, cand, out,
				fmt.Sprintf("golden-set regression: %.2f < %.2f", out.CandidateGolden, out.ActiveGolden))
		}
	}

	candBack, err := g.Backtest(ctx, docType, model, candContents)
	if err != nil {
		return nil, err
	}
	activeBack, err := g.Backtest(ctx, docType, model, activeContents)
	if err != nil {
		return nil, err
	}
	out.CandidateBack = candBack.Accuracy()
	out.ActiveBack = activeBack.Accuracy()

	// A bootstrap system with no labeled data yet skips the margin check.
	if candBack.Total > 0 && out.CandidateBack < out.ActiveBack+BacktestMargin {
		out.Decision = DecisionHeld
		out.Reason = "backtest margin not met"
		g.record(ctx, cand, out, 0)
		zap.L().Info("candidate pair held, backtest margin not met",
			zap.String("doc_type", docType),
			zap.Float64("candidate", out.CandidateBack),
			zap.Float64("active", out.ActiveBack),
		)
		return out, nil
	}

	g.record(ctx, cand, out, 0)
	if err := g.prompts.Activate(ctx, cand.System.ID, cand.User.ID); err != nil {
		return nil, err
	}
	out.Decision = DecisionActivated
	zap.L().Info("candidate pair activated",
		zap.String("doc_type", docType),
		zap.String("model", model),
		zap.String("system_version", cand.System.ID),
		zap.String("user_version", cand.User.ID),
		zap.Float64("golden_accuracy", out.CandidateGolden),
		zap.Float64("backtest_accuracy", out.CandidateBack),
	)
	return out, nil
}

// PromoteAsync runs the gate detached from the caller's request, so feedback
// handling returns immediately. The outcome lands in the log and on the
// version records.
func (g *Gate) PromoteAsync(cand prompt.Pair) {
	go func() {
		if _, err := g.PromoteCandidate(context.Background(), cand); err != nil {
			zap.L().Error("candidate promotion failed",
				zap.String("system_version", cand.System.ID),
				zap.Error(err),
			)
		}
	}()
}

func (g *Gate) reject(ctx context.Context, cand prompt.Pair, out *Outcome, reason string) (*Outcome, error) {
	out.Decision = DecisionRejected
	out.Reason = reason
	g.record(ctx, cand, out, 1)
	if err := g.prompts.MarkRejected(ctx, cand.System.ID, reason); err != nil {
		return nil, err
	}
	if err := g.prompts.MarkRejected(ctx, cand.User.ID, reason); err != nil {
		return nil, err
	}
	zap.L().Warn("candidate pair rejected",
		zap.String("doc_type", cand.System.DocType),
		zap.String("reason", reason),
	)
	return out, nil
}

// record persists the measured accuracies on both candidate versions. Failures
// here are logged, not fatal: the measurement is advisory metadata.
func (g *Gate) record(ctx context.Context, cand prompt.Pair, out *Outcome, regressions int) {
	var golden *float64
	if !out.GoldenSkipped {
		v := out.CandidateGolden
		golden = &v
	}
	back := out.CandidateBack
	for _, id := range []string{cand.System.ID, cand.User.ID} {
		if err := g.prompts.SetAccuracies(ctx, id, &back, golden, regressions); err != nil {
			zap.L().Warn("failed to record gate accuracies",
				zap.String("version", id), zap.Error(err))
		}
	}
}
