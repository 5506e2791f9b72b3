package extraction

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/notaria-labs/registro-cli/internal/consensus"
	"github.com/notaria-labs/registro-cli/internal/layout"
	"github.com/notaria-labs/registro-cli/internal/prompt"
	"github.com/notaria-labs/registro-cli/internal/schema"
	"github.com/notaria-labs/registro-cli/internal/verify"
)

// Pipeline runs the full consensus extraction for one document.
type Pipeline struct {
	extractors []*ClaudeExtractor
	prompts    prompt.Store
	schemas    *schema.Registry
	layout     layout.Provider
	audit      AuditStore
	source     DocumentSource
}

// NewPipeline creates a Pipeline. The layout provider and audit store are
// optional; extraction proceeds without positional verification or audit
// persistence when they are nil. At least two extractors are required, and
// the first is the consensus tie-break primary.
func NewPipeline(extractors []*ClaudeExtractor, prompts prompt.Store, schemas *schema.Registry, lay layout.Provider, audit AuditStore, source DocumentSource) (*Pipeline, error) {
	if len(extractors) < 2 {
		return nil, eris.Errorf("extraction: consensus requires at least 2 extractors, got %d", len(extractors))
	}
	if source == nil {
		source = FileSource{}
	}
	return &Pipeline{
		extractors: extractors,
		prompts:    prompts,
		schemas:    schemas,
		layout:     lay,
		audit:      audit,
		source:     source,
	}, nil
}

// costTally accumulates per-extractor spend under a lock.
type costTally struct {
	mu  sync.Mutex
	sum float64
}

func (c *costTally) add(v float64) {
	c.mu.Lock()
	c.sum += v
	c.mu.Unlock()
}

func (c *costTally) total() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sum
}

// Outcome is the result of one pipeline run.
type Outcome struct {
	RunID        string                  `json:"run_id,omitempty"`
	DocumentID   string                  `json:"document_id"`
	RawSets      []consensus.RawFieldSet `json:"raw_sets"`
	Consensus    *consensus.Result       `json:"consensus"`
	Verification []verify.Result         `json:"verification,omitempty"`
	CostUSD      float64                 `json:"cost_usd"`
}

// Run extracts one document end to end: fan out to every extractor, reconcile,
// then verify against the page layout. Every extractor must succeed; a partial
// fan-out would silently weaken consensus, so the run fails naming each model
// that failed. Layout verification is best effort: the consensus result stands
// on its own when the layout service is unavailable.
func (p *Pipeline) Run(ctx context.Context, docID, docType, contentRef string) (*Outcome, error) {
	sch := p.schemas.Resolve(docType)

	runID := ""
	if p.audit != nil {
		var err error
		runID, err = p.audit.CreateRun(ctx, docID, docType)
		if err != nil {
			return nil, err
		}
	}

	out, err := p.run(ctx, docID, docType, contentRef, sch)
	if p.audit != nil && runID != "" {
		out0 := out
		if err != nil {
			if auditErr := p.audit.FailRun(ctx, runID, err); auditErr != nil {
				zap.L().Warn("failed to record run failure", zap.String("run_id", runID), zap.Error(auditErr))
			}
		} else {
			out0.RunID = runID
			if auditErr := p.audit.CompleteRun(ctx, runID, out0); auditErr != nil {
				zap.L().Warn("failed to record run completion", zap.String("run_id", runID), zap.Error(auditErr))
			}
		}
	}
	if err != nil {
		return nil, err
	}
	out.RunID = runID
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, docID, docType, contentRef string, sch schema.Schema) (*Outcome, error) {
	document, err := p.source.Fetch(ctx, contentRef)
	if err != nil {
		return nil, err
	}

	sets := make([]consensus.RawFieldSet, len(p.extractors))
	var mu sync.Mutex
	var failures []string
	var costs costTally

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(p.extractors))
	for i, ex := range p.extractors {
		g.Go(func() error {
			system, user, err := PromptContents(gctx, p.prompts, docType, ex.Model())
			if err == nil {
				var fields map[string]string
				var cost float64
				fields, cost, err = ex.Extract(gctx, sch, system, user, document)
				if err == nil {
					sets[i] = consensus.RawFieldSet{Extractor: ex.Model(), Fields: fields}
					costs.add(cost)
					return nil
				}
			}
			mu.Lock()
			failures = append(failures, ex.Model()+": "+err.Error())
			mu.Unlock()
			// Recorded rather than returned so every failure is named, not
			// just the first.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(failures) > 0 {
		return nil, eris.Errorf("extraction: %d of %d extractors failed: %s",
			len(failures), len(p.extractors), strings.Join(failures, "; "))
	}

	result, err := consensus.Reconcile(sets, sch)
	if err != nil {
		return nil, err
	}

	out := &Outcome{DocumentID: docID, RawSets: sets, Consensus: result, CostUSD: costs.total()}

	if p.layout != nil {
		lay, err := p.layout.Layout(ctx, contentRef)
		if err != nil {
			zap.L().Warn("layout analysis unavailable, skipping verification",
				zap.String("document_id", docID),
				zap.Error(err),
			)
		} else {
			out.Verification = verify.Verify(lay, verify.ChecksFromConsensus(result, sch))
			verify.ApplyVeto(result, out.Verification)
		}
	}

	zap.L().Info("extraction run reconciled",
		zap.String("document_id", docID),
		zap.String("doc_type", docType),
		zap.String("tier", string(result.Tier)),
		zap.Strings("discrepancies", result.Discrepancies),
	)
	return out, nil
}
