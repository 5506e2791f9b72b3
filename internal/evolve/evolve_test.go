package evolve

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notaria-labs/registro-cli/internal/feedback"
	"github.com/notaria-labs/registro-cli/internal/prompt"
	"github.com/notaria-labs/registro-cli/pkg/anthropic"
)

type fakePromptStore struct {
	active  *prompt.Pair
	created []prompt.NewVersion
	nextID  int
}

func (f *fakePromptStore) Create(_ context.Context, nv prompt.NewVersion) (*prompt.Version, error) {
	f.created = append(f.created, nv)
	f.nextID++
	number := 1
	if nv.ParentID != nil {
		number = 3
	}
	return &prompt.Version{
		ID: string(rune('a' + f.nextID - 1)), DocType: nv.DocType, Model: nv.Model,
		Role: nv.Role, VersionNumber: number, Content: nv.Content,
		ParentVersionID: nv.ParentID, Status: prompt.StatusCandidate,
	}, nil
}

func (f *fakePromptStore) Get(context.Context, string) (*prompt.Version, error) { return nil, nil }
func (f *fakePromptStore) GetActive(context.Context, string, string) (*prompt.Pair, error) {
	return f.active, nil
}
func (f *fakePromptStore) Activate(context.Context, string, string) error     { return nil }
func (f *fakePromptStore) MarkRejected(context.Context, string, string) error { return nil }
func (f *fakePromptStore) SetAccuracies(context.Context, string, *float64, *float64, int) error {
	return nil
}
func (f *fakePromptStore) List(context.Context, string, string) ([]prompt.Version, error) {
	return nil, nil
}
func (f *fakePromptStore) Lineage(context.Context, string) ([]prompt.Version, error) {
	return nil, nil
}

type fakeFeedbackStore struct {
	entry    feedback.QueueEntry
	examples []feedback.IncorrectExample
	resets   int
}

func (f *fakeFeedbackStore) Record(context.Context, feedback.Feedback) (*feedback.QueueEntry, error) {
	return nil, nil
}
func (f *fakeFeedbackStore) Queue(context.Context, string, string) (*feedback.QueueEntry, error) {
	e := f.entry
	return &e, nil
}
func (f *fakeFeedbackStore) RecentIncorrect(context.Context, string, string, int) ([]feedback.IncorrectExample, error) {
	return f.examples, nil
}
func (f *fakeFeedbackStore) BacktestSamples(context.Context, string, string, int) ([]feedback.BacktestSample, error) {
	return nil, nil
}
func (f *fakeFeedbackStore) ResetCounters(context.Context, string, string) error {
	f.resets++
	return nil
}

type fakeClient struct {
	response string
	err      error
	requests []anthropic.MessageRequest
}

func (f *fakeClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: f.response}},
	}, nil
}

func triggeredQueue() feedback.QueueEntry {
	return feedback.QueueEntry{
		DocType: "acta_constitutiva", Model: "claude-haiku-4-5-20251001",
		FeedbackCount: 7, IncorrectCount: 3,
		Histogram: map[feedback.Category]int{
			feedback.CategoryAccent:  2,
			feedback.CategoryNumeric: 1,
		},
	}
}

func TestEvolveCreatesLinkedCandidatePair(t *testing.T) {
	sysID, usrID := "sys-active", "usr-active"
	ps := &fakePromptStore{active: &prompt.Pair{
		System: &prompt.Version{ID: sysID, Content: "old system", Role: prompt.RoleSystem},
		User:   &prompt.Version{ID: usrID, Content: "old user", Role: prompt.RoleUser},
	}}
	fs := &fakeFeedbackStore{entry: triggeredQueue(), examples: []feedback.IncorrectExample{
		{Field: "denominacion_social", WrongValue: "Pena SA", Reason: "faltó el acento", Category: feedback.CategoryAccent},
	}}
	client := &fakeClient{response: `{"system_prompt":"nuevo sistema","user_prompt":"nuevo {{fields}} {{document}}","change_summary":"refuerza acentos"}`}

	e := NewEvolver(ps, fs, client, "claude-sonnet-4-5-20250929", 0)
	cand, err := e.Evolve(context.Background(), "acta_constitutiva", "claude-haiku-4-5-20251001")
	require.NoError(t, err)

	require.Len(t, ps.created, 2)
	assert.Equal(t, prompt.RoleSystem, ps.created[0].Role)
	require.NotNil(t, ps.created[0].ParentID)
	assert.Equal(t, sysID, *ps.created[0].ParentID)
	assert.Equal(t, prompt.RoleUser, ps.created[1].Role)
	require.NotNil(t, ps.created[1].ParentID)
	assert.Equal(t, usrID, *ps.created[1].ParentID)
	assert.Equal(t, "evolver", ps.created[0].CreatedBy)
	assert.Equal(t, 2, ps.created[0].TriggerHistogram["accent_error"])
	assert.Equal(t, "refuerza acentos", ps.created[0].ChangeSummary)

	assert.Equal(t, "nuevo sistema", cand.System.Content)
	assert.Equal(t, 1, fs.resets, "counters reset after success")

	// The rewrite model sees the evidence, not the extraction model.
	require.Len(t, client.requests, 1)
	assert.Equal(t, "claude-sonnet-4-5-20250929", client.requests[0].Model)
	assert.Contains(t, client.requests[0].Messages[0].Content, "accent_error: 2")
	assert.Contains(t, client.requests[0].Messages[0].Content, "old system")
	assert.Contains(t, client.requests[0].Messages[0].Content, "faltó el acento")
}

func TestEvolveFallsBackToDefaultsAsRoot(t *testing.T) {
	ps := &fakePromptStore{active: nil}
	fs := &fakeFeedbackStore{entry: triggeredQueue()}
	client := &fakeClient{response: `{"system_prompt":"s","user_prompt":"u","change_summary":"c"}`}

	e := NewEvolver(ps, fs, client, "m", 10)
	_, err := e.Evolve(context.Background(), "acta_constitutiva", "claude-haiku-4-5-20251001")
	require.NoError(t, err)

	require.Len(t, ps.created, 2)
	assert.Nil(t, ps.created[0].ParentID, "defaults have no stored parent")
	assert.Contains(t, client.requests[0].Messages[0].Content, "{{fields}}",
		"default user prompt shown to rewrite model")
}

func TestEvolveRefusesWithoutTrigger(t *testing.T) {
	fs := &fakeFeedbackStore{entry: feedback.QueueEntry{FeedbackCount: 2}}
	e := NewEvolver(&fakePromptStore{}, fs, &fakeClient{}, "m", 10)
	_, err := e.Evolve(context.Background(), "acta_constitutiva", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no evolution warranted")
}

func TestEvolveParseFailurePreservesCounters(t *testing.T) {
	ps := &fakePromptStore{}
	fs := &fakeFeedbackStore{entry: triggeredQueue()}
	client := &fakeClient{response: "no JSON here"}

	e := NewEvolver(ps, fs, client, "m", 10)
	_, err := e.Evolve(context.Background(), "acta_constitutiva", "m")
	require.Error(t, err)
	assert.Empty(t, ps.created, "no candidate stored on parse failure")
	assert.Equal(t, 0, fs.resets, "counters untouched so the trigger re-fires")
}

func TestEvolveAPIErrorPreservesCounters(t *testing.T) {
	fs := &fakeFeedbackStore{entry: triggeredQueue()}
	client := &fakeClient{err: eris.New("api down")}

	e := NewEvolver(&fakePromptStore{}, fs, client, "m", 10)
	_, err := e.Evolve(context.Background(), "acta_constitutiva", "m")
	require.Error(t, err)
	assert.Equal(t, 0, fs.resets)
}

func TestParseRewriteToleratesFences(t *testing.T) {
	out, err := parseRewrite("Claro, aquí está:\n```json\n{\"system_prompt\":\"s\",\"user_prompt\":\"u\",\"change_summary\":\"c\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "s", out.SystemPrompt)

	_, err = parseRewrite(`{"system_prompt":"s"}`)
	require.Error(t, err, "missing user_prompt rejected")
}
