package analysis

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"skin-api/internal/audit"
	"skin-api/internal/database"
	"skin-api/internal/pipeline"
	"skin-api/internal/prompt"
	"skin-api/internal/reasoning"
	"skin-api/internal/shared"
	"skin-api/internal/storage"
	"skin-api/internal/vision"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubStore struct {
	err   error
	calls int
}

func (s *stubStore) Upload(_ context.Context, body io.ReadCloser, _ int64, _, _ string) (storage.ObjectReference, error) {
	defer func() { _ = body.Close() }()
	s.calls++
	if s.err != nil {
		return storage.ObjectReference{}, s.err
	}
	return storage.ObjectReference{Name: "uploads/abc.jpg", URL: "https://bucket.example.com/uploads/abc.jpg"}, nil
}

type stubAnalyzer struct {
	err error
}

func (s *stubAnalyzer) Analyze(context.Context, string) (vision.Findings, error) {
	if s.err != nil {
		return vision.Findings{}, s.err
	}
	return vision.NewFindings(map[string]any{"acne": 0.8}), nil
}

type stubReasoner struct {
	err      error
	question string
}

func (s *stubReasoner) Complete(_ context.Context, text, _ string, onFragment reasoning.FragmentFunc) (reasoning.Result, error) {
	s.question = text
	if s.err != nil {
		return reasoning.Result{Reasoning: "partial", Status: reasoning.StatusFailed}, s.err
	}
	if onFragment != nil {
		_ = onFragment(reasoning.ChannelReasoning, "think")
		_ = onFragment(reasoning.ChannelAnswer, "answer")
	}
	return reasoning.Result{Reasoning: "think", Answer: "answer", Status: reasoning.StatusCompleted}, nil
}

type memRecords struct {
	mu   sync.Mutex
	recs map[string]*database.AnalysisRecord
}

func (m *memRecords) Record(rec *database.AnalysisRecord) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recs == nil {
		m.recs = map[string]*database.AnalysisRecord{}
	}
	m.recs[rec.RequestID] = rec
	done := make(chan struct{})
	close(done)
	return done
}

func (m *memRecords) Get(_ context.Context, id string) (*database.AnalysisRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return rec, nil
}

type harness struct {
	handler  *AnalysisHandler
	store    *stubStore
	analyzer *stubAnalyzer
	reasoner *stubReasoner
	records  *memRecords
	dir      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    &stubStore{},
		analyzer: &stubAnalyzer{},
		reasoner: &stubReasoner{},
		records:  &memRecords{},
		dir:      t.TempDir(),
	}
	log := zap.NewNop().Sugar()
	orch, err := pipeline.New(h.store, h.analyzer, h.reasoner, prompt.Default(), "deepseek-reasoner", log)
	require.NoError(t, err)
	dir, err := audit.NewDir(h.dir)
	require.NoError(t, err)
	h.handler, err = NewAnalysisHandler(orch, dir, h.records, log)
	require.NoError(t, err)
	return h
}

func jpeg() pipeline.UploadedImage {
	return pipeline.UploadedImage{Data: []byte("jpeg-bytes"), ContentType: "image/jpeg", Filename: "face.JPG"}
}

func TestNewAnalysisHandlerRequiresDependencies(t *testing.T) {
	_, err := NewAnalysisHandler(nil, nil, nil, zap.NewNop().Sugar())
	assert.Error(t, err)
}

func TestAnalyzeFullRun(t *testing.T) {
	h := newHarness(t)
	var fragments []string
	out := h.handler.Analyze(AnalyzeInput{
		Ctx:       context.Background(),
		RequestID: "req_1",
		Endpoint:  "analyze",
		Image:     jpeg(),
		StreamWriter: func(ch reasoning.Channel, frag string) error {
			fragments = append(fragments, string(ch)+":"+frag)
			return nil
		},
	})

	require.NoError(t, out.Error)
	assert.Equal(t, "https://bucket.example.com/uploads/abc.jpg", out.Result.ImageURL)
	assert.Equal(t, reasoning.StatusCompleted, out.Result.Reasoning.Status)
	assert.Equal(t, []string{"reasoning:think", "answer:answer"}, fragments)
	assert.Contains(t, h.reasoner.question, shared.DefaultQuestion)

	require.NotEmpty(t, out.AuditName)
	assert.Equal(t, ".jpg", filepath.Ext(out.AuditName))
	data, err := os.ReadFile(out.AuditPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)

	rec, err := h.handler.GetAnalysis(context.Background(), "req_1")
	require.NoError(t, err)
	assert.Equal(t, database.StatusCompleted, rec.Status)
	assert.Equal(t, shared.DefaultQuestion, rec.Question)
	assert.Equal(t, "answer", rec.Answer)
	assert.Equal(t, out.AuditName, rec.AuditName)
}

func TestAnalyzeRejectsNonImageWithoutSideEffects(t *testing.T) {
	h := newHarness(t)
	out := h.handler.Analyze(AnalyzeInput{
		Ctx:       context.Background(),
		RequestID: "req_2",
		Image:     pipeline.UploadedImage{Data: []byte("%PDF"), ContentType: "application/pdf", Filename: "doc.pdf"},
	})

	var serr *pipeline.StageError
	require.ErrorAs(t, out.Error, &serr)
	assert.Equal(t, pipeline.StageValidate, serr.Stage)
	assert.Equal(t, 0, h.store.calls)
	assert.Empty(t, out.AuditName)

	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = h.handler.GetAnalysis(context.Background(), "req_2")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestAnalyzeStoreFailureIsNotRecorded(t *testing.T) {
	h := newHarness(t)
	h.store.err = shared.ErrStoreUnreachable
	out := h.handler.Analyze(AnalyzeInput{Ctx: context.Background(), RequestID: "req_3", Image: jpeg()})

	var serr *pipeline.StageError
	require.ErrorAs(t, out.Error, &serr)
	assert.Equal(t, pipeline.StageStore, serr.Stage)
	assert.NotEmpty(t, out.AuditName)

	_, err := h.handler.GetAnalysis(context.Background(), "req_3")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestAnalyzeReasoningFailureRecordsPartialResult(t *testing.T) {
	h := newHarness(t)
	h.reasoner.err = errors.Join(reasoning.ErrStreamFailed, shared.ErrMissingDoneToken)
	out := h.handler.Analyze(AnalyzeInput{Ctx: context.Background(), RequestID: "req_4", Image: jpeg(), Question: "痘痘严重吗？"})

	var serr *pipeline.StageError
	require.ErrorAs(t, out.Error, &serr)
	assert.Equal(t, pipeline.StageReasoning, serr.Stage)
	assert.False(t, out.Result.Findings.Empty())

	rec, err := h.handler.GetAnalysis(context.Background(), "req_4")
	require.NoError(t, err)
	assert.Equal(t, database.StatusFailed, rec.Status)
	assert.Equal(t, string(pipeline.StageReasoning), rec.FailedStage)
	assert.Equal(t, string(pipeline.KindStreamFailed), rec.ErrorKind)
	assert.Equal(t, "partial", rec.Reasoning)
	assert.Equal(t, "痘痘严重吗？", rec.Question)
}

func TestAnalyzeSkipReasoning(t *testing.T) {
	h := newHarness(t)
	out := h.handler.Analyze(AnalyzeInput{Ctx: context.Background(), RequestID: "req_5", Image: jpeg(), SkipReasoning: true})

	require.NoError(t, out.Error)
	assert.Empty(t, h.reasoner.question)
	assert.False(t, out.Result.Findings.Empty())

	rec, err := h.handler.GetAnalysis(context.Background(), "req_5")
	require.NoError(t, err)
	assert.Equal(t, string(reasoning.StatusPending), rec.ReasoningStatus)
}

func TestSaveImage(t *testing.T) {
	h := newHarness(t)
	saved, err := h.handler.SaveImage(jpeg())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.dir, saved.Name), saved.Path)
	assert.Equal(t, 0, h.store.calls)

	_, err = h.handler.SaveImage(pipeline.UploadedImage{ContentType: "image/png"})
	assert.Equal(t, 400, pipeline.HTTPStatus(err))
}
