// Package analysis runs skin analysis requests end to end: audit copy,
// pipeline and persisted record
package analysis

import (
	"context"
	"errors"
	"strings"
	"time"

	"skin-api/internal/audit"
	"skin-api/internal/database"
	"skin-api/internal/metrics"
	"skin-api/internal/pipeline"
	"skin-api/internal/reasoning"
	"skin-api/internal/shared"

	"go.uber.org/zap"
)

type Recorder interface {
	Record(rec *database.AnalysisRecord) <-chan struct{}
	Get(ctx context.Context, requestID string) (*database.AnalysisRecord, error)
}

type AnalysisHandler struct {
	Orchestrator *pipeline.Orchestrator
	Audit        *audit.Dir
	Records      Recorder
	Log          *zap.SugaredLogger
}

func NewAnalysisHandler(orch *pipeline.Orchestrator, auditDir *audit.Dir, records Recorder, log *zap.SugaredLogger) (*AnalysisHandler, error) {
	if orch == nil {
		return nil, errors.New("analysis handler requires an orchestrator")
	}
	if auditDir == nil {
		return nil, errors.New("analysis handler requires an audit dir")
	}
	return &AnalysisHandler{
		Orchestrator: orch,
		Audit:        auditDir,
		Records:      records,
		Log:          shared.OrNop(log),
	}, nil
}

type AnalyzeInput struct {
	Ctx       context.Context
	RequestID string
	Endpoint  string
	Image     pipeline.UploadedImage
	Question  string
	Log       *zap.SugaredLogger

	// SkipReasoning stops after the vision stage
	SkipReasoning bool
	// StreamWriter receives reasoning fragments as they arrive
	StreamWriter reasoning.FragmentFunc
}

type AnalyzeOutput struct {
	RequestID string
	AuditName string
	AuditPath string
	Result    pipeline.AnalysisResult
	Duration  time.Duration

	// Stage tagged pipeline failure, Result holds what was produced before it
	Error error
}

type SavedImage struct {
	Name string
	Path string
}

// SaveImage only validates and writes the audit copy
func (h *AnalysisHandler) SaveImage(img pipeline.UploadedImage) (*SavedImage, error) {
	if err := pipeline.Validate(img); err != nil {
		return nil, &pipeline.StageError{Stage: pipeline.StageValidate, Kind: pipeline.KindValidation, Err: err}
	}
	name, path, err := h.Audit.Save(img.Filename, img.Data)
	if err != nil {
		return nil, err
	}
	return &SavedImage{Name: name, Path: path}, nil
}

// Analyze never returns a Go error for pipeline failures; they are carried in
// AnalyzeOutput.Error so the caller decides how to surface partial results
func (h *AnalysisHandler) Analyze(input AnalyzeInput) *AnalyzeOutput {
	log := input.Log
	if log == nil {
		log = h.Log
	}
	if strings.TrimSpace(input.Question) == "" {
		input.Question = shared.DefaultQuestion
	}
	start := time.Now()
	out := &AnalyzeOutput{RequestID: input.RequestID}

	metrics.InflightRequests.WithLabelValues(input.Endpoint).Inc()
	defer metrics.InflightRequests.WithLabelValues(input.Endpoint).Dec()

	if err := pipeline.Validate(input.Image); err != nil {
		out.Error = &pipeline.StageError{Stage: pipeline.StageValidate, Kind: pipeline.KindValidation, Err: err}
		h.observe(input.Endpoint, out, start)
		return out
	}

	name, path, err := h.Audit.Save(input.Image.Filename, input.Image.Data)
	if err != nil {
		log.Warnw("Failed to write audit copy", "error", err)
	}
	out.AuditName = name
	out.AuditPath = path

	orch := h.Orchestrator.WithLogger(log)
	if input.SkipReasoning {
		out.Result, out.Error = orch.Analyze(input.Ctx, input.Image)
	} else {
		out.Result, out.Error = orch.RunStream(input.Ctx, input.Image, input.Question, input.StreamWriter)
	}
	h.observe(input.Endpoint, out, start)

	if out.Result.ImageURL != "" && h.Records != nil {
		h.Records.Record(h.record(input, out))
	}
	return out
}

func (h *AnalysisHandler) observe(endpoint string, out *AnalyzeOutput, start time.Time) {
	out.Duration = time.Since(start)
	status := "success"
	if out.Error != nil {
		status = "error"
	}
	metrics.RequestCount.WithLabelValues(endpoint, status).Inc()
	metrics.RequestDuration.WithLabelValues(endpoint, status).Observe(out.Duration.Seconds())
}

func (h *AnalysisHandler) record(input AnalyzeInput, out *AnalyzeOutput) *database.AnalysisRecord {
	rec := &database.AnalysisRecord{
		RequestID:       out.RequestID,
		ObjectName:      out.Result.ObjectName,
		ImageURL:        out.Result.ImageURL,
		AuditName:       out.AuditName,
		Question:        input.Question,
		Findings:        out.Result.Findings,
		Reasoning:       out.Result.Reasoning.Reasoning,
		Answer:          out.Result.Reasoning.Answer,
		ReasoningStatus: string(out.Result.Reasoning.Status),
		Status:          database.StatusCompleted,
		CreatedAt:       time.Now().UTC(),
	}
	if rec.ReasoningStatus == "" {
		rec.ReasoningStatus = string(reasoning.StatusPending)
	}
	var serr *pipeline.StageError
	if errors.As(out.Error, &serr) {
		rec.Status = database.StatusFailed
		rec.FailedStage = string(serr.Stage)
		rec.ErrorKind = string(serr.Kind)
		rec.ErrorMessage = serr.Message()
	}
	return rec
}

// GetAnalysis returns a persisted record
func (h *AnalysisHandler) GetAnalysis(ctx context.Context, requestID string) (*database.AnalysisRecord, error) {
	if h.Records == nil {
		return nil, database.ErrNotFound
	}
	return h.Records.Get(ctx, requestID)
}
