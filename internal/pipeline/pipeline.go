// Package pipeline drives one analysis request through the store, vision,
// prompt and reasoning stages
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"skin-api/internal/metrics"
	"skin-api/internal/prompt"
	"skin-api/internal/reasoning"
	"skin-api/internal/shared"
	"skin-api/internal/storage"
	"skin-api/internal/vision"

	"go.uber.org/zap"
)

type Store interface {
	Upload(ctx context.Context, body io.ReadCloser, size int64, contentType, originalName string) (storage.ObjectReference, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, imageURL string) (vision.Findings, error)
}

type Reasoner interface {
	Complete(ctx context.Context, prompt, model string, onFragment reasoning.FragmentFunc) (reasoning.Result, error)
}

// UploadedImage is consumed once by the store stage
type UploadedImage struct {
	Data        []byte
	ContentType string
	Filename    string
}

// AnalysisResult holds whatever the stages produced. After a failure it is
// still filled up to the failing stage.
type AnalysisResult struct {
	ImageURL   string           `json:"image_url"`
	ObjectName string           `json:"object_name"`
	Findings   vision.Findings  `json:"analysis"`
	Reasoning  reasoning.Result `json:"ai_reasoning"`
}

type Orchestrator struct {
	store    Store
	analyzer Analyzer
	reasoner Reasoner
	template *prompt.Template
	model    string
	log      *zap.SugaredLogger
}

func New(store Store, analyzer Analyzer, reasoner Reasoner, tmpl *prompt.Template, model string, log *zap.SugaredLogger) (*Orchestrator, error) {
	switch {
	case store == nil:
		return nil, errors.New("pipeline store is required")
	case analyzer == nil:
		return nil, errors.New("pipeline analyzer is required")
	case reasoner == nil:
		return nil, errors.New("pipeline reasoner is required")
	case tmpl == nil:
		return nil, errors.New("pipeline prompt template is required")
	case model == "":
		return nil, errors.New("pipeline model name is required")
	}
	return &Orchestrator{
		store:    store,
		analyzer: analyzer,
		reasoner: reasoner,
		template: tmpl,
		model:    model,
		log:      shared.OrNop(log),
	}, nil
}

// WithLogger returns a copy logging through log
func (o *Orchestrator) WithLogger(log *zap.SugaredLogger) *Orchestrator {
	cp := *o
	cp.log = shared.OrNop(log)
	return &cp
}

// Run executes every stage in order and stops at the first failure
func (o *Orchestrator) Run(ctx context.Context, img UploadedImage, question string) (AnalysisResult, error) {
	return o.RunStream(ctx, img, question, nil)
}

// RunStream is Run with reasoning fragments forwarded to onFragment as they
// arrive
func (o *Orchestrator) RunStream(ctx context.Context, img UploadedImage, question string, onFragment reasoning.FragmentFunc) (AnalysisResult, error) {
	res, err := o.Analyze(ctx, img)
	if err != nil {
		return res, err
	}
	if strings.TrimSpace(question) == "" {
		question = shared.DefaultQuestion
	}

	var text string
	err = o.stage(StagePrompt, func() error {
		var aerr error
		text, aerr = prompt.Assemble(o.template, res.Findings, question)
		return aerr
	})
	if err != nil {
		return res, err
	}

	err = o.stage(StageReasoning, func() error {
		var rerr error
		res.Reasoning, rerr = o.reasoner.Complete(ctx, text, o.model, onFragment)
		return rerr
	})
	return res, err
}

// Analyze runs validation, store and vision only
func (o *Orchestrator) Analyze(ctx context.Context, img UploadedImage) (AnalysisResult, error) {
	var res AnalysisResult
	if err := o.stage(StageValidate, func() error { return Validate(img) }); err != nil {
		return res, err
	}

	err := o.stage(StageStore, func() error {
		ref, uerr := o.store.Upload(ctx, io.NopCloser(bytes.NewReader(img.Data)), int64(len(img.Data)), img.ContentType, img.Filename)
		if uerr != nil {
			return uerr
		}
		res.ImageURL = ref.URL
		res.ObjectName = ref.Name
		return nil
	})
	if err != nil {
		return res, err
	}
	o.log.Infow("Image stored", "object_name", res.ObjectName, "image_url", res.ImageURL)

	err = o.stage(StageVision, func() error {
		var verr error
		res.Findings, verr = o.analyzer.Analyze(ctx, res.ImageURL)
		return verr
	})
	return res, err
}

func (o *Orchestrator) stage(stage Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	if err == nil {
		return nil
	}
	serr := &StageError{Stage: stage, Kind: classify(stage, err), Err: err}
	metrics.ErrorCount.WithLabelValues(string(stage), string(serr.Kind), shared.MetricsCode(err, string(serr.Kind))).Inc()
	o.log.Warnw("Pipeline stage failed",
		"stage", stage,
		"kind", serr.Kind,
		"duration", time.Since(start).String(),
		"error", err)
	return serr
}

// Validate rejects anything that is not a non empty image/* upload
func Validate(img UploadedImage) error {
	if len(img.Data) == 0 {
		return fmt.Errorf("%w: no image data provided", ErrValidation)
	}
	mediaType, _, err := mime.ParseMediaType(img.ContentType)
	if err != nil {
		return fmt.Errorf("%w: invalid content type %q", ErrValidation, img.ContentType)
	}
	if !strings.HasPrefix(mediaType, "image/") || mediaType == "image/" {
		return fmt.Errorf("%w: file must be an image, got %q", ErrValidation, mediaType)
	}
	return nil
}
