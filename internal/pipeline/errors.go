package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"skin-api/internal/reasoning"
	"skin-api/internal/shared"
	"skin-api/internal/vision"
)

type Stage string

const (
	StageValidate  Stage = "validate"
	StageStore     Stage = "store"
	StageVision    Stage = "vision"
	StagePrompt    Stage = "prompt"
	StageReasoning Stage = "reasoning"
)

type Kind string

const (
	KindValidation       Kind = "validation_error"
	KindStoreUnavailable Kind = "store_unavailable"
	KindStoreRejected    Kind = "store_rejected"
	KindInvalidInput     Kind = "invalid_input"
	KindServiceError     Kind = "service_error"
	KindTemplateError    Kind = "template_error"
	KindModelUnavailable Kind = "model_unavailable"
	KindStreamFailed     Kind = "stream_failed"
	KindTimeout          Kind = "timeout"
	KindCanceled         Kind = "canceled"
)

// StatusClientClosedRequest is the non standard status used when the caller
// went away before the pipeline finished
const StatusClientClosedRequest = 499

var ErrValidation = errors.New("validation failed")

var kindStatus = map[Kind]int{
	KindValidation:       http.StatusBadRequest,
	KindInvalidInput:     http.StatusUnprocessableEntity,
	KindStoreRejected:    http.StatusBadGateway,
	KindStoreUnavailable: http.StatusServiceUnavailable,
	KindServiceError:     http.StatusBadGateway,
	KindTemplateError:    http.StatusInternalServerError,
	KindModelUnavailable: http.StatusServiceUnavailable,
	KindStreamFailed:     http.StatusBadGateway,
	KindTimeout:          http.StatusGatewayTimeout,
	KindCanceled:         StatusClientClosedRequest,
}

var kindMessage = map[Kind]string{
	KindValidation:       "invalid request",
	KindInvalidInput:     "the image could not be analyzed",
	KindStoreRejected:    "image storage rejected the upload",
	KindStoreUnavailable: "image storage is unavailable",
	KindServiceError:     "skin analysis service failed",
	KindTemplateError:    "failed to build the analysis prompt",
	KindModelUnavailable: "reasoning model is unavailable",
	KindStreamFailed:     "reasoning stream failed",
	KindTimeout:          "request timed out",
	KindCanceled:         "request canceled",
}

// StageError tags a failure with the pipeline stage that produced it. The
// cause is kept unchanged and reachable through errors.Is and errors.As.
type StageError struct {
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Message is the human readable text shown to the caller
func (e *StageError) Message() string {
	msg := kindMessage[e.Kind]
	var serr *vision.ServiceError
	switch {
	case e.Kind == KindValidation && e.Err != nil:
		return e.Err.Error()
	case errors.As(e.Err, &serr):
		if serr.Message != "" {
			msg += ": " + serr.Message
		}
		if serr.Recommend != "" {
			msg += " (" + serr.Recommend + ")"
		}
	}
	return msg
}

func (e *StageError) HTTPStatus() int {
	if status, ok := kindStatus[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// HTTPStatus maps any error to a response code. Stage errors use their kind,
// request errors their status code, everything else is a 500.
func HTTPStatus(err error) int {
	var serr *StageError
	if errors.As(err, &serr) {
		return serr.HTTPStatus()
	}
	var rerr *shared.RequestError
	if errors.As(err, &rerr) {
		return rerr.StatusCode
	}
	return http.StatusInternalServerError
}

func classify(stage Stage, err error) Kind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	switch stage {
	case StageStore:
		if errors.Is(err, shared.ErrStoreRejected) {
			return KindStoreRejected
		}
		return KindStoreUnavailable
	case StageVision:
		if errors.Is(err, vision.ErrInvalidInput) {
			return KindInvalidInput
		}
		return KindServiceError
	case StagePrompt:
		return KindTemplateError
	case StageReasoning:
		if errors.Is(err, reasoning.ErrModelUnavailable) {
			return KindModelUnavailable
		}
		return KindStreamFailed
	default:
		return KindValidation
	}
}
