package shared

import (
	"errors"
	"fmt"
)

// RequestError is used when we want a specific error message and StatusCode.
// sane defaults are listed below. Handlers expect the router to return the
// exact message inside the request error msg.
//
// Error codes should be bubbled where the RequestError msg is expected to be
// returned to the user. If the user should see a generic error message but
// the error chain should include more detail for logging purposes, then a generic
// error should be added that provides context
type RequestError struct {
	StatusCode int
	Err        error
}

func (r *RequestError) Error() string {
	return fmt.Sprintf("status %d: err %v", r.StatusCode, r.Err)
}

func (r *RequestError) Unwrap() error {
	return r.Err
}

var (
	ErrMissingAuth   = &RequestError{Err: errors.New("missing authorization header"), StatusCode: 401}
	ErrInvalidFormat = &RequestError{Err: errors.New("invalid authentication format"), StatusCode: 401}
	ErrInvalidKeyLen = &RequestError{Err: errors.New("invalid API key length"), StatusCode: 401}

	ErrMissingFile     = &RequestError{Err: errors.New("no image file provided"), StatusCode: 400}
	ErrFileTooLarge    = &RequestError{Err: errors.New("file too large"), StatusCode: 413}
	ErrTooManyRequests = &RequestError{Err: errors.New("too many requests, please slow down"), StatusCode: 429}

	ErrInternalServerError = &RequestError{Err: errors.New("internal server error"), StatusCode: 500}
	ErrBadRequest          = &RequestError{Err: errors.New("bad request"), StatusCode: 400}

	ErrFailedModelReq         = &MetricsError{Msg: "failed to send http request to model", Code: "model_http_err"}
	ErrFailedModelReqFromCode = &MetricsError{Msg: "model responded with non-200", Code: "model_http_status_err"}
	ErrFailedReadingResponse  = &MetricsError{Msg: "failed to read model response", Code: "model_response_err"}
	ErrMissingDoneToken       = &MetricsError{Msg: "missing [DONE] token", Code: "missing_done_token"}
	ErrModelContext           = &MetricsError{Msg: "model context canceled", Code: "model_context_err"}
	ErrModelErrorChunk        = &MetricsError{Msg: "model streamed an error chunk", Code: "model_error_chunk"}
	ErrStoreRejected          = &MetricsError{Msg: "object store rejected upload", Code: "store_rejected"}
	ErrStoreUnreachable       = &MetricsError{Msg: "object store unreachable", Code: "store_unreachable"}
)

type MetricsError struct {
	Msg  string
	Code string
}

func (m *MetricsError) Error() string {
	return m.String()
}

func (m *MetricsError) String() string {
	return m.Msg
}

// MetricsCode returns the code of the first MetricsError in the chain, or
// fallback when there is none
func MetricsCode(err error, fallback string) string {
	var merr *MetricsError
	if errors.As(err, &merr) {
		return merr.Code
	}
	return fallback
}
