// Package routers
package routers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"skin-api/internal/ctx"
	"skin-api/internal/pipeline"
	"skin-api/internal/shared"

	"github.com/labstack/echo/v4"
)

// readImage pulls the multipart "file" field into memory
func readImage(c *ctx.Context) (pipeline.UploadedImage, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return pipeline.UploadedImage{}, formError(err)
	}
	if fh.Size > shared.MaxUploadSize {
		return pipeline.UploadedImage{}, shared.ErrFileTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return pipeline.UploadedImage{}, errors.Join(shared.ErrBadRequest, err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, shared.MaxUploadSize+1))
	if err != nil {
		return pipeline.UploadedImage{}, errors.Join(shared.ErrBadRequest, err)
	}
	if int64(len(data)) > shared.MaxUploadSize {
		return pipeline.UploadedImage{}, shared.ErrFileTooLarge
	}
	c.LogValues.ImageBytes = len(data)
	return pipeline.UploadedImage{
		Data:        data,
		ContentType: fh.Header.Get("Content-Type"),
		Filename:    fh.Filename,
	}, nil
}

// formError maps multipart parsing failures to request errors. Body limits
// surface either as *http.MaxBytesError or, from echo's BodyLimit on
// chunked bodies, as *echo.HTTPError.
func formError(err error) error {
	if errors.Is(err, http.ErrMissingFile) {
		return shared.ErrMissingFile
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return shared.ErrFileTooLarge
	}
	var herr *echo.HTTPError
	if errors.As(err, &herr) {
		if herr.Code == http.StatusRequestEntityTooLarge {
			return shared.ErrFileTooLarge
		}
		return &shared.RequestError{StatusCode: herr.Code, Err: err}
	}
	return errors.Join(shared.ErrBadRequest, err)
}

func errorBody(err error) shared.ErrorBody {
	body := shared.ErrorBody{Status: "error", Message: shared.ErrInternalServerError.Err.Error()}
	var serr *pipeline.StageError
	var rerr *shared.RequestError
	switch {
	case errors.As(err, &serr):
		body.Stage = string(serr.Stage)
		body.Kind = string(serr.Kind)
		body.Message = serr.Message()
	case errors.As(err, &rerr):
		body.Message = rerr.Err.Error()
	}
	return body
}

func writeError(c *ctx.Context, err error) error {
	c.LogValues.AddError(err)
	var serr *pipeline.StageError
	if errors.As(err, &serr) {
		c.LogValues.Stage = string(serr.Stage)
		c.LogValues.Kind = string(serr.Kind)
	}
	return c.JSON(pipeline.HTTPStatus(err), errorBody(err))
}

func setupSSEHeaders(c *ctx.Context) {
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
}

func createStreamCallback(c *ctx.Context) func(token string) error {
	return func(token string) error {
		if c.Request().Context().Err() != nil {
			return c.Request().Context().Err()
		}
		_, err := fmt.Fprintf(c.Response(), "%s\n\n", token)
		if err != nil {
			return err
		}
		c.Response().Flush()
		return nil
	}
}

// sendEvent writes one named SSE event with a json payload
func sendEvent(send func(string) error, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return send(fmt.Sprintf("event: %s\ndata: %s", event, data))
}
