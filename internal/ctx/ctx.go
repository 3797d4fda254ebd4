// Package ctx
package ctx

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ContextLogValues should only be accessed for logging, and not for
// actual business logic, or any other logic
type ContextLogValues struct {
	// Added in base middleware
	RequestID       string
	ExternalID      string
	ClientIP        string
	StartTime       time.Time
	StatusCode      int
	RequestDuration time.Duration
	Path            string

	// Added by analysis routes
	ObjectName      string
	ImageBytes      int
	Stage           string
	Kind            string
	ReasoningStatus string
	Stream          bool

	// Override log Log Level
	// useful for streaming where status code might be sent before errors from
	// mid-stream or post processing occur
	LogLevel string

	// Added dynamically
	Error error
}

// AddError adds errors to the error chain. Always add errors, even if only warnings.
// Log level is determined by the status code of the reuqest
func (c *ContextLogValues) AddError(err error) {
	if err == nil {
		return
	}
	if c.Error == nil {
		c.Error = err
		return
	}
	c.Error = fmt.Errorf("%w: %w", err, c.Error)
}

// Level derives the end of request log level
func (c *ContextLogValues) Level() zapcore.Level {
	if c.LogLevel != "" {
		if lvl, err := zapcore.ParseLevel(c.LogLevel); err == nil {
			return lvl
		}
	}
	switch {
	case c.StatusCode >= 500:
		return zapcore.ErrorLevel
	case c.StatusCode >= 400:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func (c *ContextLogValues) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("request_id", c.RequestID)
	enc.AddString("external_id", c.ExternalID)
	enc.AddString("client_ip", c.ClientIP)
	enc.AddTime("start_time", c.StartTime)
	enc.AddDuration("request_duration", c.RequestDuration)
	enc.AddInt("status_code", c.StatusCode)
	enc.AddString("path", c.Path)
	if c.ObjectName != "" {
		enc.AddString("object_name", c.ObjectName)
	}
	if c.ImageBytes != 0 {
		enc.AddInt("image_bytes", c.ImageBytes)
	}
	if c.Stage != "" {
		enc.AddString("stage", c.Stage)
		enc.AddString("kind", c.Kind)
	}
	if c.ReasoningStatus != "" {
		enc.AddString("reasoning_status", c.ReasoningStatus)
		enc.AddBool("stream", c.Stream)
	}
	if c.Error != nil {
		enc.AddString("error", c.Error.Error())
	}
	return nil
}

type Context struct {
	echo.Context
	Log       *zap.SugaredLogger
	Reqid     string
	LogValues *ContextLogValues
}
