// Package vision submits image URLs to the skin detection service and
// normalizes whatever it returns into Findings
package vision

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"skin-api/internal/shared"

	"go.uber.org/zap"
)

var ErrInvalidInput = errors.New("invalid image url")

// ServiceError carries the detection service's diagnostics
type ServiceError struct {
	Code       string
	Message    string
	Recommend  string
	StatusCode int
	// Invalid is set when the service rejected the image url itself
	Invalid bool
	Err     error
}

func (e *ServiceError) Error() string {
	var b strings.Builder
	b.WriteString("vision service error")
	if e.Code != "" {
		b.WriteString(" " + e.Code)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Recommend != "" {
		b.WriteString(" (recommend: " + e.Recommend + ")")
	}
	return b.String()
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return target == ErrInvalidInput && e.Invalid
}

// Detector is the remote detection capability. Implementations may return
// any object graph; it is normalized by the Gateway.
type Detector interface {
	DetectSkinDisease(ctx context.Context, imageURL string) (any, error)
}

type Gateway struct {
	detector Detector
	timeout  time.Duration
	log      *zap.SugaredLogger
}

func NewGateway(detector Detector, timeout time.Duration, log *zap.SugaredLogger) (*Gateway, error) {
	if detector == nil {
		return nil, errors.New("vision detector is required")
	}
	return &Gateway{detector: detector, timeout: timeout, log: shared.OrNop(log)}, nil
}

// Analyze fails fast without a network call when imageURL is not an
// absolute http(s) url
func (g *Gateway) Analyze(ctx context.Context, imageURL string) (Findings, error) {
	if err := validateURL(imageURL); err != nil {
		return Findings{}, err
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := g.detector.DetectSkinDisease(ctx, imageURL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			g.log.Warnw("Vision call interrupted", "error", err, "duration", time.Since(start).String())
			return Findings{}, errors.Join(ctxErr, err)
		}
		var serr *ServiceError
		if !errors.As(err, &serr) {
			serr = &ServiceError{Message: err.Error(), Err: err}
		}
		g.log.Warnw("Vision call failed",
			"code", serr.Code,
			"status_code", serr.StatusCode,
			"message", serr.Message,
			"recommend", serr.Recommend,
			"invalid_input", serr.Invalid)
		return Findings{}, serr
	}
	findings := NewFindings(raw)
	g.log.Infow("Vision analysis completed", "keys", findings.Value().Keys(), "duration", time.Since(start).String())
	return findings, nil
}

func validateURL(imageURL string) error {
	if strings.TrimSpace(imageURL) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidInput)
	}
	u, err := url.Parse(imageURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute http url", ErrInvalidInput, imageURL)
	}
	return nil
}
