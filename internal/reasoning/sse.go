package reasoning

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"skin-api/internal/shared"

	"go.uber.org/zap"
)

// sseSource reads chat completion chunks from a server sent event stream
type sseSource struct {
	ctx     context.Context
	scanner *bufio.Scanner
	log     *zap.SugaredLogger
	done    bool
}

func newSSESource(ctx context.Context, body io.Reader, log *zap.SugaredLogger) *sseSource {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseSource{ctx: ctx, scanner: scanner, log: log}
}

func (s *sseSource) Next() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}
	for s.scanner.Scan() {
		line := s.scanner.Text()

		// Skip empty lines and comment keep-alives
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			s.done = true
			return Chunk{}, io.EOF
		}

		var chunk shared.ChatChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			s.log.Warnw("failed unmarshaling streamed data", "error", err, "token", shared.Truncate(payload, 200))
			continue
		}
		if chunk.Error != nil {
			return Chunk{}, errors.Join(shared.ErrModelErrorChunk, fmt.Errorf("%s: %s", chunk.Error.Type, chunk.Error.Message))
		}
		return toChunk(chunk), nil
	}

	if err := s.ctx.Err(); err != nil {
		return Chunk{}, errors.Join(shared.ErrModelContext, err)
	}
	if err := s.scanner.Err(); err != nil {
		return Chunk{}, errors.Join(shared.ErrFailedReadingResponse, err)
	}
	return Chunk{}, shared.ErrMissingDoneToken
}

func toChunk(c shared.ChatChunk) Chunk {
	var out Chunk
	for _, choice := range c.Choices {
		if choice.Delta.ReasoningContent != nil {
			out.Reasoning += *choice.Delta.ReasoningContent
		}
		if choice.Delta.Content != nil {
			out.Answer += *choice.Delta.Content
		}
	}
	return out
}
