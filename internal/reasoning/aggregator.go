package reasoning

import (
	"context"
	"errors"
	"io"
	"strings"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Channel string

const (
	ChannelReasoning Channel = "reasoning"
	ChannelAnswer    Channel = "answer"
)

var (
	ErrModelUnavailable = errors.New("model unavailable")
	ErrStreamFailed     = errors.New("completion stream failed")
	ErrFinished         = errors.New("aggregation already finished")
)

// Chunk is one incremental stream event. A chunk with neither fragment is a
// keep-alive.
type Chunk struct {
	Reasoning string
	Answer    string
}

func (c Chunk) KeepAlive() bool {
	return c.Reasoning == "" && c.Answer == ""
}

// ChunkSource is a lazy, finite, non restartable sequence of chunks. Next
// returns io.EOF once the end of sequence marker was seen; any other error
// means the stream terminated abnormally.
type ChunkSource interface {
	Next() (Chunk, error)
}

// FragmentFunc observes fragments as they are aggregated. A returned error
// stops further calls but not aggregation.
type FragmentFunc func(channel Channel, fragment string) error

type Result struct {
	Reasoning string `json:"reasoning"`
	Answer    string `json:"answer"`
	Status    Status `json:"status"`
}

// Aggregator appends fragments in arrival order. Once completed or failed it
// rejects further chunks.
type Aggregator struct {
	status     Status
	reasoning  strings.Builder
	answer     strings.Builder
	received   int
	onFragment FragmentFunc
	forwardErr error
}

func NewAggregator(onFragment FragmentFunc) *Aggregator {
	return &Aggregator{status: StatusPending, onFragment: onFragment}
}

func (a *Aggregator) Add(c Chunk) error {
	if a.finished() {
		return ErrFinished
	}
	a.status = StatusStreaming
	a.received++
	if c.Reasoning != "" {
		a.reasoning.WriteString(c.Reasoning)
		a.forward(ChannelReasoning, c.Reasoning)
	}
	if c.Answer != "" {
		a.answer.WriteString(c.Answer)
		a.forward(ChannelAnswer, c.Answer)
	}
	return nil
}

func (a *Aggregator) forward(ch Channel, fragment string) {
	if a.onFragment == nil || a.forwardErr != nil {
		return
	}
	a.forwardErr = a.onFragment(ch, fragment)
}

func (a *Aggregator) Complete() {
	if !a.finished() {
		a.status = StatusCompleted
	}
}

func (a *Aggregator) Fail() {
	if !a.finished() {
		a.status = StatusFailed
	}
}

func (a *Aggregator) finished() bool {
	return a.status == StatusCompleted || a.status == StatusFailed
}

// Received is the number of chunks aggregated so far, keep-alives included
func (a *Aggregator) Received() int { return a.received }

// ForwardErr is the first error returned by the fragment callback
func (a *Aggregator) ForwardErr() error { return a.forwardErr }

func (a *Aggregator) Result() Result {
	return Result{
		Reasoning: a.reasoning.String(),
		Answer:    a.answer.String(),
		Status:    a.status,
	}
}

// Consume drains src into agg. On failure the partial result is returned
// alongside the error.
func Consume(ctx context.Context, src ChunkSource, agg *Aggregator) (Result, error) {
	for {
		if err := ctx.Err(); err != nil {
			agg.Fail()
			return agg.Result(), err
		}
		c, err := src.Next()
		if errors.Is(err, io.EOF) {
			agg.Complete()
			return agg.Result(), nil
		}
		if err != nil {
			agg.Fail()
			return agg.Result(), err
		}
		if err := agg.Add(c); err != nil {
			return agg.Result(), err
		}
	}
}
