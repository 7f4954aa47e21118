package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/BenjaminSRussell/siteaudit/internal/types"
)

// ErrSinkUnavailable marks a consumer that has gone away. Once a sink
// returns it (or any other error) the reporter stops writing to that sink.
var ErrSinkUnavailable = errors.New("sink unavailable")

// Message is what the crawl loop hands to the reporter. A message either
// carries a page result with the counters at the time it was produced, is a
// bare flush request marking the end of a wave, or reports the fatal error
// that ended the crawl.
type Message struct {
	Result   *types.PageResult
	Progress types.Progress
	Flush    bool
	Err      error
}

// Sink receives stream events in order
type Sink interface {
	Send(ctx context.Context, event types.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event types.Event) error

func (f SinkFunc) Send(ctx context.Context, event types.Event) error {
	return f(ctx, event)
}

// Stats summarizes one reporter run
type Stats struct {
	Results   int
	Flushes   int
	DeadSinks int
}

// Reporter buffers page results and relays them to its sinks. It is the only
// goroutine touching the sinks.
type Reporter struct {
	sinks     []*sinkState
	batchSize int
	logger    logrus.FieldLogger

	buffer []types.Event
	stats  Stats
	done   bool
}

type sinkState struct {
	sink Sink
	dead bool
}

// NewReporter creates a reporter. With batchSize > 0 the buffer is also
// flushed whenever it reaches that size; otherwise only on flush requests.
func NewReporter(logger logrus.FieldLogger, batchSize int, sinks ...Sink) *Reporter {
	states := make([]*sinkState, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			states = append(states, &sinkState{sink: s})
		}
	}
	return &Reporter{
		sinks:     states,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run consumes messages until in is closed, then flushes what is left and
// emits the Completed status once. It always drains in so the producer
// never blocks on a dead consumer.
func (r *Reporter) Run(ctx context.Context, in <-chan Message) Stats {
	for msg := range in {
		if msg.Result != nil {
			progress := msg.Progress
			r.buffer = append(r.buffer, types.ResultEvent(*msg.Result, &progress))
			r.stats.Results++
			if r.batchSize > 0 && len(r.buffer) >= r.batchSize {
				r.flush(ctx)
			}
		}
		if msg.Flush {
			r.flush(ctx)
		}
		if msg.Err != nil {
			r.flush(ctx)
			r.broadcast(ctx, types.ErrorEvent(msg.Err))
		}
	}

	r.flush(ctx)
	r.complete(ctx)
	return r.stats
}

// Alive reports whether at least one sink is still accepting events.
func (r *Reporter) Alive() bool {
	for _, s := range r.sinks {
		if !s.dead {
			return true
		}
	}
	return false
}

func (r *Reporter) flush(ctx context.Context) {
	if len(r.buffer) == 0 {
		return
	}
	for _, event := range r.buffer {
		r.broadcast(ctx, event)
	}
	r.buffer = r.buffer[:0]
	r.stats.Flushes++
}

func (r *Reporter) complete(ctx context.Context) {
	if r.done {
		return
	}
	r.done = true
	r.broadcast(ctx, types.CompletedEvent())
}

func (r *Reporter) broadcast(ctx context.Context, event types.Event) {
	for _, s := range r.sinks {
		if s.dead {
			continue
		}
		if err := s.sink.Send(ctx, event); err != nil {
			s.dead = true
			r.stats.DeadSinks++
			r.logger.WithError(err).Warn("progress sink unavailable, dropping further events for it")
		}
	}
}

// JSONLinesSink writes one JSON object per line, the format used for
// streaming to stdout.
type JSONLinesSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLinesSink returns a sink writing newline-delimited JSON to w.
func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{enc: json.NewEncoder(w)}
}

func (s *JSONLinesSink) Send(ctx context.Context, event types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enc.Encode(event); err != nil {
		return fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}
	return nil
}
