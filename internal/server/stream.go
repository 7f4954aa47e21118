package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/BenjaminSRussell/siteaudit/internal/progress"
	"github.com/BenjaminSRussell/siteaudit/internal/types"
)

// eventStream writes events as server-sent events to one client. It fails
// with progress.ErrSinkUnavailable once the client has gone.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	client  context.Context
}

func newEventStream(w http.ResponseWriter, r *http.Request) (*eventStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &eventStream{w: w, flusher: flusher, client: r.Context()}, true
}

func (s *eventStream) Send(ctx context.Context, event types.Event) error {
	if err := s.client.Err(); err != nil {
		return fmt.Errorf("%w: client disconnected: %v", progress.ErrSinkUnavailable, err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("%w: %v", progress.ErrSinkUnavailable, err)
	}
	s.flusher.Flush()
	return nil
}
