// Package stdout implements the default sink: one JSON line per event.
package stdout

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/inletio/inletd/handler"
	"github.com/inletio/inletd/protocol"
)

// line is the NDJSON shape written per event.
type line struct {
	Tag    string         `json:"tag"`
	Time   float64        `json:"time"`
	Record map[string]any `json:"record"`
}

// Sink writes events as newline-delimited JSON to a single writer.
// One Sink serves every connection, so writes are mutex-guarded to keep
// lines whole.
type Sink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// New creates a sink writing to w.
func New(w io.Writer) *Sink {
	return &Sink{enc: json.NewEncoder(w)}
}

// Init returns the sink itself; it keeps no per-connection state.
func (s *Sink) Init(context.Context, map[string]any) (handler.State, error) {
	return s, nil
}

// HandleEvent writes one JSON line.
func (s *Sink) HandleEvent(_ context.Context, ev protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(line{Tag: ev.Tag, Time: ev.Time, Record: ev.Record})
}

var _ handler.Handler = (*Sink)(nil)
var _ handler.State = (*Sink)(nil)
