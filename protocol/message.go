// Package protocol implements the Fluentd Forward Protocol v1 wire format:
// classification of the four transport message shapes, incremental stream
// decoding, packed-payload unpacking with optional gzip, event time
// normalization, and the ack response encoding.
package protocol

// Mode identifies the wire shape a decoded message arrived in.
// The four transport shapes form a closed set; Heartbeat covers the
// nil ping and the empty packed payload, which carry no events.
type Mode int

const (
	// ModeMessage is a single event: [tag, time, record, options?].
	ModeMessage Mode = iota
	// ModeForward is a list of events sharing a tag: [tag, [[time, record], ...], options?].
	ModeForward
	// ModePackedForward carries entries as a concatenated msgpack binary:
	// [tag, bin, options?].
	ModePackedForward
	// ModeCompressedPackedForward is a PackedForward whose binary payload is
	// gzip-compressed, signalled by options {"compressed": "gzip"}.
	ModeCompressedPackedForward
	// ModeHeartbeat is a keepalive carrying no events.
	ModeHeartbeat
)

// String returns the mode name as used in logs.
func (m Mode) String() string {
	switch m {
	case ModeMessage:
		return "message"
	case ModeForward:
		return "forward"
	case ModePackedForward:
		return "packed_forward"
	case ModeCompressedPackedForward:
		return "compressed_packed_forward"
	case ModeHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Event is one decoded log event. Time is normalized to fractional
// seconds since the Unix epoch regardless of the wire representation.
type Event struct {
	Tag    string
	Time   float64
	Record map[string]any
}

// Batch is one fully resolved wire message: the events it carried, in wire
// order, plus the trailing options map. A heartbeat batch has zero events
// but may still request an ack.
type Batch struct {
	Tag     string
	Mode    Mode
	Events  []Event
	Options Options
}

// Options is the optional trailing map of a batch. Only "chunk" and
// "compressed" are interpreted; everything else passes through untouched.
type Options map[string]any

// Option keys recognized by the protocol.
const (
	optionChunk      = "chunk"
	optionCompressed = "compressed"
)

// gzipCompression is the only compression scheme the protocol defines.
const gzipCompression = "gzip"

// Chunk returns the ack token of the batch, if the client requested an ack.
// Clients emit the token as a msgpack str; bin is accepted and echoed back
// as a string.
func (o Options) Chunk() (string, bool) {
	v, ok := o[optionChunk]
	if !ok {
		return "", false
	}
	switch c := v.(type) {
	case string:
		return c, c != ""
	case []byte:
		return string(c), len(c) > 0
	default:
		return "", false
	}
}

// Compression returns the declared payload compression, or "" for none.
func (o Options) Compression() string {
	if s, ok := o[optionCompressed].(string); ok {
		return s
	}
	return ""
}
