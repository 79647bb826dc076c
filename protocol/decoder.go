package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// MaxPendingBuffer is the maximum number of undecoded bytes a connection may
// accumulate without producing a complete frame (32 MiB). A client that
// exceeds it is either flooding or desynchronized; either way the connection
// is beyond recovery.
const MaxPendingBuffer = 32 * 1024 * 1024

// entryPreallocLimit caps the capacity hint taken from a Forward batch's
// declared entry count. The slice still grows to the real entry count; the
// limit only stops a hostile header from forcing a huge allocation up front.
const entryPreallocLimit = 1024

// StreamDecoder incrementally decodes forward-protocol messages from a byte
// stream. It buffers partial network reads across calls: the pending buffer
// always holds zero or more complete frames followed by at most one
// incomplete trailing fragment.
//
// A StreamDecoder is owned by exactly one connection worker and is not safe
// for concurrent use.
type StreamDecoder struct {
	pending    []byte
	dec        *msgpack.Decoder
	maxPending int

	// now supplies the wall clock substituted for absent or invalid
	// event times. Overridable in tests.
	now func() time.Time
}

// DecoderOption customizes a StreamDecoder.
type DecoderOption func(*StreamDecoder)

// WithMaxPending overrides the pending-buffer limit. Values <= 0 keep
// MaxPendingBuffer.
func WithMaxPending(n int) DecoderOption {
	return func(d *StreamDecoder) {
		if n > 0 {
			d.maxPending = n
		}
	}
}

// NewStreamDecoder returns a decoder with an empty pending buffer.
func NewStreamDecoder(opts ...DecoderOption) *StreamDecoder {
	d := &StreamDecoder{
		maxPending: MaxPendingBuffer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Feed appends bytes from a network read to the pending buffer.
func (d *StreamDecoder) Feed(p []byte) {
	d.pending = append(d.pending, p...)
}

// Buffered returns the number of pending undecoded bytes.
func (d *StreamDecoder) Buffered() int {
	return len(d.pending)
}

// Next extracts and classifies one complete message from the front of the
// pending buffer.
//
// Returns (nil, nil) when no complete frame is available yet; this is the
// normal wait-for-more-bytes case and leaves the buffer positioned at the
// frame start. Returns a *DecodeError when the bytes are malformed or the
// pending buffer exceeds MaxPendingBuffer; both are fatal for the
// connection.
func (d *StreamDecoder) Next() (*Batch, error) {
	if len(d.pending) == 0 {
		return nil, nil
	}

	r := bytes.NewReader(d.pending)
	if d.dec == nil {
		d.dec = msgpack.NewDecoder(r)
	} else {
		d.dec.Reset(r)
	}

	batch, err := d.decodeMessage(d.dec)
	if err != nil {
		var decErr *DecodeError
		if errors.As(err, &decErr) {
			return nil, decErr
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			// Incomplete frame. Guard against a frame that can never
			// complete before asking for more bytes.
			if len(d.pending) > d.maxPending {
				return nil, &DecodeError{
					Kind: KindTooLarge,
					Msg:  fmt.Sprintf("pending buffer %d exceeds maximum %d without a complete frame", len(d.pending), d.maxPending),
				}
			}
			return nil, nil
		}
		return nil, malformed("decode message", err)
	}

	// bytes.Reader satisfies io.ByteScanner, so the msgpack decoder reads
	// it directly and r.Len() is exactly the unconsumed tail.
	d.pending = d.pending[len(d.pending)-r.Len():]
	return batch, nil
}

// decodeMessage parses one top-level value and classifies it into a Batch.
// io.EOF / io.ErrUnexpectedEOF from the outer frame mean "incomplete";
// anything wrapped in a *DecodeError is already known to be fatal.
func (d *StreamDecoder) decodeMessage(dec *msgpack.Decoder) (*Batch, error) {
	code, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}

	// A bare nil is a client keepalive.
	if code == msgpcode.Nil {
		if err := dec.DecodeNil(); err != nil {
			return nil, err
		}
		return &Batch{Mode: ModeHeartbeat, Options: Options{}}, nil
	}

	if !isArrayCode(code) {
		return nil, malformed(fmt.Sprintf("top-level value %#x is not an array", code), nil)
	}

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n < 2 || n > 4 {
		return nil, malformed(fmt.Sprintf("top-level array length %d out of range [2,4]", n), nil)
	}

	tag, err := dec.DecodeString()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
		return nil, malformed("tag is not a string", err)
	}

	second, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}

	switch {
	case isArrayCode(second):
		return d.decodeForward(dec, tag, n)
	case msgpcode.IsBin(second) || msgpcode.IsString(second):
		return d.decodePackedForward(dec, tag, n)
	default:
		return d.decodeSingleMessage(dec, tag, n)
	}
}

// decodeForward parses [tag, [[time, record], ...], options?].
func (d *StreamDecoder) decodeForward(dec *msgpack.Decoder, tag string, n int) (*Batch, error) {
	if n > 3 {
		return nil, malformed(fmt.Sprintf("forward array length %d exceeds 3", n), nil)
	}

	entries, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}

	// The entry count comes off the wire and an Array32 header can claim
	// up to 2^32-1 entries, so it must not drive the allocation directly.
	events := make([]Event, 0, min(max(entries, 0), entryPreallocLimit))
	for i := 0; i < entries; i++ {
		ev, err := d.decodeEntry(dec, tag)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	opts := Options{}
	if n == 3 {
		if opts, err = decodeOptions(dec); err != nil {
			return nil, err
		}
	}
	return &Batch{Tag: tag, Mode: ModeForward, Events: events, Options: opts}, nil
}

// decodePackedForward parses [tag, bin, options?], where bin is a
// concatenation of msgpack [time, record] pairs, optionally gzip-compressed.
func (d *StreamDecoder) decodePackedForward(dec *msgpack.Decoder, tag string, n int) (*Batch, error) {
	if n > 3 {
		return nil, malformed(fmt.Sprintf("packed forward array length %d exceeds 3", n), nil)
	}

	payload, err := dec.DecodeBytes()
	if err != nil {
		return nil, err
	}

	opts := Options{}
	if n == 3 {
		if opts, err = decodeOptions(dec); err != nil {
			return nil, err
		}
	}

	// An empty payload is a keepalive; options still count for ack purposes.
	if len(payload) == 0 {
		return &Batch{Tag: tag, Mode: ModeHeartbeat, Options: opts}, nil
	}

	// The compressed-options check takes precedence over plain packed
	// classification; the marker is stripped once honored.
	mode := ModePackedForward
	if opts.Compression() == gzipCompression {
		mode = ModeCompressedPackedForward
		if payload, err = gunzip(payload); err != nil {
			return nil, malformed("decompress packed payload", err)
		}
		delete(opts, optionCompressed)
	}

	events, err := d.unpackEntries(tag, payload)
	if err != nil {
		return nil, err
	}
	return &Batch{Tag: tag, Mode: mode, Events: events, Options: opts}, nil
}

// decodeSingleMessage parses [tag, time, record, options?].
func (d *StreamDecoder) decodeSingleMessage(dec *msgpack.Decoder, tag string, n int) (*Batch, error) {
	if n < 3 {
		return nil, malformed("message array missing record element", nil)
	}

	ts, err := d.decodeEventTime(dec)
	if err != nil {
		return nil, err
	}

	record, err := dec.DecodeMap()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
		return nil, malformed("record is not a map", err)
	}

	opts := Options{}
	if n == 4 {
		if opts, err = decodeOptions(dec); err != nil {
			return nil, err
		}
	}
	return &Batch{
		Tag:     tag,
		Mode:    ModeMessage,
		Events:  []Event{{Tag: tag, Time: ts, Record: record}},
		Options: opts,
	}, nil
}

// decodeEntry parses one [time, record] pair.
func (d *StreamDecoder) decodeEntry(dec *msgpack.Decoder, tag string) (Event, error) {
	code, err := dec.PeekCode()
	if err != nil {
		return Event{}, err
	}
	if !isArrayCode(code) {
		return Event{}, malformed(fmt.Sprintf("entry %#x is not an array", code), nil)
	}
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return Event{}, err
	}
	if n != 2 {
		return Event{}, malformed(fmt.Sprintf("entry array length %d, want 2", n), nil)
	}

	ts, err := d.decodeEventTime(dec)
	if err != nil {
		return Event{}, err
	}
	record, err := dec.DecodeMap()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Event{}, err
		}
		return Event{}, malformed("entry record is not a map", err)
	}
	return Event{Tag: tag, Time: ts, Record: record}, nil
}

// unpackEntries decodes the concatenated [time, record] pairs of a packed
// payload. Unlike top-level frames, a packed payload is internally complete
// by contract: a partial trailing pair is malformed input, not a
// wait-for-more case.
func (d *StreamDecoder) unpackEntries(tag string, payload []byte) ([]Event, error) {
	r := bytes.NewReader(payload)
	dec := msgpack.GetDecoder()
	defer msgpack.PutDecoder(dec)
	dec.Reset(r)

	var events []Event
	for {
		if _, err := dec.PeekCode(); err != nil {
			if errors.Is(err, io.EOF) {
				return events, nil
			}
			return nil, malformed("packed payload", err)
		}
		ev, err := d.decodeEntry(dec, tag)
		if err != nil {
			var decErr *DecodeError
			if errors.As(err, &decErr) {
				return nil, decErr
			}
			return nil, malformed("truncated pair in packed payload", err)
		}
		events = append(events, ev)
	}
}

// decodeOptions reads the trailing options element. A non-map element is
// skipped and treated as empty options rather than rejected.
func decodeOptions(dec *msgpack.Decoder) (Options, error) {
	code, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}
	if !isMapCode(code) && code != msgpcode.Nil {
		if err := dec.Skip(); err != nil {
			return nil, err
		}
		return Options{}, nil
	}
	m, err := dec.DecodeMap()
	if err != nil {
		return nil, err
	}
	if m == nil {
		return Options{}, nil
	}
	return Options(m), nil
}

// gunzip inflates a gzip-compressed packed payload. Multistream payloads
// (concatenated gzip members) inflate transparently.
func gunzip(payload []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer func() { _ = zr.Close() }()
	return io.ReadAll(zr)
}

func isArrayCode(c byte) bool {
	return msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32
}

func isMapCode(c byte) bool {
	return msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32
}
