package protocol

import (
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// eventTimeExtID is the msgpack ext type the forward protocol assigns to
// EventTime, and eventTimeExtLen its fixed payload size: 32-bit seconds
// followed by 32-bit nanoseconds, both big-endian.
const (
	eventTimeExtID  = 0
	eventTimeExtLen = 8
)

// decodeEventTime reads one time element and normalizes it to fractional
// seconds since the Unix epoch. Plain integers are whole seconds; the
// EventTime ext carries seconds plus nanoseconds. An absent (nil) or
// unrecognized time is replaced by the current wall clock.
func (d *StreamDecoder) decodeEventTime(dec *msgpack.Decoder) (float64, error) {
	code, err := dec.PeekCode()
	if err != nil {
		return 0, err
	}

	switch {
	case isIntCode(code):
		sec, err := dec.DecodeInt64()
		if err != nil {
			return 0, err
		}
		return float64(sec), nil

	case code == msgpcode.Float || code == msgpcode.Double:
		ts, err := dec.DecodeFloat64()
		if err != nil {
			return 0, err
		}
		return ts, nil

	case msgpcode.IsExt(code):
		id, n, err := dec.DecodeExtHeader()
		if err != nil {
			return 0, err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(dec.Buffered(), buf); err != nil {
			if errors.Is(err, io.EOF) {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		if id != eventTimeExtID || n != eventTimeExtLen {
			// Unknown ext: substitute the wall clock, bytes already consumed.
			return unixSeconds(d.now()), nil
		}
		sec := binary.BigEndian.Uint32(buf[:4])
		nsec := binary.BigEndian.Uint32(buf[4:])
		return float64(sec) + float64(nsec)/1e9, nil

	case code == msgpcode.Nil:
		if err := dec.DecodeNil(); err != nil {
			return 0, err
		}
		return unixSeconds(d.now()), nil

	default:
		if err := dec.Skip(); err != nil {
			return 0, err
		}
		return unixSeconds(d.now()), nil
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func isIntCode(c byte) bool {
	if msgpcode.IsFixedNum(c) {
		return true
	}
	switch c {
	case msgpcode.Uint8, msgpcode.Uint16, msgpcode.Uint32, msgpcode.Uint64,
		msgpcode.Int8, msgpcode.Int16, msgpcode.Int32, msgpcode.Int64:
		return true
	}
	return false
}
