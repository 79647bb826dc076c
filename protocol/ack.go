package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ackResponse is the single outbound frame shape: the client's chunk token
// echoed back verbatim under the "ack" key.
type ackResponse struct {
	Ack string `msgpack:"ack"`
}

// EncodeAck encodes the ack frame for a chunk token.
func EncodeAck(chunk string) ([]byte, error) {
	out, err := msgpack.Marshal(&ackResponse{Ack: chunk})
	if err != nil {
		return nil, fmt.Errorf("encode ack: %w", err)
	}
	return out, nil
}

// DecodeAck decodes an ack frame back into its chunk token. Used by the
// test client; servers only ever encode acks.
func DecodeAck(payload []byte) (string, error) {
	var resp ackResponse
	if err := msgpack.Unmarshal(payload, &resp); err != nil {
		return "", fmt.Errorf("decode ack: %w", err)
	}
	return resp.Ack, nil
}
