package envelope

import (
	"github.com/surrealdb/vuser.go/internal/codec"
)

type cborCodec struct {
	c *codec.CBOR
}

// CBOR returns a binary codec for backends that store raw bytes.
func CBOR() Codec {
	return cborCodec{c: codec.NewCBOR()}
}

func (c cborCodec) Encode(value any, timestamp uint64) (Payload, error) {
	return c.c.Marshal(Envelope{Value: value, Timestamp: timestamp})
}

func (c cborCodec) Decode(payload Payload) (Envelope, error) {
	if len(payload) == 0 {
		return Envelope{}, errEmptyPayload
	}
	var env Envelope
	if err := c.c.Unmarshal(payload, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
