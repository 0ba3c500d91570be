package envelope

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/buger/jsonparser"
	"github.com/surrealdb/vuser.go/internal/codec"
)

var errEmptyPayload = errors.New("empty payload")

type jsonCodec struct {
	c codec.JSON
}

// JSON returns the default codec.
func JSON() Codec {
	return jsonCodec{}
}

func (j jsonCodec) Encode(value any, timestamp uint64) (Payload, error) {
	return j.c.Marshal(Envelope{Value: value, Timestamp: timestamp})
}

func (j jsonCodec) Decode(payload Payload) (Envelope, error) {
	if len(payload) == 0 {
		return Envelope{}, errEmptyPayload
	}

	raw, typ, _, err := jsonparser.Get(payload, "timestamp")
	if err != nil {
		return Envelope{}, fmt.Errorf("timestamp: %w", err)
	}
	if typ != jsonparser.Number {
		return Envelope{}, fmt.Errorf("timestamp: expected number, got %v", typ)
	}
	if _, err := strconv.ParseUint(string(raw), 10, 64); err != nil {
		return Envelope{}, fmt.Errorf("timestamp: %w", err)
	}

	var env Envelope
	if err := j.c.Unmarshal(payload, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
