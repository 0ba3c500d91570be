// Package envelope defines the stored form of a single user value: the value
// itself and the time it was written, and the codecs that turn it into bytes
// for a backend.
//
// The default codec is [JSON], which produces
//
//	{"value": <value>, "timestamp": <milliseconds since epoch>}
//
// [CBOR] uses the same field names in a binary encoding, and [CodecFuncs]
// lets an application plug in its own convert/reconvert functions.
package envelope

import "time"

// Envelope is one stored value and its write timestamp in milliseconds since
// the Unix epoch.
type Envelope struct {
	Value     any    `json:"value" cbor:"value"`
	Timestamp uint64 `json:"timestamp" cbor:"timestamp"`
}

// Payload is the encoded form of an Envelope as handed to a backend.
type Payload []byte

// Codec turns values into payloads and back.
type Codec interface {
	Encode(value any, timestamp uint64) (Payload, error)
	Decode(payload Payload) (Envelope, error)
}

// Millis converts t to a timestamp as used in envelopes.
func Millis(t time.Time) uint64 {
	ms := t.UnixMilli()
	if ms < 0 {
		return 0
	}
	return uint64(ms)
}

// Time converts an envelope timestamp back to a time.Time.
func Time(timestamp uint64) time.Time {
	return time.UnixMilli(int64(timestamp))
}
