package envelope

// CodecFuncs adapts a pair of plain functions to a Codec. A nil Convert or
// Reconvert falls back to the corresponding half of Default.
type CodecFuncs struct {
	Convert   func(value any, timestamp uint64) (Payload, error)
	Reconvert func(payload Payload) (Envelope, error)

	// Default is used for whichever function is nil. JSON when unset.
	Default Codec
}

func (f CodecFuncs) fallback() Codec {
	if f.Default != nil {
		return f.Default
	}
	return JSON()
}

func (f CodecFuncs) Encode(value any, timestamp uint64) (Payload, error) {
	if f.Convert == nil {
		return f.fallback().Encode(value, timestamp)
	}
	return f.Convert(value, timestamp)
}

func (f CodecFuncs) Decode(payload Payload) (Envelope, error) {
	if f.Reconvert == nil {
		return f.fallback().Decode(payload)
	}
	return f.Reconvert(payload)
}
