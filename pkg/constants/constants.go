package constants

import "time"

// MirrorSlot is the single durable slot that holds the whole serialized cache.
const MirrorSlot = "vuser"

// ProbeSlot is written and removed again when probing a mirror for availability.
const ProbeSlot = "vuser-probe"

var (
	WebsocketScheme       = "ws"
	WebsocketSecureScheme = "wss"
)

const (
	// CloseMessageCode is sent when a WebSocket connection is closed normally.
	CloseMessageCode = 1000
	// DefaultWSTimeout bounds a single RPC round trip.
	DefaultWSTimeout = 30 * time.Second
	// DefaultTable holds the user data records in SurrealDB.
	DefaultTable = "user_data"
)
