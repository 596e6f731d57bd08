package stream

// Client packet types
const (
	ClientRequest byte = 1
	ClientPing    byte = 4
)

// Server packet types
const (
	ServerResponse  byte = 1
	ServerException byte = 2
	ServerPong      byte = 4
)

// MaxFrameSize bounds every length-prefixed field of a packet.
const MaxFrameSize = 4 << 20
