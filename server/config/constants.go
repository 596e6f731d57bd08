package config

// Network server port constants
const (
	// Backend Port - cabinet traffic over HTTP POST
	BACKEND_SERVER_PORT = 8083

	// Admin Port - read-only reporting API
	ADMIN_SERVER_PORT = 8084

	// Stream Port - framed TCP transport for long-lived cabinet links
	STREAM_SERVER_PORT = 8085
)

// Network server address constants
const (
	// Default bind address for all servers
	DEFAULT_SERVER_ADDRESS = "0.0.0.0"

	// Localhost address for development
	LOCALHOST_ADDRESS = "127.0.0.1"
)

// Server enabled state constants
const (
	BACKEND_SERVER_ENABLED = true
	ADMIN_SERVER_ENABLED   = true
	STREAM_SERVER_ENABLED  = false
)

// Port validation constants
const (
	MIN_PORT = 1
	MAX_PORT = 65535
)

// Store drivers
const (
	DRIVER_MEMORY = "memory"
	DRIVER_SQLITE = "sqlite"
)

// ENV_PREFIX prefixes environment overrides, e.g. OXYGEN_SERVER_HOST.
const ENV_PREFIX = "OXYGEN"

// IsValidPort checks if a port number is within valid range
func IsValidPort(port int) bool {
	return port >= MIN_PORT && port <= MAX_PORT
}

// GetDefaultPorts returns a map of all default server ports
func GetDefaultPorts() map[string]int {
	return map[string]int{
		"backend": BACKEND_SERVER_PORT,
		"admin":   ADMIN_SERVER_PORT,
		"stream":  STREAM_SERVER_PORT,
	}
}

// GetDefaultEnabledStates returns a map of all default server enabled states
func GetDefaultEnabledStates() map[string]bool {
	return map[string]bool{
		"backend": BACKEND_SERVER_ENABLED,
		"admin":   ADMIN_SERVER_ENABLED,
		"stream":  STREAM_SERVER_ENABLED,
	}
}
