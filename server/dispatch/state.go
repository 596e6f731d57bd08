package dispatch

// State is a step of request processing.
type State int

const (
	StateReceived State = iota
	StateDecompressing
	StateParsing
	StateRouting
	StateHandling
	StateEncoding
	StateCompressing
	StateSent
	StateErrored
)

var stateNames = [...]string{
	StateReceived:      "received",
	StateDecompressing: "decompressing",
	StateParsing:       "parsing",
	StateRouting:       "routing",
	StateHandling:      "handling",
	StateEncoding:      "encoding",
	StateCompressing:   "compressing",
	StateSent:          "sent",
	StateErrored:       "errored",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateSent || s == StateErrored
}

// next returns the state that follows s on success.
func (s State) next() State {
	if s.Terminal() {
		return s
	}
	return s + 1
}
