package acquire

import "fmt"

// State is the acquisition loop's position in its lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateReading
	StateDecoding
	StatePublishing
	StateClosing
	StateTerminated
)

var stateNames = [...]string{
	StateDisconnected: "disconnected",
	StateConnected:    "connected",
	StateReading:      "reading",
	StateDecoding:     "decoding",
	StatePublishing:   "publishing",
	StateClosing:      "closing",
	StateTerminated:   "terminated",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
