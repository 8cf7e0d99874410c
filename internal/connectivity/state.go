package connectivity

// State is the connectivity state of the device. Only [Ready] allows
// publish and subscribe traffic.
type State int

const (
	Disconnected State = iota
	NetworkConnecting
	NetworkUp
	ChannelConnecting
	Ready
)

var stateNames = [...]string{
	Disconnected:      "disconnected",
	NetworkConnecting: "network_connecting",
	NetworkUp:         "network_up",
	ChannelConnecting: "channel_connecting",
	Ready:             "ready",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON status payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
