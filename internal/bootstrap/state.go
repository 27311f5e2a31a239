package bootstrap

// State is a bootstrap stage. States only move forward, except to StateFailed.
type State int

const (
	StateInit State = iota
	StateConfigLoaded
	StateStoreReady
	StateLinkerReady
	StateGatewayConnecting
	StateGatewayReady
	StateAudioReady
	StateFullyOperational
	StateFailed
)

var stateNames = map[State]string{
	StateInit:              "INIT",
	StateConfigLoaded:      "CONFIG_LOADED",
	StateStoreReady:        "STORE_READY",
	StateLinkerReady:       "LINKER_READY",
	StateGatewayConnecting: "GATEWAY_CONNECTING",
	StateGatewayReady:      "GATEWAY_READY",
	StateAudioReady:        "AUDIO_READY",
	StateFullyOperational:  "FULLY_OPERATIONAL",
	StateFailed:            "FAILED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateFullyOperational || s == StateFailed
}
