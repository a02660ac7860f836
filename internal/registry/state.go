package registry

// State is the lifecycle state of a server connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateHandshaking  State = "handshaking"
	StateReady        State = "ready"
	StateDegraded     State = "degraded"
)

// Ready reports whether the state accepts request/response cycles.
func (s State) Ready() bool {
	return s == StateReady
}
