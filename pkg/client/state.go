package client

// State is the position of the client in the login sequence.
type State int32

const (
	StateDisconnected State = iota
	StateConnectingLogin
	StateNegotiating
	StateConnectedLogin
	StateConnectingGameplay
	StateConnectedGameplay
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnectingLogin:
		return "connecting(login)"
	case StateNegotiating:
		return "negotiating"
	case StateConnectedLogin:
		return "connected(login)"
	case StateConnectingGameplay:
		return "connecting(gameplay)"
	case StateConnectedGameplay:
		return "connected(gameplay)"
	}
	return "unknown"
}
