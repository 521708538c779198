package negotiation

// SignalingState is the negotiation state of one PeerLink.
type SignalingState int

const (
	StateIdle SignalingState = iota
	StateHaveLocalOffer
	StateHaveRemoteOffer
	StateStable
	StateClosed
)

func (s SignalingState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHaveLocalOffer:
		return "have-local-offer"
	case StateHaveRemoteOffer:
		return "have-remote-offer"
	case StateStable:
		return "stable"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// canOffer reports whether a local offer may be created from s.
func (s SignalingState) canOffer() bool {
	return s == StateIdle || s == StateStable
}

// acceptsOffer reports whether a remote offer may be applied in s.
func (s SignalingState) acceptsOffer() bool {
	return s == StateIdle || s == StateStable
}
