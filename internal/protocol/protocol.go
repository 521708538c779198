// Package protocol defines the signaling vocabulary shared by the relay server
// and its clients. Every frame on the wire is an Envelope whose Type names the
// event and whose Payload carries the event-specific body.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Intercom/internal/domain"
	"github.com/pion/webrtc/v4"
)

const (
	EventJoinRoom  = "joinRoom"
	EventLeaveRoom = "leaveRoom"
	EventRoomState = "roomState"
	EventLeft      = "left"

	EventUserJoined = "userJoined"
	EventUserLeft   = "userLeft"

	EventCallUser           = "callUser"
	EventCallFamily         = "callFamily"
	EventIncomingCall       = "incomingCall"
	EventIncomingFamilyCall = "incomingFamilyCall"
	EventAcceptCall         = "acceptCall"
	EventRejectCall         = "rejectCall"
	EventCallAccepted       = "callAccepted"
	EventCallRejected       = "callRejected"
	EventEndCall            = "endCall"
	EventCallEnded          = "callEnded"
	EventCallCancelled      = "callCancelled"

	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "iceCandidate"

	EventWhoAmI = "whoami"
	EventPing   = "ping"
	EventPong   = "pong"
	EventError  = "error"
)

// Reasons carried by rejectCall / callRejected / callCancelled.
const (
	ReasonDeclined  = "declined"
	ReasonBusy      = "busy"
	ReasonMedia     = "media"
	ReasonOffline   = "offline"
	ReasonTaken     = "taken"
	ReasonLeft      = "left"
	ReasonWithdrawn = "withdrawn"
)

var ErrBadEnvelope = errors.New("bad envelope")

type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps payload into an envelope of the given event type.
func Encode(event string, payload any) ([]byte, error) {
	env := Envelope{Type: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Decode parses one frame. The payload is left raw for the event handler.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrBadEnvelope)
	}
	return env, nil
}

// Unmarshal decodes an envelope payload into v.
func (e Envelope) Unmarshal(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrBadEnvelope, e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadEnvelope, e.Type, err)
	}
	return nil
}

type RoomPayload struct {
	RoomID domain.RoomID `json:"roomId"`
}

type RoomStatePayload struct {
	RoomID  domain.RoomID `json:"roomId"`
	Members []domain.User `json:"members"`
}

type MemberPayload struct {
	ClientID domain.UserID `json:"clientId"`
	User     domain.User   `json:"user"`
}

type CallUserPayload struct {
	UserID domain.UserID `json:"userId"`
	RoomID domain.RoomID `json:"roomId"`
}

type CallFamilyPayload struct {
	FamilyID domain.FamilyID `json:"familyId"`
	RoomID   domain.RoomID   `json:"roomId"`
}

type IncomingCallPayload struct {
	From     domain.UserID   `json:"from"`
	RoomID   domain.RoomID   `json:"roomId"`
	FamilyID domain.FamilyID `json:"familyId,omitempty"`
}

type AcceptCallPayload struct {
	RoomID   domain.RoomID `json:"roomId"`
	CallerID domain.UserID `json:"callerId,omitempty"`
}

type RejectCallPayload struct {
	CallerID domain.UserID `json:"callerId"`
	RoomID   domain.RoomID `json:"roomId"`
	Reason   string        `json:"reason,omitempty"`
}

type CallAcceptedPayload struct {
	ClientID domain.UserID `json:"clientId"`
	User     domain.User   `json:"user"`
	RoomID   domain.RoomID `json:"roomId"`
}

type CallRejectedPayload struct {
	From   domain.UserID `json:"from"`
	RoomID domain.RoomID `json:"roomId"`
	Reason string        `json:"reason,omitempty"`
	// Final is set when no invitee is left to answer the invitation.
	Final bool `json:"final"`
}

type EndCallPayload struct {
	RoomID domain.RoomID `json:"roomId"`
	PeerID domain.UserID `json:"peerId,omitempty"`
}

type CallEndedPayload struct {
	From   domain.UserID `json:"from"`
	RoomID domain.RoomID `json:"roomId"`
}

type CallCancelledPayload struct {
	RoomID domain.RoomID `json:"roomId"`
	Reason string        `json:"reason,omitempty"`
}

// DescriptionPayload carries an offer or an answer.
type DescriptionPayload struct {
	RoomID      domain.RoomID             `json:"roomId"`
	To          domain.UserID             `json:"to,omitempty"`
	From        domain.UserID             `json:"from,omitempty"`
	Description webrtc.SessionDescription `json:"description"`
}

type CandidatePayload struct {
	RoomID    domain.RoomID           `json:"roomId"`
	To        domain.UserID           `json:"to,omitempty"`
	From      domain.UserID           `json:"from,omitempty"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// WhoAmIPayload answers a whoami request with the authenticated user.
type WhoAmIPayload struct {
	User domain.User `json:"user"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}
