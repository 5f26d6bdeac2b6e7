package signaling

import (
	"encoding/json"
	"errors"
)

type messageType string

const (
	messageTypeJoinRoom     messageType = "join-room"
	messageTypeOffer        messageType = "offer"
	messageTypeAnswer       messageType = "answer"
	messageTypeICECandidate messageType = "ice-candidate"
	messageTypeUserJoined   messageType = "user-joined"
	messageTypeUserLeft     messageType = "user-left"
)

var errMalformedEnvelope = errors.New("malformed envelope")

// envelope is the routing view of an inbound frame. Every other field is
// opaque to the relay.
type envelope struct {
	Type   messageType     `json:"type"`
	RoomID json.RawMessage `json:"roomId,omitempty"`
}

func parseEnvelope(raw []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, err
	}
	if env.Type == "" {
		return envelope{}, errMalformedEnvelope
	}
	return env, nil
}

// roomID returns the envelope's roomId when it is a non-empty string.
func (e envelope) roomID() (string, bool) {
	if len(e.RoomID) == 0 {
		return "", false
	}
	var id string
	if err := json.Unmarshal(e.RoomID, &id); err != nil || id == "" {
		return "", false
	}
	return id, true
}

type userJoined struct {
	Type   messageType `json:"type"`
	UserID string      `json:"userId"`
	Name   string      `json:"name"`
}

type userLeft struct {
	Type   messageType `json:"type"`
	UserID string      `json:"userId"`
}

func encodeUserJoined(userID, name string) []byte {
	b, _ := json.Marshal(userJoined{Type: messageTypeUserJoined, UserID: userID, Name: name})
	return b
}

func encodeUserLeft(userID string) []byte {
	b, _ := json.Marshal(userLeft{Type: messageTypeUserLeft, UserID: userID})
	return b
}
