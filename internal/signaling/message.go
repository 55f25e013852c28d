// Package signaling defines the JSON messages exchanged with the channelling
// server over the signaling link.
package signaling

import (
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	MsgTypeSelf      MessageType = "Self"
	MsgTypeHello     MessageType = "Hello"
	MsgTypeOffer     MessageType = "Offer"
	MsgTypeAnswer    MessageType = "Answer"
	MsgTypeCandidate MessageType = "Candidate"
	MsgTypeBye       MessageType = "Bye"
	MsgTypeAlive     MessageType = "Alive"
	MsgTypeError     MessageType = "Error"
)

// Request is a client-to-server message. Exactly one payload field matching
// Type is set.
type Request struct {
	Type      MessageType `json:"Type"`
	Iid       string      `json:"Iid,omitempty"`
	Hello     *Hello      `json:"Hello,omitempty"`
	Offer     *Offer      `json:"Offer,omitempty"`
	Answer    *Answer     `json:"Answer,omitempty"`
	Candidate *Candidate  `json:"Candidate,omitempty"`
	Bye       *Bye        `json:"Bye,omitempty"`
	Alive     *Alive      `json:"Alive,omitempty"`
}

// Hello joins a room.
type Hello struct {
	Type    MessageType `json:"Type"`
	Version string      `json:"Version"`
	Id      string      `json:"Id"` // room name
}

type Offer struct {
	Type  MessageType               `json:"Type"`
	To    string                    `json:"To"`
	Offer webrtc.SessionDescription `json:"Offer"`
}

type Answer struct {
	Type   MessageType               `json:"Type"`
	To     string                    `json:"To"`
	Answer webrtc.SessionDescription `json:"Answer"`
}

type Candidate struct {
	Type      MessageType             `json:"Type"`
	To        string                  `json:"To"`
	Candidate webrtc.ICECandidateInit `json:"Candidate"`
}

type Bye struct {
	Type MessageType    `json:"Type"`
	To   string         `json:"To"`
	Bye  map[string]any `json:"Bye,omitempty"`
}

// Alive is a keepalive carrying a client timestamp in milliseconds.
type Alive struct {
	Type  MessageType `json:"Type"`
	Alive int64       `json:"Alive"`
}

// Self is the server's description of this session. Token is the resume
// token to present on the next dial.
type Self struct {
	Type       MessageType `json:"Type"`
	Id         string      `json:"Id"`
	Sid        string      `json:"Sid"`
	Userid     string      `json:"Userid,omitempty"`
	Suserid    string      `json:"Suserid,omitempty"`
	Token      string      `json:"Token"`
	Version    string      `json:"Version,omitempty"`
	ApiVersion float64     `json:"ApiVersion,omitempty"`
	Turn       *Turn       `json:"Turn,omitempty"`
	Stun       []string    `json:"Stun,omitempty"`
}

// Turn carries TURN credentials issued with Self.
type Turn struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Ttl      int      `json:"ttl"`
	Urls     []string `json:"urls"`
}

// ICEServers converts the STUN and TURN data of Self into pion ICE servers.
func (s *Self) ICEServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if len(s.Stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: s.Stun})
	}
	if s.Turn != nil && len(s.Turn.Urls) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.Turn.Urls,
			Username:   s.Turn.Username,
			Credential: s.Turn.Password,
		})
	}
	return servers
}

// ErrorData is an error reply from the server.
type ErrorData struct {
	Type    MessageType `json:"Type"`
	Code    string      `json:"Code"`
	Message string      `json:"Message"`
}

func (e *ErrorData) Error() string {
	return e.Code + ": " + e.Message
}

func newIid() string {
	return uuid.New().String()
}

// NewHello builds a room join request.
func NewHello(version, room string) Request {
	return Request{
		Type:  MsgTypeHello,
		Iid:   newIid(),
		Hello: &Hello{Type: MsgTypeHello, Version: version, Id: room},
	}
}

// NewOffer builds an offer addressed to peer to.
func NewOffer(to string, desc webrtc.SessionDescription) Request {
	return Request{
		Type:  MsgTypeOffer,
		Offer: &Offer{Type: MsgTypeOffer, To: to, Offer: desc},
	}
}

// NewAnswer builds an answer addressed to peer to.
func NewAnswer(to string, desc webrtc.SessionDescription) Request {
	return Request{
		Type:   MsgTypeAnswer,
		Answer: &Answer{Type: MsgTypeAnswer, To: to, Answer: desc},
	}
}

// NewCandidate builds a trickled ICE candidate addressed to peer to.
func NewCandidate(to string, init webrtc.ICECandidateInit) Request {
	return Request{
		Type:      MsgTypeCandidate,
		Candidate: &Candidate{Type: MsgTypeCandidate, To: to, Candidate: init},
	}
}

// NewBye builds a hangup addressed to peer to.
func NewBye(to, reason string) Request {
	bye := &Bye{Type: MsgTypeBye, To: to}
	if reason != "" {
		bye.Bye = map[string]any{"Reason": reason}
	}
	return Request{Type: MsgTypeBye, Bye: bye}
}

// NewAlive builds a keepalive stamped with ms.
func NewAlive(ms int64) Request {
	return Request{
		Type:  MsgTypeAlive,
		Iid:   newIid(),
		Alive: &Alive{Type: MsgTypeAlive, Alive: ms},
	}
}
