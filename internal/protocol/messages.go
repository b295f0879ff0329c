// Package protocol defines the WebSocket message types and structures used
// for communication between the client and the chat server. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator. Wire event names follow the platform's existing client
// contract (joinRoom, sendMessage, receiveMessage, ...).
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/buildersync/chat-core/internal/chat"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoinRoom      = "joinRoom"
	TypeFetchMessages = "fetchMessages"
	TypeSendMessage   = "sendMessage"
	TypeTyping        = "typing"
	TypeFileUpload    = "fileUpload"
	TypeFileUploaded  = "fileUploaded"
	TypeMessageRead   = "messageRead"
	TypePing          = "ping"
)

// Server -> Client message types.
const (
	TypeSessionReady      = "sessionReady"
	TypeReceiveMessage    = "receiveMessage"
	TypeUserTyping        = "userTyping"
	TypeFileShared        = "fileShared"
	TypeMessageReadUpdate = "messageReadUpdate"
	TypeMessageHistory    = "messageHistory"
	TypeUploadReady       = "uploadReady"
	TypePresenceUpdate    = "presenceUpdate"
	TypeRateLimited       = "rateLimited"
	TypeError             = "error"
	TypePong              = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Wire message shape
// ---------------------------------------------------------------------------

// WireMessage is the client-facing view of a persisted message. The sender
// and readers travel as "role:id" strings; the message id is the per-room
// sequence number.
type WireMessage struct {
	Room      string    `json:"room"`
	ID        int64     `json:"id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body,omitempty"`
	FileURL   string    `json:"fileUrl,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	ReadBy    []string  `json:"readBy"`
}

// NewWireMessage converts a persisted message to its wire shape.
func NewWireMessage(m *chat.Message) WireMessage {
	readBy := make([]string, 0, len(m.ReadBy))
	for _, r := range m.ReadBy {
		readBy = append(readBy, r.String())
	}
	return WireMessage{
		Room:      m.Room,
		ID:        m.Seq,
		Sender:    m.Sender.String(),
		Body:      m.Body,
		FileURL:   m.FileURL,
		Timestamp: m.Timestamp,
		ReadBy:    readBy,
	}
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinRoomMsg subscribes the session to a room it is a member of.
type JoinRoomMsg struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// FetchMessagesMsg requests a page of room history. Cursor and limit follow
// the store's keyset pagination; a zero cursor starts from the beginning
// (or the end, when newestFirst is set).
type FetchMessagesMsg struct {
	Type        string `json:"type"`
	Room        string `json:"room"`
	Cursor      int64  `json:"cursor,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	NewestFirst bool   `json:"newestFirst,omitempty"`
}

// SendMessageMsg is a text message sent into a room.
type SendMessageMsg struct {
	Type string `json:"type"`
	Room string `json:"room"`
	Body string `json:"body"`
}

// TypingMsg signals the sender is currently typing in the room.
type TypingMsg struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// FileUploadMsg requests a presigned upload URL for a file share.
type FileUploadMsg struct {
	Type     string `json:"type"`
	Room     string `json:"room"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
}

// FileUploadedMsg announces a completed upload; the URL becomes the file
// reference of a new room message.
type FileUploadedMsg struct {
	Type    string `json:"type"`
	Room    string `json:"room"`
	FileURL string `json:"fileUrl"`
}

// MessageReadMsg acknowledges that the sender of this event has read the
// identified message.
type MessageReadMsg struct {
	Type      string `json:"type"`
	Room      string `json:"room"`
	MessageID int64  `json:"messageId"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionReadyMsg is sent once a connection is authenticated and its rooms
// are subscribed.
type SessionReadyMsg struct {
	Type      string   `json:"type"`
	SessionID string   `json:"sessionId"`
	Identity  string   `json:"identity"`
	Rooms     []string `json:"rooms"`
}

// ReceiveMessageMsg delivers a newly published text message.
type ReceiveMessageMsg struct {
	Type    string      `json:"type"`
	Message WireMessage `json:"message"`
}

// UserTypingMsg relays a typing indicator. Receivers treat the indicator as
// expired TTLSeconds after arrival if no refresh comes in.
type UserTypingMsg struct {
	Type       string `json:"type"`
	Room       string `json:"room"`
	Identity   string `json:"identity"`
	TTLSeconds int    `json:"ttlSeconds"`
}

// FileSharedMsg delivers a newly published file-share message.
type FileSharedMsg struct {
	Type    string      `json:"type"`
	Message WireMessage `json:"message"`
}

// MessageReadUpdateMsg broadcasts a grown reader set for a message.
type MessageReadUpdateMsg struct {
	Type      string   `json:"type"`
	Room      string   `json:"room"`
	MessageID int64    `json:"messageId"`
	Identity  string   `json:"identity"`
	ReadBy    []string `json:"readBy"`
}

// MessageHistoryMsg answers a fetchMessages request with one page of the
// room's log.
type MessageHistoryMsg struct {
	Type       string        `json:"type"`
	Room       string        `json:"room"`
	Messages   []WireMessage `json:"messages"`
	NextCursor int64         `json:"nextCursor"`
}

// UploadReadyMsg answers a fileUpload request with the presigned URL pair.
type UploadReadyMsg struct {
	Type      string `json:"type"`
	Room      string `json:"room"`
	UploadURL string `json:"uploadUrl"`
	FileURL   string `json:"fileUrl"`
}

// PresenceUpdateMsg announces an identity's online/offline transition.
type PresenceUpdateMsg struct {
	Type     string `json:"type"`
	Identity string `json:"identity"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"lastSeen"`
}

// RateLimitedMsg is sent when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retryAfter"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoinRoom:
		var m JoinRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeFetchMessages:
		var m FetchMessagesMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeFileUpload:
		var m FileUploadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeFileUploaded:
		var m FileUploadedMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessageRead:
		var m MessageReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the Server*Msg structs; this function marshals it to JSON,
// injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
