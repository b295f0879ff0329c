package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/buildersync/chat-core/internal/chat"
	"github.com/buildersync/chat-core/internal/identity"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid sendMessage message
// ---------------------------------------------------------------------------

func TestParseClientMessage_SendMessage(t *testing.T) {
	input := []byte(`{"type":"sendMessage","room":"client:c1__company:m1","body":"Hello!"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSendMessage {
		t.Fatalf("expected type %q, got %q", TypeSendMessage, msgType)
	}

	sm, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if sm.Room != "client:c1__company:m1" {
		t.Errorf("expected room %q, got %q", "client:c1__company:m1", sm.Room)
	}
	if sm.Body != "Hello!" {
		t.Errorf("expected body %q, got %q", "Hello!", sm.Body)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a messageRead acknowledgement
// ---------------------------------------------------------------------------

func TestParseClientMessage_MessageRead(t *testing.T) {
	input := []byte(`{"type":"messageRead","room":"client:c1__company:m1","messageId":7}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMessageRead {
		t.Fatalf("expected type %q, got %q", TypeMessageRead, msgType)
	}

	mr, ok := msg.(MessageReadMsg)
	if !ok {
		t.Fatalf("expected MessageReadMsg, got %T", msg)
	}
	if mr.MessageID != 7 {
		t.Errorf("expected messageId 7, got %d", mr.MessageID)
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a messageReadUpdate server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_MessageReadUpdate(t *testing.T) {
	payload := MessageReadUpdateMsg{
		Room:      "client:c1__company:m1",
		MessageID: 3,
		Identity:  "company:m1",
		ReadBy:    []string{"company:m1"},
	}

	data, err := NewServerMessage(TypeMessageReadUpdate, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Decode back and verify structure.
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeMessageReadUpdate {
		t.Errorf("expected type %q, got %v", TypeMessageReadUpdate, result["type"])
	}
	if result["identity"] != "company:m1" {
		t.Errorf("expected identity %q, got %v", "company:m1", result["identity"])
	}

	id, ok := result["messageId"].(float64)
	if !ok {
		t.Fatalf("expected messageId to be a number, got %T", result["messageId"])
	}
	if int(id) != 3 {
		t.Errorf("expected messageId 3, got %v", id)
	}

	readBy, ok := result["readBy"].([]interface{})
	if !ok {
		t.Fatalf("expected readBy to be an array, got %T", result["readBy"])
	}
	if len(readBy) != 1 || readBy[0] != "company:m1" {
		t.Errorf("unexpected readBy: %v", readBy)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an unknown message type returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"unknown_type","data":"something"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for unknown message type, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}
	if msgType != "unknown_type" {
		t.Errorf("expected returned type %q, got %q", "unknown_type", msgType)
	}
}

// ---------------------------------------------------------------------------
// Test: Wire message conversion
// ---------------------------------------------------------------------------

func TestNewWireMessage(t *testing.T) {
	ts := time.Unix(1700000000, 0).UTC()
	msg := &chat.Message{
		Room:      "client:c1__company:m1",
		Seq:       12,
		Sender:    identity.Identity{Role: identity.RoleClient, ID: "c1"},
		Body:      "on my way",
		Timestamp: ts,
		ReadBy:    []identity.Identity{{Role: identity.RoleCompany, ID: "m1"}},
	}

	wire := NewWireMessage(msg)
	if wire.ID != 12 {
		t.Errorf("expected id 12, got %d", wire.ID)
	}
	if wire.Sender != "client:c1" {
		t.Errorf("expected sender %q, got %q", "client:c1", wire.Sender)
	}
	if len(wire.ReadBy) != 1 || wire.ReadBy[0] != "company:m1" {
		t.Errorf("unexpected readBy: %v", wire.ReadBy)
	}
	if !wire.Timestamp.Equal(ts) {
		t.Errorf("timestamp mismatch: %v", wire.Timestamp)
	}

	// A file share keeps body empty on the wire.
	fileMsg := &chat.Message{
		Room:    msg.Room,
		Seq:     13,
		Sender:  msg.Sender,
		FileURL: "https://files/plan.pdf",
		ReadBy:  nil,
	}
	wire = NewWireMessage(fileMsg)
	if wire.Body != "" || wire.FileURL != "https://files/plan.pdf" {
		t.Errorf("unexpected file wire message: %+v", wire)
	}
	if wire.ReadBy == nil || len(wire.ReadBy) != 0 {
		t.Errorf("expected empty non-nil readBy, got %#v", wire.ReadBy)
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	input := []byte(`{"data":"no type field"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	input := []byte(`{invalid json}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing all client message types succeeds
// ---------------------------------------------------------------------------

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"joinRoom", `{"type":"joinRoom","room":"r1"}`, TypeJoinRoom},
		{"fetchMessages", `{"type":"fetchMessages","room":"r1","cursor":5,"limit":20}`, TypeFetchMessages},
		{"sendMessage", `{"type":"sendMessage","room":"r1","body":"hi"}`, TypeSendMessage},
		{"typing", `{"type":"typing","room":"r1"}`, TypeTyping},
		{"fileUpload", `{"type":"fileUpload","room":"r1","fileName":"a.pdf","fileType":"application/pdf"}`, TypeFileUpload},
		{"fileUploaded", `{"type":"fileUploaded","room":"r1","fileUrl":"https://files/a.pdf"}`, TypeFileUploaded},
		{"messageRead", `{"type":"messageRead","room":"r1","messageId":1}`, TypeMessageRead},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msgType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
		})
	}
}
