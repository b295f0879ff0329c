package chat

import "github.com/buildersync/chat-core/internal/identity"

// Event kinds carried on the room fan-out bus.
const (
	EventMessage     = "message"
	EventFileShared  = "file_shared"
	EventTyping      = "typing"
	EventReadReceipt = "read_receipt"
)

// Event is the payload relayed between servers on chat.room.<room_id>
// subjects. Origin identifies the publishing server so a server can skip
// events it already fanned out locally.
type Event struct {
	Kind   string `json:"kind"` // message | file_shared | typing | read_receipt
	Origin string `json:"origin"`
	Room   string `json:"room"`

	// Message and FileShared events carry the persisted message.
	Message *Message `json:"message,omitempty"`

	// Typing events carry only the typist.
	Typist identity.Identity `json:"typist,omitzero"`

	// ReadReceipt events carry the acknowledged message and its updated
	// reader set.
	Seq    int64               `json:"seq,omitempty"`
	Reader identity.Identity   `json:"reader,omitzero"`
	ReadBy []identity.Identity `json:"read_by,omitempty"`
}
