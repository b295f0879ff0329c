package gateway

import (
	"fmt"

	"github.com/buildersync/chat-core/internal/broker"
	"github.com/buildersync/chat-core/internal/chat"
	"github.com/buildersync/chat-core/internal/identity"
	"github.com/buildersync/chat-core/internal/protocol"
	"github.com/buildersync/chat-core/internal/ws"
)

// wsSession adapts a WebSocket connection to the broker's Subscriber
// interface. Deliver encodes room events into their wire messages and writes
// them on the connection.
type wsSession struct {
	conn *ws.Connection
}

var _ broker.Subscriber = (*wsSession)(nil)

func (s *wsSession) ID() string { return s.conn.ID }

func (s *wsSession) Identity() identity.Identity { return s.conn.Identity }

func (s *wsSession) Deliver(ev chat.Event) error {
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(data)
}

// encodeEvent maps a room event to its client-facing wire message.
func encodeEvent(ev chat.Event) ([]byte, error) {
	switch ev.Kind {
	case chat.EventMessage:
		return protocol.NewServerMessage(protocol.TypeReceiveMessage, protocol.ReceiveMessageMsg{
			Message: protocol.NewWireMessage(ev.Message),
		})

	case chat.EventFileShared:
		return protocol.NewServerMessage(protocol.TypeFileShared, protocol.FileSharedMsg{
			Message: protocol.NewWireMessage(ev.Message),
		})

	case chat.EventTyping:
		return protocol.NewServerMessage(protocol.TypeUserTyping, protocol.UserTypingMsg{
			Room:       ev.Room,
			Identity:   ev.Typist.String(),
			TTLSeconds: int(broker.TypingTTL.Seconds()),
		})

	case chat.EventReadReceipt:
		readBy := make([]string, 0, len(ev.ReadBy))
		for _, r := range ev.ReadBy {
			readBy = append(readBy, r.String())
		}
		return protocol.NewServerMessage(protocol.TypeMessageReadUpdate, protocol.MessageReadUpdateMsg{
			Room:      ev.Room,
			MessageID: ev.Seq,
			Identity:  ev.Reader.String(),
			ReadBy:    readBy,
		})
	}

	return nil, fmt.Errorf("gateway: unknown event kind %q", ev.Kind)
}
