// Package gateway is the application layer between the WebSocket transport
// and the chat core. It authenticates connections, derives each session's
// rooms from the platform directory, subscribes them with the delivery
// broker, and translates client messages into broker and store operations.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/buildersync/chat-core/internal/auth"
	"github.com/buildersync/chat-core/internal/blob"
	"github.com/buildersync/chat-core/internal/broker"
	"github.com/buildersync/chat-core/internal/chat"
	"github.com/buildersync/chat-core/internal/directory"
	"github.com/buildersync/chat-core/internal/identity"
	"github.com/buildersync/chat-core/internal/metrics"
	"github.com/buildersync/chat-core/internal/presence"
	"github.com/buildersync/chat-core/internal/protocol"
	"github.com/buildersync/chat-core/internal/ratelimit"
	"github.com/buildersync/chat-core/internal/room"
	"github.com/buildersync/chat-core/internal/session"
	"github.com/buildersync/chat-core/internal/store"
	"github.com/buildersync/chat-core/internal/ws"
)

// opTimeout bounds every store and platform call made on behalf of a single
// client message.
const opTimeout = 5 * time.Second

// Gateway wires WebSocket sessions into the chat core.
type Gateway struct {
	broker    *broker.Broker
	store     store.MessageStore
	presence  *presence.Tracker
	dir       directory.Directory
	verifier  auth.Verifier
	presigner blob.Presigner     // optional, file shares disabled when nil
	limiter   *ratelimit.Limiter // optional, no throttling when nil
	sessions  *session.Store     // optional, no session records when nil

	mu       sync.RWMutex
	watchers map[identity.Identity]map[string]*wsSession // identity -> interested sessions
	watched  map[string][]identity.Identity              // session id -> watched identities
}

// New creates a Gateway. presigner, limiter, and sessions may be nil.
func New(b *broker.Broker, st store.MessageStore, tracker *presence.Tracker,
	dir directory.Directory, verifier auth.Verifier) *Gateway {
	return &Gateway{
		broker:   b,
		store:    st,
		presence: tracker,
		dir:      dir,
		verifier: verifier,
		watchers: make(map[identity.Identity]map[string]*wsSession),
		watched:  make(map[string][]identity.Identity),
	}
}

// WithPresigner enables the file upload flow.
func (g *Gateway) WithPresigner(p blob.Presigner) *Gateway {
	g.presigner = p
	return g
}

// WithLimiter enables Redis-backed rate limiting.
func (g *Gateway) WithLimiter(l *ratelimit.Limiter) *Gateway {
	g.limiter = l
	return g
}

// WithSessionStore enables Redis session records.
func (g *Gateway) WithSessionStore(s *session.Store) *Gateway {
	g.sessions = s
	return g
}

// RegisterHandlers binds the gateway's message handlers to the dispatcher.
func (g *Gateway) RegisterHandlers(d *ws.MessageDispatcher) {
	d.Register(protocol.TypeJoinRoom, g.handleJoinRoom)
	d.Register(protocol.TypeFetchMessages, g.handleFetchMessages)
	d.Register(protocol.TypeSendMessage, g.handleSendMessage)
	d.Register(protocol.TypeTyping, g.handleTyping)
	d.Register(protocol.TypeFileUpload, g.handleFileUpload)
	d.Register(protocol.TypeFileUploaded, g.handleFileUploaded)
	d.Register(protocol.TypeMessageRead, g.handleMessageRead)
}

// Authenticate is the ws.Authenticator for upgrade requests. The token comes
// from the Authorization header or, for browser WebSocket clients that cannot
// set headers, the token query parameter. It also applies the per-IP
// connection rate limit.
func (g *Gateway) Authenticate(r *http.Request) (identity.Identity, error) {
	if g.limiter != nil {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		allowed, _ := g.limiter.Allow(r.Context(), ip, ratelimit.RuleConnect)
		if !allowed {
			return identity.Identity{}, fmt.Errorf("gateway: connection rate limited for %s", ip)
		}
	}

	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); h != "" {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	return g.verifier.Verify(token)
}

// OnConnect bootstraps a freshly registered connection: it resolves the
// identity's contacts, subscribes the session to one room per contact, marks
// the identity online, and greets the client with sessionReady followed by
// the current presence of each contact.
func (g *Gateway) OnConnect(conn *ws.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	sess := &wsSession{conn: conn}

	contacts, err := g.dir.Contacts(ctx, conn.Identity)
	if err != nil {
		// The session stays connected with no rooms; a reconnect retries.
		log.Printf("[gateway] contacts lookup failed session=%s identity=%s: %v",
			conn.ID, conn.Identity, err)
	}

	rooms := make([]string, 0, len(contacts))
	watched := make([]identity.Identity, 0, len(contacts))
	for _, contact := range contacts {
		rid, err := room.ID(conn.Identity, contact)
		if err != nil {
			continue
		}
		g.broker.Subscribe(rid, sess)
		rooms = append(rooms, rid)
		watched = append(watched, contact)
	}

	g.mu.Lock()
	g.watched[conn.ID] = watched
	for _, contact := range watched {
		subs, ok := g.watchers[contact]
		if !ok {
			subs = make(map[string]*wsSession)
			g.watchers[contact] = subs
		}
		subs[conn.ID] = sess
	}
	g.mu.Unlock()

	metrics.RoomSubscriptions.Add(float64(len(rooms)))

	if g.sessions != nil {
		if err := g.sessions.Create(ctx, conn.ID, conn.Identity); err != nil {
			log.Printf("[gateway] session record create failed session=%s: %v", conn.ID, err)
		}
	}

	wasOnline := g.presence.IsOnline(conn.Identity)
	if err := g.presence.MarkOnline(ctx, conn.Identity); err != nil {
		log.Printf("[gateway] mark online failed identity=%s: %v", conn.Identity, err)
	} else if !wasOnline {
		metrics.OnlineIdentities.Inc()
	}

	ready, err := protocol.NewServerMessage(protocol.TypeSessionReady, protocol.SessionReadyMsg{
		SessionID: conn.ID,
		Identity:  conn.Identity.String(),
		Rooms:     rooms,
	})
	if err == nil {
		if err := conn.WriteMessage(ready); err != nil {
			log.Printf("[gateway] sessionReady write failed session=%s: %v", conn.ID, err)
			return
		}
	}

	// Initial presence snapshot of every contact.
	for _, contact := range watched {
		status, err := g.presence.Status(ctx, contact)
		if err != nil {
			continue
		}
		g.sendPresence(sess, presence.Event{
			Identity: contact,
			Online:   status.Online,
			LastSeen: status.LastSeen,
		})
	}
}

// OnDisconnect releases everything the session held: room subscriptions,
// presence watch entries, the connection count, and the session record.
func (g *Gateway) OnDisconnect(conn *ws.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	g.broker.UnsubscribeAll(conn.ID)

	g.mu.Lock()
	watched := g.watched[conn.ID]
	delete(g.watched, conn.ID)
	for _, contact := range watched {
		if subs, ok := g.watchers[contact]; ok {
			delete(subs, conn.ID)
			if len(subs) == 0 {
				delete(g.watchers, contact)
			}
		}
	}
	g.mu.Unlock()

	metrics.RoomSubscriptions.Sub(float64(len(watched)))

	if err := g.presence.MarkOffline(ctx, conn.Identity); err != nil {
		log.Printf("[gateway] mark offline failed identity=%s: %v", conn.Identity, err)
	} else if !g.presence.IsOnline(conn.Identity) {
		metrics.OnlineIdentities.Dec()
	}

	if g.sessions != nil {
		if rec, err := g.sessions.Get(ctx, conn.ID); err == nil && rec != nil {
			log.Printf("[gateway] session closed session=%s identity=%s active=%s",
				conn.ID, rec.Identity(), time.Since(time.Unix(rec.CreatedAt, 0)).Round(time.Second))
		}
		if err := g.sessions.Delete(ctx, conn.ID); err != nil {
			log.Printf("[gateway] session record delete failed session=%s: %v", conn.ID, err)
		}
	}
}

// HandlePresence forwards a presence transition to every session watching
// the identity. Wired to the bus presence subject, or directly to the local
// tracker when no bus is configured.
func (g *Gateway) HandlePresence(ev presence.Event) {
	g.mu.RLock()
	sessions := make([]*wsSession, 0, len(g.watchers[ev.Identity]))
	for _, s := range g.watchers[ev.Identity] {
		sessions = append(sessions, s)
	}
	g.mu.RUnlock()

	for _, s := range sessions {
		g.sendPresence(s, ev)
	}
}

func (g *Gateway) sendPresence(s *wsSession, ev presence.Event) {
	data, err := protocol.NewServerMessage(protocol.TypePresenceUpdate, protocol.PresenceUpdateMsg{
		Identity: ev.Identity.String(),
		Online:   ev.Online,
		LastSeen: ev.LastSeen.Unix(),
	})
	if err != nil {
		return
	}
	if err := s.conn.WriteMessage(data); err != nil {
		log.Printf("[gateway] presence write failed session=%s: %v", s.ID(), err)
	}
}

// -----------------------------------------------------------------------
// Client message handlers
// -----------------------------------------------------------------------

// handleJoinRoom subscribes the session to a room it is a member of. Rooms
// derived from the directory are joined automatically on connect; this
// handler covers contacts added while the session is live.
func (g *Gateway) handleJoinRoom(conn *ws.Connection, msg interface{}) {
	joinMsg, ok := msg.(protocol.JoinRoomMsg)
	if !ok {
		return
	}

	if _, _, err := room.Parse(joinMsg.Room); err != nil {
		g.sendError(conn, "invalid_room", "malformed room id")
		return
	}
	if !room.IsMember(joinMsg.Room, conn.Identity) {
		g.sendError(conn, "forbidden", "not a member of this room")
		return
	}

	if g.broker.IsSubscribed(joinMsg.Room, conn.ID) {
		return
	}

	sess := &wsSession{conn: conn}
	g.broker.Subscribe(joinMsg.Room, sess)
	metrics.RoomSubscriptions.Inc()

	partner := room.Partner(joinMsg.Room, conn.Identity)
	g.mu.Lock()
	g.watched[conn.ID] = append(g.watched[conn.ID], partner)
	subs, ok := g.watchers[partner]
	if !ok {
		subs = make(map[string]*wsSession)
		g.watchers[partner] = subs
	}
	subs[conn.ID] = sess
	g.mu.Unlock()

	log.Printf("[gateway] joinRoom session=%s room=%s", conn.ID, joinMsg.Room)
}

// handleFetchMessages serves one page of room history.
func (g *Gateway) handleFetchMessages(conn *ws.Connection, msg interface{}) {
	fetchMsg, ok := msg.(protocol.FetchMessagesMsg)
	if !ok {
		return
	}
	if !g.authorize(conn, fetchMsg.Room) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	msgs, err := g.store.History(ctx, fetchMsg.Room, store.HistoryOptions{
		Cursor:      fetchMsg.Cursor,
		Limit:       fetchMsg.Limit,
		NewestFirst: fetchMsg.NewestFirst,
	})
	if err != nil {
		log.Printf("[gateway] history failed session=%s room=%s: %v", conn.ID, fetchMsg.Room, err)
		g.sendError(conn, "history_unavailable", "could not load messages")
		return
	}

	wire := make([]protocol.WireMessage, 0, len(msgs))
	for i := range msgs {
		wire = append(wire, protocol.NewWireMessage(&msgs[i]))
	}

	nextCursor := fetchMsg.Cursor
	if len(msgs) > 0 {
		nextCursor = msgs[len(msgs)-1].Seq
	}

	data, err := protocol.NewServerMessage(protocol.TypeMessageHistory, protocol.MessageHistoryMsg{
		Room:       fetchMsg.Room,
		Messages:   wire,
		NextCursor: nextCursor,
	})
	if err != nil {
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("[gateway] history write failed session=%s: %v", conn.ID, err)
		return
	}

	metrics.HistoryFetchesTotal.Inc()
}

// handleSendMessage publishes a text message into a room.
func (g *Gateway) handleSendMessage(conn *ws.Connection, msg interface{}) {
	sendMsg, ok := msg.(protocol.SendMessageMsg)
	if !ok {
		return
	}
	if !g.authorize(conn, sendMsg.Room) {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return
	}
	if !g.allow(conn, ratelimit.RuleMessage) {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	start := time.Now()
	_, err := g.broker.PublishMessage(ctx, sendMsg.Room, chat.Draft{
		Sender: conn.Identity,
		Body:   sendMsg.Body,
	})
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			log.Printf("[gateway] publish failed session=%s room=%s: %v", conn.ID, sendMsg.Room, err)
			g.sendError(conn, "send_failed", "message could not be delivered")
			metrics.MessagesTotal.WithLabelValues("failed").Inc()
		} else {
			g.sendError(conn, "invalid_message", err.Error())
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		}
		return
	}

	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	metrics.PublishLatency.Observe(time.Since(start).Seconds())

	if g.sessions != nil {
		_ = g.sessions.Touch(ctx, conn.ID)
	}
}

// handleTyping relays a typing indicator; nothing is persisted.
func (g *Gateway) handleTyping(conn *ws.Connection, msg interface{}) {
	typingMsg, ok := msg.(protocol.TypingMsg)
	if !ok {
		return
	}
	if !room.IsMember(typingMsg.Room, conn.Identity) {
		return
	}
	g.broker.PublishTyping(typingMsg.Room, conn.Identity)
}

// handleFileUpload answers with a presigned URL pair for a direct upload.
func (g *Gateway) handleFileUpload(conn *ws.Connection, msg interface{}) {
	uploadMsg, ok := msg.(protocol.FileUploadMsg)
	if !ok {
		return
	}
	if !g.authorize(conn, uploadMsg.Room) {
		return
	}
	if g.presigner == nil {
		g.sendError(conn, "uploads_disabled", "file sharing is not enabled")
		return
	}
	if !g.allow(conn, ratelimit.RuleUpload) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	upload, err := g.presigner.Presign(ctx, blob.Request{
		FileName:    uploadMsg.FileName,
		ContentType: uploadMsg.FileType,
	})
	if err != nil {
		log.Printf("[gateway] presign failed session=%s: %v", conn.ID, err)
		g.sendError(conn, "upload_unavailable", "could not prepare upload")
		return
	}

	data, err := protocol.NewServerMessage(protocol.TypeUploadReady, protocol.UploadReadyMsg{
		Room:      uploadMsg.Room,
		UploadURL: upload.UploadURL,
		FileURL:   upload.FileURL,
	})
	if err != nil {
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("[gateway] uploadReady write failed session=%s: %v", conn.ID, err)
	}
}

// handleFileUploaded publishes a completed upload as a file-share message.
func (g *Gateway) handleFileUploaded(conn *ws.Connection, msg interface{}) {
	uploadedMsg, ok := msg.(protocol.FileUploadedMsg)
	if !ok {
		return
	}
	if !g.authorize(conn, uploadedMsg.Room) {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := g.broker.PublishFileShared(ctx, uploadedMsg.Room, conn.Identity, uploadedMsg.FileURL)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			log.Printf("[gateway] file publish failed session=%s room=%s: %v", conn.ID, uploadedMsg.Room, err)
			g.sendError(conn, "send_failed", "file share could not be delivered")
			metrics.MessagesTotal.WithLabelValues("failed").Inc()
		} else {
			g.sendError(conn, "invalid_message", err.Error())
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		}
		return
	}

	metrics.MessagesTotal.WithLabelValues("sent").Inc()
}

// handleMessageRead records a read receipt and fans the updated reader set
// out to the room.
func (g *Gateway) handleMessageRead(conn *ws.Connection, msg interface{}) {
	readMsg, ok := msg.(protocol.MessageReadMsg)
	if !ok {
		return
	}
	if !g.authorize(conn, readMsg.Room) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := g.broker.PublishReadReceipt(ctx, readMsg.Room, readMsg.MessageID, conn.Identity)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendError(conn, "unknown_message", "no such message in this room")
			return
		}
		log.Printf("[gateway] read receipt failed session=%s room=%s seq=%d: %v",
			conn.ID, readMsg.Room, readMsg.MessageID, err)
		g.sendError(conn, "receipt_failed", "read receipt could not be recorded")
		return
	}

	metrics.ReadReceiptsTotal.Inc()
}

// -----------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------

// authorize checks that the connection's identity is a member of the room and
// sends a structured error otherwise.
func (g *Gateway) authorize(conn *ws.Connection, roomID string) bool {
	if room.IsMember(roomID, conn.Identity) {
		return true
	}
	g.sendError(conn, "forbidden", "not a member of this room")
	return false
}

// allow applies a rate limit rule keyed by the connection's identity. On a
// limit hit the client gets a rateLimited message telling it when to retry.
func (g *Gateway) allow(conn *ws.Connection, rule ratelimit.Rule) bool {
	if g.limiter == nil {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	allowed, _ := g.limiter.Allow(ctx, conn.Identity.String(), rule)
	if allowed {
		return true
	}

	data, err := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
		RetryAfter: int(rule.Window.Seconds()),
	})
	if err == nil {
		_ = conn.WriteMessage(data)
	}
	return false
}

func (g *Gateway) sendError(conn *ws.Connection, code, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("[gateway] error write failed session=%s: %v", conn.ID, err)
	}
}
