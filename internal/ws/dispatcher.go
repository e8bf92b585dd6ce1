package ws

import (
	"log"
	"time"

	"github.com/skillswap/chat-app/internal/apperr"
	"github.com/skillswap/chat-app/internal/protocol"
)

// MessageHandler is the callback signature for handling a parsed client message.
// The msg parameter is the concrete struct returned by protocol.ParseClientMessage
// (e.g., protocol.SendMessageMsg, protocol.JoinChatMsg, etc.).
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes incoming WebSocket messages to registered handlers
// based on the message type. It handles the built-in ping/pong keepalive
// internally and sends structured error responses for malformed or unsupported
// messages.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	server   *Server
}

// NewMessageDispatcher creates a MessageDispatcher bound to the given server.
// The server reference is used to send responses back to clients.
func NewMessageDispatcher(server *Server) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		server:   server,
	}
}

// SetServer assigns the Server reference on the dispatcher. This supports the
// initialization pattern where the dispatcher is created before the server
// (since NewServer requires the Dispatch callback).
func (d *MessageDispatcher) SetServer(server *Server) {
	d.server = server
}

// Register associates a MessageHandler with a message type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the onMessage callback implementation. It parses the raw bytes
// into a typed message, handles ping internally, and routes all other types to
// the registered handler. Parse errors and unregistered types result in an
// error message sent back to the client.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("ws: dispatch parse error conn=%s user=%s: %v", conn.ID, conn.UserID(), err)
		d.SendError(conn, apperr.New(apperr.KindInvalid, "parse_error", "invalid message format"))
		return
	}

	// Built-in ping handler. Respond immediately without requiring registration.
	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		log.Printf("ws: unsupported message type=%q conn=%s", msgType, conn.ID)
		d.SendError(conn, apperr.New(apperr.KindInvalid, "unsupported_type", "unsupported message type"))
		return
	}

	handler(conn, msg)
}

// SendError sends a structured error message back to the client. The code and
// client-safe message are derived from the error's classification; internal
// detail stays in the server log only. Errors during message construction or
// transmission are logged but not propagated.
func (d *MessageDispatcher) SendError(conn *Connection, err error) {
	data, merr := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    apperr.CodeOf(err),
		Message: apperr.MessageOf(err),
	})
	if merr != nil {
		log.Printf("ws: failed to build error message conn=%s: %v", conn.ID, merr)
		return
	}

	if werr := d.send(conn, data); werr != nil {
		log.Printf("ws: failed to send error message conn=%s: %v", conn.ID, werr)
	}
}

// send routes the write through the server so it carries the configured write
// deadline. Dispatchers without a server reference write directly.
func (d *MessageDispatcher) send(conn *Connection, data []byte) error {
	if d.server != nil {
		return d.server.SendMessage(conn.ID, data)
	}
	return conn.WriteMessage(data)
}

// sendPong responds to a client ping with a pong message and updates the
// connection's LastPing timestamp to reflect the most recent keepalive.
func (d *MessageDispatcher) sendPong(conn *Connection) {
	conn.LastPing = time.Now()

	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		log.Printf("ws: failed to build pong message conn=%s: %v", conn.ID, err)
		return
	}

	if err := d.send(conn, data); err != nil {
		log.Printf("ws: failed to send pong message conn=%s: %v", conn.ID, err)
	}
}
