package chat

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/skillswap/chat-app/internal/apperr"
	"github.com/skillswap/chat-app/internal/messaging"
	"github.com/skillswap/chat-app/internal/metrics"
	"github.com/skillswap/chat-app/internal/protocol"
	"github.com/skillswap/chat-app/internal/ratelimit"
	"github.com/skillswap/chat-app/internal/store"
)

// Publisher is the slice of the messaging client the gateway needs: room
// fanout plus direct pushes to a user's personal channel.
type Publisher interface {
	PublishRoom(chatID string, event messaging.RoomEvent) error
	PublishUser(userID string, payload []byte) error
}

// Gateway implements the chat operations behind both the WebSocket handlers
// and the REST endpoints: sending messages, loading chats, read receipts,
// and typing relays. Every operation verifies that the acting user is a
// participant of the target chat before touching state.
type Gateway struct {
	store   *store.Store
	bus     Publisher
	limiter *ratelimit.Limiter // nil disables rate limiting
}

// NewGateway creates a Gateway over the given persistence and fanout layers.
func NewGateway(st *store.Store, bus Publisher, limiter *ratelimit.Limiter) *Gateway {
	return &Gateway{store: st, bus: bus, limiter: limiter}
}

// authorize loads the chat and verifies the acting user is a participant.
func (g *Gateway) authorize(ctx context.Context, chatID, userID string) (*store.ChatSession, error) {
	chat, err := g.store.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsParticipant(userID) {
		return nil, apperr.Authorization("you are not a participant of this chat")
	}
	return chat, nil
}

// SendMessage validates, rate-limits, persists, and broadcasts a new chat
// message. The broadcast reaches every connection in the room including the
// sender's own, carrying the server-assigned id and the sender's client_ref
// so optimistic copies can be replaced. The returned message is the persisted
// canonical record.
func (g *Gateway) SendMessage(ctx context.Context, userID string, msg protocol.SendMessageMsg) (*store.Message, error) {
	start := time.Now()

	if _, err := g.authorize(ctx, msg.ChatID, userID); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if err := ValidateMessage(msg.Text); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if g.limiter != nil {
		allowed, err := g.limiter.Allow(ctx, userID, ratelimit.RuleMessage)
		if err != nil {
			log.Printf("chat: rate limit check failed user=%s: %v", userID, err)
		} else if !allowed {
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			return nil, apperr.RateLimited("sending too fast, slow down")
		}
	}

	msgType := msg.MessageType
	if msgType == "" {
		msgType = "text"
	}

	persisted, err := g.store.AppendMessage(ctx, msg.ChatID, userID, msg.Text, msgType, msg.FileData)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("chat: send message: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues("sent").Inc()

	payload := MessageToPayload(persisted)
	payload.ClientRef = msg.ClientRef
	if err := g.broadcast(msg.ChatID, userID, "", protocol.TypeNewMessage, protocol.NewMessageMsg{
		ChatID:  msg.ChatID,
		Message: payload,
	}); err != nil {
		// The message is durable; fanout failure only delays delivery until
		// the recipients reload the chat.
		log.Printf("chat: new-message fanout failed chat=%s: %v", msg.ChatID, err)
	} else {
		metrics.MessagesTotal.WithLabelValues("delivered").Inc()
	}

	metrics.SendLatency.Observe(time.Since(start).Seconds())
	return persisted, nil
}

// LoadChat returns the authoritative chat state with its full ordered message
// history. Loading a chat implies the reader has seen it, so unread messages
// from the partner are flipped to read and a messages-read receipt goes out
// to the room.
func (g *Gateway) LoadChat(ctx context.Context, userID, chatID string) (*protocol.ChatPayload, error) {
	chat, err := g.authorize(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}

	changed, err := g.store.MarkRead(ctx, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("chat: load mark read: %w", err)
	}
	if changed > 0 {
		g.broadcastRead(chatID, userID)
	}

	messages, err := g.store.Messages(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("chat: load messages: %w", err)
	}

	payload := ChatToPayload(chat, messages)
	return &payload, nil
}

// MarkRead flips the chat's unread partner messages to read and broadcasts a
// messages-read receipt to the room. The receipt goes out even when nothing
// changed so that the reader's other connections reset their unread counters.
func (g *Gateway) MarkRead(ctx context.Context, userID, chatID string) error {
	if _, err := g.authorize(ctx, chatID, userID); err != nil {
		return err
	}
	if _, err := g.store.MarkRead(ctx, chatID, userID); err != nil {
		return fmt.Errorf("chat: mark read: %w", err)
	}
	g.broadcastRead(chatID, userID)
	return nil
}

// Typing relays a typing indicator to the chat's other participant. The
// sender's own connections are excluded from delivery.
func (g *Gateway) Typing(ctx context.Context, userID, chatID string) error {
	return g.relayTyping(ctx, userID, chatID, protocol.TypeUserTyping, "typing")
}

// StopTyping relays a stop-typing indicator. It runs the same participant
// check as Typing so a non-member cannot discover chat existence through either
// event.
func (g *Gateway) StopTyping(ctx context.Context, userID, chatID string) error {
	return g.relayTyping(ctx, userID, chatID, protocol.TypeUserStopTyping, "stop_typing")
}

func (g *Gateway) relayTyping(ctx context.Context, userID, chatID, eventType, metricLabel string) error {
	if _, err := g.authorize(ctx, chatID, userID); err != nil {
		return err
	}

	if g.limiter != nil {
		allowed, err := g.limiter.Allow(ctx, userID, ratelimit.RuleTyping)
		if err != nil {
			log.Printf("chat: rate limit check failed user=%s: %v", userID, err)
		} else if !allowed {
			// Typing indicators are disposable; drop silently rather than
			// spamming the client with errors.
			return nil
		}
	}

	var payload interface{}
	if eventType == protocol.TypeUserTyping {
		payload = protocol.UserTypingMsg{UserID: userID, ChatID: chatID}
	} else {
		payload = protocol.UserStopTypingMsg{UserID: userID, ChatID: chatID}
	}

	if err := g.broadcast(chatID, userID, userID, eventType, payload); err != nil {
		return fmt.Errorf("chat: typing relay: %w", err)
	}
	metrics.TypingEventsTotal.WithLabelValues(metricLabel).Inc()
	return nil
}

// FindOrCreateChat returns the chat between the two users, creating it if
// this is their first conversation.
func (g *Gateway) FindOrCreateChat(ctx context.Context, userID, partnerID, exchangeID, chatType string) (*store.ChatSession, error) {
	return g.store.FindOrCreate(ctx, userID, partnerID, exchangeID, chatType)
}

// broadcastRead publishes a messages-read receipt to the whole room,
// including the reader's own connections, and to the reader's personal
// channel. The personal copy reaches the reader's devices that are not
// joined to the room so their unread counters reset too; devices that get
// both copies apply the second as a no-op.
func (g *Gateway) broadcastRead(chatID, readerID string) {
	data, err := protocol.NewServerMessage(protocol.TypeMessagesRead, protocol.MessagesReadMsg{
		ChatID: chatID,
		UserID: readerID,
	})
	if err != nil {
		log.Printf("chat: build messages-read chat=%s: %v", chatID, err)
		return
	}

	if err := g.bus.PublishRoom(chatID, messaging.RoomEvent{
		From:    readerID,
		Payload: data,
	}); err != nil {
		log.Printf("chat: messages-read fanout failed chat=%s: %v", chatID, err)
		return
	}
	if err := g.bus.PublishUser(readerID, data); err != nil {
		log.Printf("chat: messages-read personal push failed user=%s: %v", readerID, err)
	}
	metrics.ReadReceiptsTotal.Inc()
}

// broadcast serializes a server event and publishes it to the chat's room
// subject. excludeFrom, when non-empty, suppresses delivery to that user's
// connections on the receiving side.
func (g *Gateway) broadcast(chatID, from, excludeFrom, eventType string, payload interface{}) error {
	data, err := protocol.NewServerMessage(eventType, payload)
	if err != nil {
		return fmt.Errorf("chat: build %s: %w", eventType, err)
	}
	return g.bus.PublishRoom(chatID, messaging.RoomEvent{
		From:        from,
		ExcludeFrom: excludeFrom,
		Payload:     data,
	})
}

// MessageToPayload converts a persisted message to its wire representation.
func MessageToPayload(m *store.Message) protocol.MessagePayload {
	return protocol.MessagePayload{
		ID:          m.ID,
		ChatID:      m.ChatID,
		SenderID:    m.SenderID,
		Text:        m.Text,
		MessageType: m.MessageType,
		FileData:    m.FileData,
		Read:        m.Read,
		CreatedAt:   m.CreatedAt,
	}
}

// ChatToPayload converts a chat session and its message history to the wire
// representation used by chat-loaded and the REST snapshot endpoints.
func ChatToPayload(cs *store.ChatSession, messages []store.Message) protocol.ChatPayload {
	msgs := make([]protocol.MessagePayload, 0, len(messages))
	for i := range messages {
		msgs = append(msgs, MessageToPayload(&messages[i]))
	}
	return protocol.ChatPayload{
		ID:              cs.ID,
		Participants:    cs.Participants(),
		ExchangeID:      cs.ExchangeID,
		ChatType:        cs.ChatType,
		IsActive:        cs.IsActive,
		LastMessageText: cs.LastMessageText,
		LastMessageAt:   cs.LastMessageAt,
		Messages:        msgs,
	}
}
