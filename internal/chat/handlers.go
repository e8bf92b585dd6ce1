package chat

import (
	"context"
	"log"
	"time"

	"github.com/skillswap/chat-app/internal/presence"
	"github.com/skillswap/chat-app/internal/protocol"
	"github.com/skillswap/chat-app/internal/room"
	"github.com/skillswap/chat-app/internal/ws"
)

// handlerTimeout bounds the database and fanout work done for a single
// client message.
const handlerTimeout = 10 * time.Second

// RegisterHandlers wires every client message type to its implementation on
// the dispatcher. Failures are reported privately to the initiating
// connection as error events; nothing is broadcast on a rejected action.
func RegisterHandlers(d *ws.MessageDispatcher, g *Gateway, rooms *room.Manager, tracker *presence.Tracker) {
	d.Register(protocol.TypeJoinChat, func(conn *ws.Connection, msg interface{}) {
		m := msg.(protocol.JoinChatMsg)
		if err := rooms.Join(conn, m.ChatID); err != nil {
			log.Printf("chat: join failed chat=%s user=%s: %v", m.ChatID, conn.UserID(), err)
			d.SendError(conn, err)
		}
	})

	d.Register(protocol.TypeLeaveChat, func(conn *ws.Connection, msg interface{}) {
		m := msg.(protocol.LeaveChatMsg)
		rooms.Leave(conn, m.ChatID)
	})

	d.Register(protocol.TypeLoadChat, func(conn *ws.Connection, msg interface{}) {
		m := msg.(protocol.LoadChatMsg)
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()

		payload, err := g.LoadChat(ctx, conn.UserID(), m.ChatID)
		if err != nil {
			log.Printf("chat: load failed chat=%s user=%s: %v", m.ChatID, conn.UserID(), err)
			d.SendError(conn, err)
			return
		}
		sendTo(conn, protocol.TypeChatLoaded, protocol.ChatLoadedMsg{Chat: *payload})
	})

	d.Register(protocol.TypeSendMessage, func(conn *ws.Connection, msg interface{}) {
		m := msg.(protocol.SendMessageMsg)
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()

		if _, err := g.SendMessage(ctx, conn.UserID(), m); err != nil {
			log.Printf("chat: send failed chat=%s user=%s: %v", m.ChatID, conn.UserID(), err)
			d.SendError(conn, err)
		}
	})

	d.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		m := msg.(protocol.TypingMsg)
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()

		if err := g.Typing(ctx, conn.UserID(), m.ChatID); err != nil {
			d.SendError(conn, err)
		}
	})

	d.Register(protocol.TypeStopTyping, func(conn *ws.Connection, msg interface{}) {
		m := msg.(protocol.StopTypingMsg)
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()

		if err := g.StopTyping(ctx, conn.UserID(), m.ChatID); err != nil {
			d.SendError(conn, err)
		}
	})

	d.Register(protocol.TypeMarkAsRead, func(conn *ws.Connection, msg interface{}) {
		m := msg.(protocol.MarkAsReadMsg)
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()

		if err := g.MarkRead(ctx, conn.UserID(), m.ChatID); err != nil {
			log.Printf("chat: mark read failed chat=%s user=%s: %v", m.ChatID, conn.UserID(), err)
			d.SendError(conn, err)
		}
	})

	d.Register(protocol.TypeSetOnline, func(conn *ws.Connection, msg interface{}) {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		tracker.MarkOnline(ctx, conn)
	})

	d.Register(protocol.TypeGetOnlineUsers, func(conn *ws.Connection, msg interface{}) {
		sendTo(conn, protocol.TypeOnlineUsers, protocol.OnlineUsersMsg{
			Users: tracker.OnlineUsers(),
		})
	})
}

// sendTo serializes a server message and writes it privately to one
// connection.
func sendTo(conn *ws.Connection, eventType string, payload interface{}) {
	data, err := protocol.NewServerMessage(eventType, payload)
	if err != nil {
		log.Printf("chat: build %s: %v", eventType, err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("chat: write %s conn=%s: %v", eventType, conn.ID, err)
	}
}
