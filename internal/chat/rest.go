package chat

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/skillswap/chat-app/internal/apperr"
	"github.com/skillswap/chat-app/internal/auth"
	"github.com/skillswap/chat-app/internal/protocol"
	"github.com/skillswap/chat-app/internal/store"
)

// REST exposes chat snapshots over plain HTTP. The WebSocket push channel is
// the primary surface; these endpoints exist for the reconciliation flow
// (authoritative snapshots after a reconnect) and as a send fallback while
// the socket is down. A message accepted here is broadcast to the room
// exactly like one accepted over the socket.
type REST struct {
	gateway  *Gateway
	store    *store.Store
	verifier auth.Verifier
}

// NewREST creates the REST surface over the same gateway the WebSocket
// handlers use.
func NewREST(g *Gateway, st *store.Store, verifier auth.Verifier) *REST {
	return &REST{gateway: g, store: st, verifier: verifier}
}

// Routes returns the method-qualified patterns to mount on the server mux.
func (rs *REST) Routes() map[string]http.Handler {
	return map[string]http.Handler{
		"GET /api/chats":                rs.withAuth(rs.handleListChats),
		"POST /api/chats":               rs.withAuth(rs.handleCreateChat),
		"GET /api/chats/{id}":           rs.withAuth(rs.handleGetChat),
		"DELETE /api/chats/{id}":        rs.withAuth(rs.handleDeactivateChat),
		"POST /api/chats/{id}/messages": rs.withAuth(rs.handleSendMessage),
		"POST /api/chats/{id}/read":     rs.withAuth(rs.handleMarkRead),
		"GET /api/unread":               rs.withAuth(rs.handleUnreadCounts),
	}
}

type identityKey struct{}

// withAuth verifies the bearer token and stores the caller's identity on the
// request context.
func (rs *REST) withAuth(next func(http.ResponseWriter, *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, err := rs.verifier.Verify(auth.TokenFromRequest(r))
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, ident)
		next(w, r.WithContext(ctx))
	})
}

func callerID(r *http.Request) string {
	ident, _ := r.Context().Value(identityKey{}).(auth.Identity)
	return ident.ID
}

// chatSummary is one entry in the chat listing: the session metadata plus the
// caller's unread counter, without the message history.
type chatSummary struct {
	ID              string     `json:"id"`
	Participants    []string   `json:"participants"`
	ExchangeID      string     `json:"exchange_id,omitempty"`
	ChatType        string     `json:"chat_type"`
	IsActive        bool       `json:"is_active"`
	LastMessageText string     `json:"last_message_text,omitempty"`
	LastMessageAt   *time.Time `json:"last_message_at,omitempty"`
	UnreadCount     int        `json:"unread_count"`
}

func (rs *REST) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := rs.store.ListForUser(r.Context(), callerID(r))
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]chatSummary, 0, len(chats))
	for i := range chats {
		cs := &chats[i]
		out = append(out, chatSummary{
			ID:              cs.ID,
			Participants:    cs.Participants(),
			ExchangeID:      cs.ExchangeID,
			ChatType:        cs.ChatType,
			IsActive:        cs.IsActive,
			LastMessageText: cs.LastMessageText,
			LastMessageAt:   cs.LastMessageAt,
			UnreadCount:     cs.UnreadCount,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"chats": out})
}

type createChatRequest struct {
	PartnerID  string `json:"partner_id"`
	ExchangeID string `json:"exchange_id"`
	ChatType   string `json:"chat_type"`
}

func (rs *REST) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Invalid("invalid request body"))
		return
	}
	if req.PartnerID == "" {
		writeError(w, apperr.Invalid("partner_id is required"))
		return
	}
	if req.ChatType == "" {
		req.ChatType = "direct"
	}

	cs, err := rs.gateway.FindOrCreateChat(r.Context(), callerID(r), req.PartnerID, req.ExchangeID, req.ChatType)
	if err != nil {
		writeError(w, err)
		return
	}
	payload := ChatToPayload(cs, nil)
	writeJSON(w, http.StatusOK, map[string]interface{}{"chat": payload})
}

// handleGetChat returns the authoritative snapshot with full message history.
// Unlike the WebSocket load-chat, fetching a snapshot does not mark anything
// read; reconciliation must be able to pull state without side effects.
func (rs *REST) handleGetChat(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	cs, err := rs.store.Get(r.Context(), chatID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !cs.IsParticipant(callerID(r)) {
		writeError(w, apperr.Authorization("you are not a participant of this chat"))
		return
	}

	messages, err := rs.store.Messages(r.Context(), chatID)
	if err != nil {
		writeError(w, err)
		return
	}
	payload := ChatToPayload(cs, messages)
	writeJSON(w, http.StatusOK, map[string]interface{}{"chat": payload})
}

func (rs *REST) handleDeactivateChat(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	cs, err := rs.store.Get(r.Context(), chatID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !cs.IsParticipant(callerID(r)) {
		writeError(w, apperr.Authorization("you are not a participant of this chat"))
		return
	}

	if err := rs.store.Deactivate(r.Context(), chatID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sendMessageRequest struct {
	Text        string `json:"text"`
	MessageType string `json:"message_type"`
	FileData    string `json:"file_data"`
	ClientRef   string `json:"client_ref"`
}

func (rs *REST) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Invalid("invalid request body"))
		return
	}

	persisted, err := rs.gateway.SendMessage(r.Context(), callerID(r), protocol.SendMessageMsg{
		ChatID:      r.PathValue("id"),
		Text:        req.Text,
		MessageType: req.MessageType,
		FileData:    req.FileData,
		ClientRef:   req.ClientRef,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	payload := MessageToPayload(persisted)
	payload.ClientRef = req.ClientRef
	writeJSON(w, http.StatusCreated, map[string]interface{}{"message": payload})
}

func (rs *REST) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := rs.gateway.MarkRead(r.Context(), callerID(r), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rs *REST) handleUnreadCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := rs.store.UnreadCounts(r.Context(), callerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"unread": counts})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("chat: encode response: %v", err)
	}
}

// writeError maps a classified error to an HTTP status and a JSON body with
// the same code/message shape the WebSocket error event uses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindAuthentication:
		status = http.StatusUnauthorized
	case apperr.KindAuthorization:
		status = http.StatusForbidden
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindInvalid:
		status = http.StatusBadRequest
	case apperr.KindRateLimited:
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, map[string]string{
		"code":    apperr.CodeOf(err),
		"message": apperr.MessageOf(err),
	})
}
