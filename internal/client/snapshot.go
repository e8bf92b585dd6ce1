package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/skillswap/chat-app/internal/apperr"
	"github.com/skillswap/chat-app/internal/protocol"
)

// HTTPSnapshotAPI implements SnapshotAPI against the server's REST surface.
type HTTPSnapshotAPI struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPSnapshotAPI creates a snapshot client for the given base URL
// (e.g. "http://localhost:8080").
func NewHTTPSnapshotAPI(baseURL, token string) *HTTPSnapshotAPI {
	return &HTTPSnapshotAPI{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// FetchChat pulls the authoritative chat snapshot with full message history.
func (a *HTTPSnapshotAPI) FetchChat(ctx context.Context, chatID string) (*protocol.ChatPayload, error) {
	var body struct {
		Chat protocol.ChatPayload `json:"chat"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/chats/"+chatID, nil, &body); err != nil {
		return nil, err
	}
	return &body.Chat, nil
}

// PostMessage sends a message over REST, the fallback used while the live
// channel is down. The response carries the confirmed copy with the
// server-assigned id and the echoed client_ref.
func (a *HTTPSnapshotAPI) PostMessage(ctx context.Context, chatID string, msg protocol.SendMessageMsg) (*protocol.MessagePayload, error) {
	req := map[string]string{
		"text":         msg.Text,
		"message_type": msg.MessageType,
		"file_data":    msg.FileData,
		"client_ref":   msg.ClientRef,
	}
	var body struct {
		Message protocol.MessagePayload `json:"message"`
	}
	if err := a.do(ctx, http.MethodPost, "/api/chats/"+chatID+"/messages", req, &body); err != nil {
		return nil, err
	}
	return &body.Message, nil
}

func (a *HTTPSnapshotAPI) do(ctx context.Context, method, path string, in, out interface{}) error {
	var reqBody *bytes.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("client: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return apperr.Transient("snapshot request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

// decodeError maps a REST error body back onto the shared taxonomy so the
// engine treats rejections identically on both transports.
func decodeError(resp *http.Response) error {
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Code == "" {
		return apperr.Transient(fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	kind := apperr.KindTransient
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		kind = apperr.KindAuthentication
	case http.StatusForbidden:
		kind = apperr.KindAuthorization
	case http.StatusNotFound:
		kind = apperr.KindNotFound
	case http.StatusBadRequest:
		kind = apperr.KindInvalid
	case http.StatusTooManyRequests:
		kind = apperr.KindRateLimited
	}
	return apperr.New(kind, body.Code, body.Message)
}
