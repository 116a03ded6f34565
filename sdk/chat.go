package vitalvoice

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cast"
)

// ChatService talks to the conversation endpoints.
type ChatService struct {
	client *Client
}

// CreateChatResult is the outcome of starting a new conversation.
type CreateChatResult struct {
	// ConversationID is the server-assigned persisted id.
	ConversationID string
	// Reply is the raw first reply payload; flatten it with chat.ReplyText.
	Reply any
}

// Create starts a new conversation with an opening message and returns the
// persisted id together with the first reply. imageURI references a file
// already uploaded via MediaService.
func (s *ChatService) Create(ctx context.Context, content, title, imageURI string) (*CreateChatResult, error) {
	payload := map[string]any{
		"content": content,
		"title":   title,
	}
	if imageURI != "" {
		payload["image_uri"] = imageURI
	}
	var raw map[string]any
	if err := s.client.doJSON(ctx, http.MethodPost, "/chat/create-new-chat", payload, &raw); err != nil {
		return nil, err
	}

	res := &CreateChatResult{}
	// The id field name has drifted across backend versions.
	for _, key := range []string{"conversation_id", "id", "_id"} {
		if id := cast.ToString(raw[key]); id != "" {
			res.ConversationID = id
			break
		}
	}
	if res.ConversationID == "" {
		return nil, fmt.Errorf("create chat: response carries no conversation id")
	}
	if reply, ok := raw["llm response"]; ok {
		res.Reply = reply
	} else {
		res.Reply = raw["response"]
	}
	return res, nil
}

// Send posts a follow-up message to an existing conversation and returns
// the raw reply payload; flatten it with chat.ReplyText.
func (s *ChatService) Send(ctx context.Context, conversationID, content, imageURI string) (any, error) {
	payload := map[string]any{
		"conversation_id": conversationID,
		"content":         content,
	}
	if imageURI != "" {
		payload["image_uri"] = imageURI
	}
	var raw any
	if err := s.client.doJSON(ctx, http.MethodPost, "/chat/existing-chat", payload, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Summary is a sidebar entry.
type Summary struct {
	ID    string `json:"_id"`
	Title string `json:"title"`
}

// List returns the user's conversations for the sidebar, most recent first.
func (s *ChatService) List(ctx context.Context) ([]Summary, error) {
	var out struct {
		Data []Summary `json:"data"`
	}
	if err := s.client.doJSON(ctx, http.MethodGet, "/conversation/get-all-conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Rename updates a conversation title.
func (s *ChatService) Rename(ctx context.Context, conversationID, title string) error {
	payload := map[string]any{
		"conversation_id": conversationID,
		"title":           title,
	}
	return s.client.doJSON(ctx, http.MethodPatch, "/conversation/update-title", payload, nil)
}

// Delete removes a conversation server-side.
func (s *ChatService) Delete(ctx context.Context, conversationID string) error {
	path := "/conversation/delete-conversation/" + url.PathEscape(conversationID)
	return s.client.doJSON(ctx, http.MethodDelete, path, nil, nil)
}
