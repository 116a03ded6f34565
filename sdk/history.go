package vitalvoice

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cast"

	"github.com/vitalvoice-ai/vitalvoice-go/pkg/chat"
)

// defaultPageSize is the fixed history page size.
const defaultPageSize = 20

// HistoryService fetches persisted messages page by page.
type HistoryService struct {
	client *Client
}

type historyRecord struct {
	ID         string `json:"_id"`
	ChatByUser bool   `json:"chat_by_user"`
	Content    any    `json:"content"`
	URI        string `json:"uri"`
}

// Page fetches one page of persisted messages. The backend returns pages
// newest-first; the result is reversed to chronological oldest-first, ready
// to merge at the older edge of the cache. hasMore is false when the page
// came back short.
func (s *HistoryService) Page(ctx context.Context, conversationID string, page, limit int) ([]chat.Message, bool, error) {
	if limit <= 0 {
		limit = s.client.pageSize
	}
	path := fmt.Sprintf("/chat/get-chat-by-conversation_id/%s?page=%d&limit=%d",
		url.PathEscape(conversationID), page, limit)

	var out struct {
		Data []historyRecord `json:"data"`
	}
	if err := s.client.doJSON(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, false, err
	}

	msgs := make([]chat.Message, 0, len(out.Data))
	for i := len(out.Data) - 1; i >= 0; i-- {
		msgs = append(msgs, mapHistoryRecord(out.Data[i]))
	}
	return msgs, len(out.Data) >= limit, nil
}

func mapHistoryRecord(rec historyRecord) chat.Message {
	m := chat.Message{ID: rec.ID}
	if rec.ChatByUser {
		m.Role = chat.RoleUser
		m.Text = cast.ToString(rec.Content)
	} else {
		m.Role = chat.RoleAssistant
		m.Text = chat.ReplyText(rec.Content)
	}
	if rec.URI != "" {
		m.Files = []chat.Attachment{{Preview: rec.URI}}
	}
	return m
}
