package vitalvoice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vitalvoice-ai/vitalvoice-go/pkg/chat"
)

func TestHistoryPageReversesToChronological(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat/get-chat-by-conversation_id/aaaaaaaaaaaaaaaaaaaaaaaa" {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		// Newest first, the way the backend serves pages.
		w.Write([]byte(`{"data":[
			{"_id":"m3","chat_by_user":false,"content":{"llm response":"Rest well."}},
			{"_id":"m2","chat_by_user":true,"content":"I feel tired"},
			{"_id":"m1","chat_by_user":false,"content":"Hello, how can I help?"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	msgs, hasMore, err := c.History.Page(context.Background(), "aaaaaaaaaaaaaaaaaaaaaaaa", 1, 3)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if gotQuery != "page=1&limit=3" {
		t.Fatalf("query = %q", gotQuery)
	}
	if !hasMore {
		t.Fatal("full page should report more")
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[2].ID != "m3" {
		t.Fatalf("order = %q %q %q, want oldest first", msgs[0].ID, msgs[1].ID, msgs[2].ID)
	}
	if msgs[1].Role != chat.RoleUser || msgs[1].Text != "I feel tired" {
		t.Fatalf("user message = %+v", msgs[1])
	}
	if msgs[2].Role != chat.RoleAssistant || msgs[2].Text != "Rest well." {
		t.Fatalf("assistant message = %+v", msgs[2])
	}
}

func TestHistoryPageShortPageEndsPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"_id":"m1","chat_by_user":true,"content":"hi"}]}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	msgs, hasMore, err := c.History.Page(context.Background(), "aaaaaaaaaaaaaaaaaaaaaaaa", 2, 20)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if hasMore {
		t.Fatal("short page should end pagination")
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
}

func TestHistoryPageMapsAttachmentURI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"_id":"m1","chat_by_user":true,"content":"see attached","uri":"https://cdn.example.com/scan.png"}]}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	msgs, _, err := c.History.Page(context.Background(), "aaaaaaaaaaaaaaaaaaaaaaaa", 1, 20)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if len(msgs) != 1 || len(msgs[0].Files) != 1 {
		t.Fatalf("got %+v", msgs)
	}
	if msgs[0].Files[0].Preview != "https://cdn.example.com/scan.png" {
		t.Fatalf("preview = %q", msgs[0].Files[0].Preview)
	}
}

func TestHistoryPageUnknownAssistantPayloadDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"_id":"m1","chat_by_user":false,"content":{"surprise":true}}]}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	msgs, _, err := c.History.Page(context.Background(), "aaaaaaaaaaaaaaaaaaaaaaaa", 1, 20)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if msgs[0].Text != chat.FallbackAdvice {
		t.Fatalf("text = %q, want fallback advice", msgs[0].Text)
	}
}
