package vitalvoice

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vitalvoice-ai/vitalvoice-go/pkg/chat"
	"github.com/vitalvoice-ai/vitalvoice-go/pkg/playback"
)

const (
	convA = "aaaaaaaaaaaaaaaaaaaaaaaa"
	convB = "bbbbbbbbbbbbbbbbbbbbbbbb"
)

// warpClock compresses playback time so test audio ends in microseconds.
type warpClock struct {
	start time.Time
}

func (c warpClock) Now() time.Duration {
	return time.Since(c.start) * 10000
}

func fastPlayback() playback.Config {
	return playback.Config{
		PollEvery: time.Millisecond,
		EndMargin: time.Millisecond,
		NewClock:  func() playback.Clock { return warpClock{start: time.Now()} },
	}
}

type statusLog struct {
	mu       sync.Mutex
	statuses []BotStatus
}

func (l *statusLog) record(s BotStatus) {
	l.mu.Lock()
	l.statuses = append(l.statuses, s)
	l.mu.Unlock()
}

func (l *statusLog) snapshot() []BotStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]BotStatus(nil), l.statuses...)
}

func (l *statusLog) last() BotStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.statuses) == 0 {
		return StatusIdle
	}
	return l.statuses[len(l.statuses)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func ttsHandler(pcm []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Write(pcm)
	}
}

func TestSendMessageLifecycle(t *testing.T) {
	reply := "Rest and hydrate."
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/create-new-chat", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"conversation_id":"` + convA + `","llm response":"` + reply + `"}`))
	})
	mux.Handle("/chat/chat-tts", ttsHandler(bytes.Repeat([]byte{0x01, 0x02}, 2400)))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithTypingInterval(time.Millisecond))
	var sl statusLog
	cv := c.NewConversation("", ConversationOptions{
		Playback: fastPlayback(),
		OnStatus: sl.record,
	})
	localID := cv.ActiveID()
	if chat.IsPersistedID(localID) {
		t.Fatalf("fresh conversation id %q should not look persisted", localID)
	}

	if err := cv.SendMessage(context.Background(), "I feel sick", nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	waitFor(t, "reply finalization", func() bool {
		conv, ok := cv.Cache().Get(convA)
		return ok && len(conv.Messages) == 2 && !conv.Messages[1].IsTyping
	})

	conv, _ := cv.Cache().Get(convA)
	if conv.Messages[0].Role != chat.RoleUser || conv.Messages[0].Text != "I feel sick" {
		t.Fatalf("user message = %+v", conv.Messages[0])
	}
	if conv.Messages[1].Role != chat.RoleAssistant || conv.Messages[1].Text != reply {
		t.Fatalf("assistant message = %+v", conv.Messages[1])
	}
	if cv.ActiveID() != convA {
		t.Fatalf("active = %q, want server id", cv.ActiveID())
	}
	if _, ok := cv.Cache().Get(localID); ok {
		t.Fatal("local id still in cache after rekey")
	}

	waitFor(t, "idle status", func() bool { return sl.last() == StatusIdle })
	want := []BotStatus{StatusReviewing, StatusReplying, StatusIdle}
	got := sl.snapshot()
	if len(got) != len(want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", got, want)
		}
	}
}

func TestStopCutsRevealAtFragment(t *testing.T) {
	reply := strings.Repeat("all work and no play makes a dull day ", 20)
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/existing-chat", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"llm response":"` + reply + `"}`))
	})
	mux.Handle("/chat/chat-tts", ttsHandler(bytes.Repeat([]byte{0x01, 0x02}, 1200)))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithTypingInterval(time.Millisecond))
	var sl statusLog
	var fragMu sync.Mutex
	var lastFrag string
	cv := c.NewConversation(convA, ConversationOptions{
		Playback: fastPlayback(),
		OnStatus: sl.record,
		OnFragment: func(frag string) {
			fragMu.Lock()
			lastFrag = frag
			fragMu.Unlock()
		},
	})

	go cv.SendMessage(context.Background(), "tell me everything", nil)

	waitFor(t, "reveal in progress", func() bool {
		fragMu.Lock()
		defer fragMu.Unlock()
		return len(lastFrag) > 5
	})
	cv.Stop()

	waitFor(t, "finalization", func() bool {
		conv, ok := cv.Cache().Get(convA)
		return ok && len(conv.Messages) == 2 && !conv.Messages[1].IsTyping
	})
	conv, _ := cv.Cache().Get(convA)
	final := conv.Messages[1].Text
	if final == reply {
		t.Fatal("stop revealed the full reply; want a cut")
	}
	if final == "" || !strings.HasPrefix(reply, final) {
		t.Fatalf("final %q is not a prefix of the reply", final)
	}
	waitFor(t, "idle after stop", func() bool { return cv.Status() == StatusIdle })
}

func TestTTSFailureFallsBackToTextOnly(t *testing.T) {
	reply := "Drink warm fluids."
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/existing-chat", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"llm response":"` + reply + `"}`))
	})
	mux.HandleFunc("/chat/chat-tts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithTypingInterval(time.Millisecond))
	var sl statusLog
	cv := c.NewConversation(convA, ConversationOptions{
		Playback: fastPlayback(),
		OnStatus: sl.record,
	})

	if err := cv.SendMessage(context.Background(), "what should I do", nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	waitFor(t, "text-only reveal", func() bool {
		conv, ok := cv.Cache().Get(convA)
		return ok && len(conv.Messages) == 2 &&
			!conv.Messages[1].IsTyping && conv.Messages[1].Text == reply
	})
	waitFor(t, "idle status", func() bool { return sl.last() == StatusIdle })

	sawReplying := false
	for _, s := range sl.snapshot() {
		if s == StatusReplying {
			sawReplying = true
		}
	}
	if !sawReplying {
		t.Fatal("reveal never entered replying")
	}
}

func TestRevealOutlivesAudioKeepsReplying(t *testing.T) {
	reply := strings.Repeat("rest and hydrate ", 20)
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/existing-chat", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"llm response":"` + reply + `"}`))
	})
	// A few samples only, so the scheduled audio ends long before the
	// reveal does.
	mux.Handle("/chat/chat-tts", ttsHandler(bytes.Repeat([]byte{0x01, 0x02}, 8)))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithTypingInterval(time.Millisecond))
	var sl statusLog
	var fragMu sync.Mutex
	var lastFrag string
	cv := c.NewConversation(convA, ConversationOptions{
		Playback: fastPlayback(),
		OnStatus: sl.record,
		OnFragment: func(frag string) {
			fragMu.Lock()
			lastFrag = frag
			fragMu.Unlock()
		},
	})

	go cv.SendMessage(context.Background(), "talk to me", nil)

	waitFor(t, "reveal well past the audio", func() bool {
		fragMu.Lock()
		defer fragMu.Unlock()
		return len(lastFrag) > 20
	})
	if got := cv.Status(); got != StatusReplying {
		t.Fatalf("status = %q mid-reveal, want replying until the reveal completes", got)
	}

	waitFor(t, "reveal completion", func() bool {
		conv, ok := cv.Cache().Get(convA)
		return ok && len(conv.Messages) == 2 && !conv.Messages[1].IsTyping
	})
	conv, _ := cv.Cache().Get(convA)
	if conv.Messages[1].Text != reply {
		t.Fatalf("assistant text = %q, want the full reply", conv.Messages[1].Text)
	}
	waitFor(t, "idle status", func() bool { return sl.last() == StatusIdle })
	want := []BotStatus{StatusReviewing, StatusReplying, StatusIdle}
	got := sl.snapshot()
	if len(got) != len(want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", got, want)
		}
	}
}

func TestSendDuringLingeringRevealFinalizesIt(t *testing.T) {
	reply1 := strings.Repeat("breathe in breathe out ", 20)
	reply2 := "Take deep breaths."
	var sends atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/existing-chat", func(w http.ResponseWriter, r *http.Request) {
		if sends.Add(1) == 1 {
			w.Write([]byte(`{"llm response":"` + reply1 + `"}`))
			return
		}
		w.Write([]byte(`{"llm response":"` + reply2 + `"}`))
	})
	mux.Handle("/chat/chat-tts", ttsHandler(bytes.Repeat([]byte{0x01, 0x02}, 8)))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithTypingInterval(time.Millisecond))
	var fragMu sync.Mutex
	var lastFrag string
	cv := c.NewConversation(convA, ConversationOptions{
		Playback: fastPlayback(),
		OnFragment: func(frag string) {
			fragMu.Lock()
			lastFrag = frag
			fragMu.Unlock()
		},
	})

	go cv.SendMessage(context.Background(), "first question", nil)

	// The first reveal outlives its tiny audio stream, so by now input is
	// back in the caller's hands while text is still typing out.
	waitFor(t, "first reveal in progress", func() bool {
		fragMu.Lock()
		defer fragMu.Unlock()
		return len(lastFrag) > 5
	})
	if err := cv.SendMessage(context.Background(), "second question", nil); err != nil {
		t.Fatalf("second SendMessage: %v", err)
	}

	waitFor(t, "second reply finalization", func() bool {
		conv, ok := cv.Cache().Get(convA)
		return ok && len(conv.Messages) == 4 && !conv.Messages[3].IsTyping
	})
	conv, _ := cv.Cache().Get(convA)
	for i, m := range conv.Messages {
		if m.IsTyping {
			t.Fatalf("message %d still typing", i)
		}
	}
	first := conv.Messages[1]
	if first.Role != chat.RoleAssistant || first.Text == "" {
		t.Fatalf("first reply never finalized: %+v", first)
	}
	if !strings.HasPrefix(reply1, first.Text) {
		t.Fatalf("first reply %q is not a prefix of its text", first.Text)
	}
	if first.Text == reply1 {
		t.Fatal("first reply revealed in full; want a cut at the fragment")
	}
	if conv.Messages[3].Text != reply2 {
		t.Fatalf("second reply = %q, want %q", conv.Messages[3].Text, reply2)
	}
}

func TestSendFailureRollsBackPlaceholder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/existing-chat", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail":"llm down"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithTypingInterval(time.Millisecond))
	var sl statusLog
	cv := c.NewConversation(convA, ConversationOptions{
		Playback: fastPlayback(),
		OnStatus: sl.record,
	})

	err := cv.SendMessage(context.Background(), "hello?", nil)
	if err == nil {
		t.Fatal("want error from failed send")
	}

	conv, _ := cv.Cache().Get(convA)
	if len(conv.Messages) != 1 {
		t.Fatalf("got %d messages, want 1; placeholder should roll back, user message stays", len(conv.Messages))
	}
	if conv.Messages[0].Role != chat.RoleUser {
		t.Fatalf("surviving message = %+v", conv.Messages[0])
	}
	if cv.ErrorText() == "" {
		t.Fatal("no inline error set")
	}
	if cv.Status() != StatusIdle {
		t.Fatalf("status = %q, want idle", cv.Status())
	}
}

func TestLoadOlderStopsOnDuplicatePage(t *testing.T) {
	var requests atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/get-chat-by-conversation_id/", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		// The backend keeps serving the same full page.
		w.Write([]byte(`{"data":[
			{"_id":"h2","chat_by_user":false,"content":"Hello!"},
			{"_id":"h1","chat_by_user":true,"content":"hi"}
		]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithHistoryPageSize(2))
	cv := c.NewConversation(convA, ConversationOptions{Playback: fastPlayback()})

	if err := cv.LoadOlder(context.Background()); err != nil {
		t.Fatalf("first LoadOlder: %v", err)
	}
	conv, _ := cv.Cache().Get(convA)
	if len(conv.Messages) != 2 || conv.Messages[0].ID != "h1" {
		t.Fatalf("after first page: %+v", conv.Messages)
	}

	if err := cv.LoadOlder(context.Background()); err != nil {
		t.Fatalf("second LoadOlder: %v", err)
	}
	conv, _ = cv.Cache().Get(convA)
	if len(conv.Messages) != 2 {
		t.Fatalf("duplicate page grew the conversation to %d messages", len(conv.Messages))
	}

	// Pagination ended; no further request goes out.
	if err := cv.LoadOlder(context.Background()); err != nil {
		t.Fatalf("third LoadOlder: %v", err)
	}
	if got := requests.Load(); got != 2 {
		t.Fatalf("backend saw %d history requests, want 2", got)
	}
}

func TestLoadOlderSkipsLocalConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request for a local conversation")
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	cv := c.NewConversation("", ConversationOptions{Playback: fastPlayback()})
	if err := cv.LoadOlder(context.Background()); err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
}

func TestBeginConversationPlaysReplyOnce(t *testing.T) {
	reply := "Welcome. How can I help?"
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/create-new-chat", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"conversation_id":"` + convA + `","llm response":"` + reply + `"}`))
	})
	mux.Handle("/chat/chat-tts", ttsHandler(bytes.Repeat([]byte{0x01, 0x02}, 1200)))
	mux.HandleFunc("/chat/get-chat-by-conversation_id/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithTypingInterval(time.Millisecond))
	cv := c.NewConversation("", ConversationOptions{Playback: fastPlayback()})

	id, err := cv.BeginConversation(context.Background(), "hello there", nil)
	if err != nil {
		t.Fatalf("BeginConversation: %v", err)
	}
	if id != convA {
		t.Fatalf("id = %q", id)
	}
	if cv.ActiveID() != convA {
		t.Fatalf("active = %q", cv.ActiveID())
	}

	waitFor(t, "first reply finalization", func() bool {
		conv, ok := cv.Cache().Get(convA)
		return ok && len(conv.Messages) == 2 && !conv.Messages[1].IsTyping
	})
	conv, _ := cv.Cache().Get(convA)
	if conv.Messages[1].Text != reply {
		t.Fatalf("assistant text = %q", conv.Messages[1].Text)
	}
	if conv.Title == "" {
		t.Fatal("conversation has no title")
	}

	// Navigating away and back must not replay the pending reply.
	if err := cv.Switch(context.Background(), convB); err != nil {
		t.Fatalf("switch away: %v", err)
	}
	if err := cv.Switch(context.Background(), convA); err != nil {
		t.Fatalf("switch back: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	conv, _ = cv.Cache().Get(convA)
	if len(conv.Messages) != 2 {
		t.Fatalf("got %d messages after revisits, want 2", len(conv.Messages))
	}
}

func TestRenameUpdatesCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/conversation/update-title" {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	cv := c.NewConversation(convA, ConversationOptions{Playback: fastPlayback()})
	if err := cv.Rename(context.Background(), convA, "Migraine"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	conv, _ := cv.Cache().Get(convA)
	if conv.Title != "Migraine" {
		t.Fatalf("title = %q", conv.Title)
	}
}

func TestDeleteActiveConversationResetsView(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	cv := c.NewConversation(convA, ConversationOptions{Playback: fastPlayback()})
	if err := cv.Delete(context.Background(), convA); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := cv.Cache().Get(convA); ok {
		t.Fatal("deleted conversation still cached")
	}
	if cv.ActiveID() == convA {
		t.Fatal("view still on the deleted conversation")
	}
	if chat.IsPersistedID(cv.ActiveID()) {
		t.Fatalf("active = %q, want a fresh local id", cv.ActiveID())
	}
}

func TestSwitchDiscardsStaleReply(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/existing-chat", func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`{"llm response":"too late"}`))
	})
	mux.HandleFunc("/chat/get-chat-by-conversation_id/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithTypingInterval(time.Millisecond))
	cv := c.NewConversation(convA, ConversationOptions{Playback: fastPlayback()})

	sendDone := make(chan error, 1)
	go func() {
		sendDone <- cv.SendMessage(context.Background(), "are you there", nil)
	}()

	waitFor(t, "reviewing", func() bool { return cv.Status() == StatusReviewing })
	if err := cv.Switch(context.Background(), convB); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	close(release)

	if err := <-sendDone; err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	conv, _ := cv.Cache().Get(convA)
	for _, m := range conv.Messages {
		if m.IsTyping {
			t.Fatal("placeholder still typing after switch")
		}
		if m.Text == "too late" {
			t.Fatal("stale reply landed in the cache")
		}
	}
	if cv.Status() != StatusIdle {
		t.Fatalf("status = %q, want idle", cv.Status())
	}
	if cv.ActiveID() != convB {
		t.Fatalf("active = %q, want %q", cv.ActiveID(), convB)
	}
}
