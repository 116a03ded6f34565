package vitalvoice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestTokenStoreSubscribe(t *testing.T) {
	s := NewTokenStore()

	var mu sync.Mutex
	var seen []string
	cancel := s.Subscribe(func(tok string) {
		mu.Lock()
		seen = append(seen, tok)
		mu.Unlock()
	})

	s.Set("abc")
	s.Clear()
	cancel()
	s.Set("after-cancel")

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "abc" || seen[1] != "" {
		t.Fatalf("notifications = %q, want [abc \"\"]", seen)
	}
	if s.Get() != "after-cancel" {
		t.Fatalf("token = %q", s.Get())
	}
}

func TestAuthTransportInjectsBearer(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithToken("tok-123"))
	if err := c.doJSON(context.Background(), http.MethodGet, "/probe", nil, nil); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
}

func TestAuthTransportSkipsWhenSignedOut(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	if err := c.doJSON(context.Background(), http.MethodGet, "/probe", nil, nil); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if gotAuth != "" {
		t.Fatalf("Authorization = %q, want empty", gotAuth)
	}
}

func TestUnauthorizedResponseSignsOutEverywhere(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"token expired"}`))
	}))
	defer srv.Close()

	store := NewTokenStore()
	store.Set("stale-token")

	signedOut := false
	store.Subscribe(func(tok string) {
		if tok == "" {
			signedOut = true
		}
	})

	c := NewClient(WithBaseURL(srv.URL), WithTokenStore(store))
	err := c.doJSON(context.Background(), http.MethodGet, "/probe", nil, nil)
	apiErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("err = %v (%T), want *Error", err, err)
	}
	if apiErr.Type != ErrAuthentication || apiErr.Message != "token expired" {
		t.Fatalf("got %+v", apiErr)
	}
	if store.Get() != "" {
		t.Fatalf("token = %q, want cleared", store.Get())
	}
	if !signedOut {
		t.Fatal("subscriber was not notified of sign-out")
	}
}
