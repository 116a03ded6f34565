// Package vitalvoice provides the Go client for the VitalVoice
// health-guidance chat API: conversation management, paginated history,
// medical image upload, speech-to-text, and the synchronized text-plus-audio
// reply playback that drives the conversation view.
package vitalvoice

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/vitalvoice-ai/vitalvoice-go/pkg/playback"
	"github.com/vitalvoice-ai/vitalvoice-go/pkg/typewriter"
)

// Client is the main entry point for the SDK.
type Client struct {
	Chat    *ChatService
	History *HistoryService
	Speech  *SpeechService
	Media   *MediaService

	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	tokens     *TokenStore
	timeout    time.Duration
	sampleRate int
	typingTick time.Duration
	pageSize   int
}

// NewClient creates a client. The base URL defaults to the
// VITALVOICE_BASE_URL environment variable.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    os.Getenv("VITALVOICE_BASE_URL"),
		logger:     slog.Default(),
		tokens:     NewTokenStore(),
		sampleRate: playback.DefaultSampleRate,
		typingTick: typewriter.DefaultInterval,
		pageSize:   defaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = newDefaultHTTPClient()
	}
	if c.timeout > 0 {
		c.httpClient.Timeout = c.timeout
	}
	base := c.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c.httpClient.Transport = &authTransport{base: base, tokens: c.tokens}

	c.Chat = &ChatService{client: c}
	c.History = &HistoryService{client: c}
	c.Speech = &SpeechService{client: c}
	c.Media = &MediaService{client: c}
	return c
}

// Tokens returns the client's observable session state.
func (c *Client) Tokens() *TokenStore {
	return c.tokens
}
