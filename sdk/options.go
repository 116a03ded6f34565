package vitalvoice

import (
	"log/slog"
	"net/http"
	"time"
)

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithBaseURL sets the API base URL, overriding VITALVOICE_BASE_URL.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client. Its transport is wrapped with
// bearer-token injection.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets a client-wide request timeout. Leave it unset for
// interactive use: the TTS stream can outlive any fixed timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger sets the logger for the client.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithTokenStore shares an existing token store, so that sign-in and
// sign-out propagate across clients.
func WithTokenStore(s *TokenStore) ClientOption {
	return func(c *Client) {
		if s != nil {
			c.tokens = s
		}
	}
}

// WithToken seeds the token store with a bearer token.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.tokens.Set(token)
	}
}

// WithSampleRate overrides the expected TTS sample rate.
func WithSampleRate(rate int) ClientOption {
	return func(c *Client) {
		if rate > 0 {
			c.sampleRate = rate
		}
	}
}

// WithTypingInterval overrides the typewriter reveal cadence.
func WithTypingInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.typingTick = d
		}
	}
}

// WithHistoryPageSize overrides the fixed history page size.
func WithHistoryPageSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}
