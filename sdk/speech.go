package vitalvoice

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cast"
)

// SpeechService covers both directions of speech: synthesized replies out,
// transcribed microphone audio in.
type SpeechService struct {
	client *Client
}

// Stream requests synthesized speech for text and returns the raw PCM16LE
// byte stream. The response is consumed incrementally; the caller owns the
// reader and must close it.
func (s *SpeechService) Stream(ctx context.Context, text string) (io.ReadCloser, error) {
	path := "/chat/chat-tts?text=" + url.QueryEscape(text)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.client.url(path), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "POST " + path, URL: s.client.url(path), Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, apiErrorFrom(resp)
	}
	return resp.Body, nil
}

// StreamWS is the low-latency WebSocket variant of Stream: PCM chunks
// arrive as binary frames, a normal close or a "done" text frame ends the
// stream. The returned reader presents the same contract as Stream.
func (s *SpeechService) StreamWS(ctx context.Context, text string) (io.ReadCloser, error) {
	wsURL, err := s.wsEndpoint("/chat/chat-tts-ws?text=" + url.QueryEscape(text))
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if tok := s.client.tokens.Get(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, &TransportError{Op: "WS " + wsURL, URL: wsURL, Err: err}
	}
	return &wsPCMReader{conn: conn}, nil
}

func (s *SpeechService) wsEndpoint(path string) (string, error) {
	u, err := url.Parse(s.client.url(path))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}

// wsPCMReader adapts a binary-frame WebSocket into an io.ReadCloser of PCM
// bytes.
type wsPCMReader struct {
	conn *websocket.Conn
	buf  []byte
}

func (r *wsPCMReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		mt, data, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return 0, io.EOF
			}
			return 0, err
		}
		switch mt {
		case websocket.BinaryMessage:
			r.buf = data
		case websocket.TextMessage:
			if strings.EqualFold(strings.TrimSpace(string(data)), "done") {
				return 0, io.EOF
			}
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *wsPCMReader) Close() error {
	_ = r.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return r.conn.Close()
}

// Transcribe posts recorded audio and returns the recognized text. The
// field carrying the transcript has drifted across backend versions.
func (s *SpeechService) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	var raw map[string]any
	if err := s.client.doMultipart(ctx, "/chat/speech-to-text", "audio", filename, audio, &raw); err != nil {
		return "", err
	}
	for _, key := range []string{"response", "text", "transcript"} {
		if t := cast.ToString(raw[key]); t != "" {
			return t, nil
		}
	}
	return "", nil
}
