package spectator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cory-johannsen/gladiator/internal/match"
	"github.com/cory-johannsen/gladiator/internal/stream"
)

// Mode is the stream entry mode requested from the server.
type Mode string

const (
	ModeStart Mode = "start"
	ModeWatch Mode = "watch"
)

// StatusView mirrors the server's status endpoint payload.
type StatusView struct {
	Status       match.Status    `json:"status"`
	WinnerID     string          `json:"winnerId,omitempty"`
	WinnerMethod match.WinMethod `json:"winnerMethod,omitempty"`
}

// Stream is one open event stream.
type Stream interface {
	// Next blocks for the next event; io.EOF means the server closed the stream.
	Next() (stream.Event, error)
	Close() error
}

// Transport reaches the arena server.
type Transport interface {
	Status(ctx context.Context, matchID string) (StatusView, error)
	Open(ctx context.Context, matchID string, mode Mode, locale string) (Stream, error)
}

// HTTPError is a non-2xx response from the server.
type HTTPError struct {
	Code    int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("server responded %d: %s", e.Code, e.Message)
}

// Unwrap maps the response code onto the shared sentinel errors.
func (e *HTTPError) Unwrap() error {
	switch e.Code {
	case http.StatusNotFound:
		return match.ErrMatchNotFound
	case http.StatusForbidden:
		return match.ErrForbidden
	}
	return nil
}

// Permanent reports whether retrying the same request cannot succeed.
func (e *HTTPError) Permanent() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests
}

// HTTPTransport talks to the server over HTTP with server-sent events.
type HTTPTransport struct {
	baseURL string
	userID  string
	client  *http.Client
}

// NewHTTPTransport creates a transport for baseURL ("http://host:port").
// userID is sent in the X-User-ID header when non-empty; client defaults to
// a client without a timeout, since streams are long-lived.
func NewHTTPTransport(baseURL, userID string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{baseURL: strings.TrimRight(baseURL, "/"), userID: userID, client: client}
}

func (t *HTTPTransport) get(ctx context.Context, path string, query url.Values, accept string) (*http.Response, error) {
	u := t.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", accept)
	if t.userID != "" {
		req.Header.Set("X-User-ID", t.userID)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, readHTTPError(resp)
	}
	return resp, nil
}

func readHTTPError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}
	return &HTTPError{Code: resp.StatusCode, Message: body.Error}
}

// Status queries the status endpoint.
func (t *HTTPTransport) Status(ctx context.Context, matchID string) (StatusView, error) {
	resp, err := t.get(ctx, "/matches/"+url.PathEscape(matchID)+"/status", nil, "application/json")
	if err != nil {
		return StatusView{}, fmt.Errorf("querying status of %s: %w", matchID, err)
	}
	defer resp.Body.Close()
	var view StatusView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return StatusView{}, fmt.Errorf("decoding status of %s: %w", matchID, err)
	}
	return view, nil
}

// Open starts or watches the match stream.
func (t *HTTPTransport) Open(ctx context.Context, matchID string, mode Mode, locale string) (Stream, error) {
	q := url.Values{"mode": {string(mode)}}
	if locale != "" {
		q.Set("locale", locale)
	}
	resp, err := t.get(ctx, "/matches/"+url.PathEscape(matchID)+"/stream", q, "text/event-stream")
	if err != nil {
		return nil, fmt.Errorf("opening stream of %s: %w", matchID, err)
	}
	return &httpStream{body: resp.Body, dec: stream.NewDecoder(resp.Body)}, nil
}

type httpStream struct {
	body io.ReadCloser
	dec  *stream.Decoder
}

func (s *httpStream) Next() (stream.Event, error) { return s.dec.Next() }
func (s *httpStream) Close() error                { return s.body.Close() }

// permanent reports whether err rules out any retry.
func permanent(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.Permanent()
}
