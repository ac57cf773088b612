package arenaserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gladiator/internal/arenaserver"
	"github.com/cory-johannsen/gladiator/internal/config"
	"github.com/cory-johannsen/gladiator/internal/match"
	"github.com/cory-johannsen/gladiator/internal/stream"
	"github.com/cory-johannsen/gladiator/internal/testutil"
)

// serve starts the fiber app for f on a loopback port and returns its address.
func serve(t *testing.T, f *fixture) string {
	t.Helper()
	h := arenaserver.NewHandler(f.svc, time.Second, zap.NewNop())
	app := arenaserver.NewApp(config.HTTPConfig{ReadTimeout: 5 * time.Second}, h)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.ShutdownWithTimeout(time.Second) })
	return ln.Addr().String()
}

func get(t *testing.T, url, user string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(arenaserver.UserHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeAll(t *testing.T, r io.Reader) []stream.Event {
	t.Helper()
	dec := stream.NewDecoder(r)
	var out []stream.Event
	for {
		e, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, e)
	}
}

func TestHTTP_StreamStartAndWatch(t *testing.T) {
	f := newFixture(t, 0)
	addr := serve(t, f)

	resp := get(t, "http://"+addr+"/matches/m1/stream?mode=start&locale=en", "u-alpha")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	started := decodeAll(t, resp.Body)
	require.NotEmpty(t, started)
	assert.Equal(t, stream.EventComplete, started[len(started)-1].Type)

	resp = get(t, "http://"+addr+"/matches/m1/stream", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	watched := decodeAll(t, resp.Body)
	assert.Equal(t, logIDs(started), logIDs(watched))

	resp = get(t, "http://"+addr+"/matches/m1/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, map[string]string{"status": "completed", "winnerId": "bravo", "winnerMethod": "knockout"}, view)
}

func TestHTTP_StatusOfPendingMatchOmitsWinner(t *testing.T) {
	f := newFixture(t, 0)
	addr := serve(t, f)

	resp := get(t, "http://"+addr+"/matches/m1/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"pending"}`, string(body))
}

func TestHTTP_ErrorCodes(t *testing.T) {
	f := newFixture(t, 0)
	addr := serve(t, f)

	cases := []struct {
		name string
		path string
		user string
		code int
	}{
		{"unknown match stream", "/matches/nope/stream", "", http.StatusNotFound},
		{"unknown match status", "/matches/nope/status", "", http.StatusNotFound},
		{"start by non-owner", "/matches/m1/stream?mode=start", "u-intruder", http.StatusForbidden},
		{"start without caller", "/matches/m1/stream?mode=start", "", http.StatusForbidden},
		{"bad mode", "/matches/m1/stream?mode=replay", "u-alpha", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := get(t, "http://"+addr+tc.path, tc.user)
			assert.Equal(t, tc.code, resp.StatusCode)
			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])
		})
	}

	m, err := f.store.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, match.StatusPending, m.Status)
}

func TestHTTP_ClientDisconnectDoesNotStopLoop(t *testing.T) {
	f := newFixture(t, 0.05)
	addr := serve(t, f)

	client := testutil.NewStreamClient(t, addr, "/matches/m1/stream?mode=start", map[string]string{arenaserver.UserHeader: "u-alpha"})
	client.ReadUntil(`"type":"log"`, 5*time.Second)
	client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Wait(ctx))

	m, err := f.store.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, match.StatusCompleted, m.Status)
	entries, err := f.store.List(context.Background(), "m1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}
