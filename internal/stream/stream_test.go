package stream_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/gladiator/internal/match"
	"github.com/cory-johannsen/gladiator/internal/storage/memory"
	"github.com/cory-johannsen/gladiator/internal/stream"
)

func entry(n int, healthA, healthB int) match.LogEntry {
	return match.LogEntry{
		ID:           "log-" + string(rune('a'+n)),
		MatchID:      "m1",
		ActionNumber: n,
		Type:         match.LogAction,
		Message:      "blow",
		Locale:       "en",
		HealthA:      healthA,
		HealthB:      healthB,
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, n, 0, time.UTC),
	}
}

func collect(t *testing.T, src stream.Source) []stream.Event {
	t.Helper()
	var out []stream.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-src.Events():
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatalf("source did not end; got %d events", len(out))
		}
	}
}

func TestEncode_Framing(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, stream.Encode(&buf, stream.PingEvent()))
	require.NoError(t, stream.Encode(&buf, stream.CompleteEvent(match.Outcome{WinnerID: "b", WinnerMethod: match.MethodDecision})))
	require.NoError(t, stream.Encode(&buf, stream.CompleteEvent(match.Outcome{})))
	assert.Equal(t,
		"data: {\"type\":\"ping\"}\n\n"+
			"data: {\"type\":\"complete\",\"winnerId\":\"b\",\"winnerMethod\":\"decision\"}\n\n"+
			"data: {\"type\":\"complete\"}\n\n",
		buf.String())
}

func TestDecoder_ReadsEncodedEvents(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(": connected\n\n")
	require.NoError(t, stream.Encode(&buf, stream.LogEvent(entry(0, 100, 100))))
	buf.WriteString("event: message\nid: 7\n")
	require.NoError(t, stream.Encode(&buf, stream.ErrorEvent("boom")))

	d := stream.NewDecoder(&buf)
	first, err := d.Next()
	require.NoError(t, err)
	require.Equal(t, stream.EventLog, first.Type)
	assert.Equal(t, 0, first.Log.ActionNumber)
	assert.Equal(t, 100, first.Log.HealthB)

	second, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, stream.ErrorEvent("boom"), second)

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_RejectsMalformed(t *testing.T) {
	for _, body := range []string{"data: nope\n\n", "data: {\"type\":\"log\"}\n\n", "data: {\"type\":\"party\"}\n\n"} {
		_, err := stream.NewDecoder(strings.NewReader(body)).Next()
		assert.ErrorIs(t, err, stream.ErrMalformedEvent, body)
	}
}

// Property: any sequence of log entries survives encode then decode in order.
func TestEncodeDecode_PreservesOrder_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(rt, "n")
		var buf bytes.Buffer
		for i := 0; i < n; i++ {
			e := entry(i, 100-i, 100)
			e.Message = rapid.StringMatching(`[a-zA-Z ,.'"!]{0,40}`).Draw(rt, "message")
			if err := stream.Encode(&buf, stream.LogEvent(e)); err != nil {
				rt.Fatal(err)
			}
		}
		d := stream.NewDecoder(&buf)
		for i := 0; i < n; i++ {
			e, err := d.Next()
			if err != nil {
				rt.Fatalf("event %d: %v", i, err)
			}
			if e.Log.ActionNumber != i {
				rt.Fatalf("event %d decoded as action %d", i, e.Log.ActionNumber)
			}
		}
		if _, err := d.Next(); !errors.Is(err, io.EOF) {
			rt.Fatalf("expected EOF, got %v", err)
		}
	})
}

func TestRelay_DeliversInOrderAndEndsOnTerminal(t *testing.T) {
	r := stream.NewRelay()
	defer r.Close()
	for i := 0; i < 500; i++ {
		r.OnLog(entry(i, 100, 100))
	}
	r.OnComplete(match.Outcome{WinnerID: "a", WinnerMethod: match.MethodKnockout})
	r.OnLog(entry(999, 0, 0))

	events := collect(t, r)
	require.Len(t, events, 501)
	for i := 0; i < 500; i++ {
		assert.Equal(t, i, events[i].Log.ActionNumber)
	}
	assert.Equal(t, stream.EventComplete, events[500].Type)
}

func TestRelay_CloseDropsFurtherEvents(t *testing.T) {
	r := stream.NewRelay()
	r.OnLog(entry(0, 100, 100))
	r.Close()
	r.Close()
	r.OnLog(entry(1, 90, 100))
	r.OnError(errors.New("late"))

	for range r.Events() {
	}
}

func TestHub_NotifyWakesSubscribers(t *testing.T) {
	h := stream.NewHub()
	ch, cancel := h.Subscribe("m1")
	other, cancelOther := h.Subscribe("m2")
	defer cancelOther()
	assert.Equal(t, 1, h.Subscribers("m1"))

	h.Notify("m1")
	h.Notify("m1")
	select {
	case <-ch:
	default:
		t.Fatal("subscriber was not woken")
	}
	select {
	case <-other:
		t.Fatal("unrelated subscriber woken")
	default:
	}

	cancel()
	assert.Equal(t, 0, h.Subscribers("m1"))
	h.Notify("m1")
}

func newWatcher(store *memory.Store, hub *stream.Hub, poll time.Duration) *stream.Watcher {
	return stream.NewWatcher(store, store, hub, poll, zap.NewNop())
}

func TestWatcher_ReplaysCompletedMatch(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.PutMatch(match.Match{ID: "m1", ParticipantA: "a", ParticipantB: "b", Status: match.StatusInProgress})
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Append(ctx, entry(i, 100-10*i, 100)))
	}
	require.NoError(t, store.Complete(ctx, "m1", match.Outcome{WinnerID: "b", WinnerMethod: match.MethodDecision, TotalActions: 2}, time.Now()))

	events := collect(t, newWatcher(store, nil, time.Hour).Watch(ctx, "m1"))
	require.Len(t, events, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, i, events[i].Log.ActionNumber)
	}
	assert.Equal(t, stream.CompleteEvent(match.Outcome{WinnerID: "b", WinnerMethod: match.MethodDecision}), events[3])
}

func TestWatcher_TailsLiveMatch(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	hub := stream.NewHub()
	store.PutMatch(match.Match{ID: "m1", ParticipantA: "a", ParticipantB: "b", Status: match.StatusInProgress})
	require.NoError(t, store.Append(ctx, entry(0, 100, 100)))

	src := newWatcher(store, hub, time.Hour).Watch(ctx, "m1")
	defer src.Close()

	first := <-src.Events()
	assert.Equal(t, 0, first.Log.ActionNumber)

	require.NoError(t, store.Append(ctx, entry(1, 80, 100)))
	hub.Notify("m1")
	second := <-src.Events()
	assert.Equal(t, 1, second.Log.ActionNumber)

	require.NoError(t, store.Complete(ctx, "m1", match.Outcome{TotalActions: 1}, time.Now()))
	hub.Notify("m1")
	last := <-src.Events()
	assert.Equal(t, stream.EventComplete, last.Type)
	_, open := <-src.Events()
	assert.False(t, open)
}

func TestWatcher_PollsWithoutHub(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.PutMatch(match.Match{ID: "m1", ParticipantA: "a", ParticipantB: "b", Status: match.StatusInProgress})

	src := newWatcher(store, nil, 5*time.Millisecond).Watch(ctx, "m1")
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, store.Append(ctx, entry(0, 100, 100)))
	require.NoError(t, store.Complete(ctx, "m1", match.Outcome{}, time.Now()))

	events := collect(t, src)
	require.Len(t, events, 2)
	assert.Equal(t, stream.EventLog, events[0].Type)
	assert.Equal(t, stream.EventComplete, events[1].Type)
}

func TestWatcher_FailedAndMissingMatchesEndWithError(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.PutMatch(match.Match{ID: "m1", ParticipantA: "a", ParticipantB: "b", Status: match.StatusInProgress})
	require.NoError(t, store.Fail(ctx, "m1", "participants missing", time.Now()))

	events := collect(t, newWatcher(store, nil, time.Hour).Watch(ctx, "m1"))
	require.Len(t, events, 1)
	assert.Equal(t, stream.ErrorEvent("match failed: participants missing"), events[0])

	events = collect(t, newWatcher(store, nil, time.Hour).Watch(ctx, "nope"))
	require.Len(t, events, 1)
	assert.Equal(t, stream.EventError, events[0].Type)
}

type bufferFlusher struct {
	bytes.Buffer
	flushErr error
	flushes  int
}

func (b *bufferFlusher) Flush() error {
	b.flushes++
	return b.flushErr
}

func TestPublish_WritesUntilTerminal(t *testing.T) {
	src := stream.NewStatic(
		stream.LogEvent(entry(0, 100, 100)),
		stream.CompleteEvent(match.Outcome{}),
		stream.PingEvent(),
	)
	var w bufferFlusher
	require.NoError(t, stream.Publish(context.Background(), &w, src, time.Hour))
	assert.Equal(t, 2, strings.Count(w.String(), "data: "))
	assert.True(t, strings.HasSuffix(w.String(), "data: {\"type\":\"complete\"}\n\n"))
	assert.Equal(t, 2, w.flushes)
}

func TestPublish_PingsIdleStream(t *testing.T) {
	r := stream.NewRelay()
	defer r.Close()
	var w bufferFlusher
	done := make(chan error, 1)
	go func() { done <- stream.Publish(context.Background(), &w, r, 5*time.Millisecond) }()

	time.Sleep(30 * time.Millisecond)
	r.OnError(errors.New("stopped"))
	require.NoError(t, <-done)
	assert.Contains(t, w.String(), `{"type":"ping"}`)
	assert.True(t, strings.HasSuffix(w.String(), "data: {\"type\":\"error\",\"message\":\"stopped\"}\n\n"))
}

func TestPublish_ShutdownEndsWithErrorEvent(t *testing.T) {
	r := stream.NewRelay()
	defer r.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var w bufferFlusher
	err := stream.Publish(ctx, &w, r, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "data: {\"type\":\"error\",\"message\":\"server shutting down\"}\n\n", w.String())
}

func TestPublish_ShutdownForwardsQueuedEvents(t *testing.T) {
	r := stream.NewRelay()
	defer r.Close()
	r.OnLog(entry(0, 100, 100))
	r.OnError(errors.New("context canceled"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var w bufferFlusher
	err := stream.Publish(ctx, &w, r, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, strings.Count(w.String(), "data: "), "no extra shutdown event after a terminal one")
	assert.Contains(t, w.String(), `"type":"log"`)
	assert.True(t, strings.HasSuffix(w.String(), "data: {\"type\":\"error\",\"message\":\"context canceled\"}\n\n"))
}

func TestPublish_FlushFailureDetaches(t *testing.T) {
	r := stream.NewRelay()
	defer r.Close()
	r.OnLog(entry(0, 100, 100))
	w := bufferFlusher{flushErr: errors.New("broken pipe")}
	err := stream.Publish(context.Background(), &w, r, time.Hour)
	assert.Error(t, err)
}
