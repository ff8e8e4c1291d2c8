package rio

import (
	"context"
	"errors"
	"testing"
	"time"
)

type sessionHarness struct {
	transport *fakeTransport
	cache     *Cache
	queue     chan *pendingCommand
	cancel    context.CancelFunc
	done      chan error
}

func startSession(t *testing.T) *sessionHarness {
	t.Helper()

	h := &sessionHarness{
		transport: newFakeTransport(),
		cache:     NewCache(nil),
		queue:     make(chan *pendingCommand, 8),
		done:      make(chan error, 1),
	}
	s := &session{
		transport: h.transport,
		cache:     h.cache,
		queue:     h.queue,
		counters:  &counters{},
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- s.run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *sessionHarness) enqueue(text string) *pendingCommand {
	cmd := newPendingCommand(context.Background(), text)
	h.queue <- cmd
	return cmd
}

func awaitResult(t *testing.T, cmd *pendingCommand) commandResult {
	t.Helper()
	select {
	case res := <-cmd.result:
		return res
	case <-time.After(2 * time.Second):
		t.Fatalf("command %q never resolved", cmd.text)
		return commandResult{}
	}
}

func TestSessionPushLinesBeforeReply(t *testing.T) {
	h := startSession(t)

	cmd := h.enqueue("GET C[1].Z[1].name")
	if got := h.transport.nextWrite(t); got != "GET C[1].Z[1].name" {
		t.Fatalf("written = %q, want GET command", got)
	}

	h.transport.feed(`N C[1].Z[1].volume="10"`)
	h.transport.feed(`S "LivingRoom"`)

	res := awaitResult(t, cmd)
	if res.err != nil {
		t.Fatalf("result error = %v", res.err)
	}
	if res.value != "LivingRoom" {
		t.Errorf("result = %q, want %q", res.value, "LivingRoom")
	}

	// The push line is stored before the reply resolves.
	if got, err := h.cache.Read("C[1].Z[1]", "volume"); err != nil || got != "10" {
		t.Errorf("cached volume = %q, %v, want %q", got, err, "10")
	}
}

func TestSessionInterleavings(t *testing.T) {
	tests := []struct {
		name      string
		lines     []string
		wantValue string
		wantErr   bool
		wantCache map[[2]string]string // {device, variable} -> value
	}{
		{
			name:      "reply only",
			lines:     []string{`S "x"`},
			wantValue: "x",
		},
		{
			name: "several pushes then success",
			lines: []string{
				`N C[1].Z[1].volume="7"`,
				`N S[2].songName="Freddie"`,
				`N C[1].Z[1].bass="-2"`,
				`S "ok"`,
			},
			wantValue: "ok",
			wantCache: map[[2]string]string{
				{"C[1].Z[1]", "volume"}: "7",
				{"S[2]", "songname"}:    "Freddie",
				{"C[1].Z[1]", "bass"}:   "-2",
			},
		},
		{
			name: "unparsed lines are skipped",
			lines: []string{
				"X noise",
				`N "bare"`,
				`S "done"`,
			},
			wantValue: "done",
		},
		{
			name: "push then error",
			lines: []string{
				`N C[1].Z[3].status="ON"`,
				"E Invalid argument",
			},
			wantErr:   true,
			wantCache: map[[2]string]string{{"C[1].Z[3]", "status"}: "ON"},
		},
		{
			name:      "addressed success is cached",
			lines:     []string{`S C[1].Z[1].name="Den"`},
			wantValue: "Den",
			wantCache: map[[2]string]string{{"C[1].Z[1]", "name"}: "Den"},
		},
		{
			name: "only first terminal line counts",
			lines: []string{
				`S "first"`,
				`S "second"`,
			},
			wantValue: "first",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := startSession(t)

			cmd := h.enqueue("CMD")
			h.transport.nextWrite(t)
			for _, line := range tt.lines {
				h.transport.feed(line)
			}

			res := awaitResult(t, cmd)
			if (res.err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", res.err, tt.wantErr)
			}
			if !tt.wantErr && res.value != tt.wantValue {
				t.Errorf("value = %q, want %q", res.value, tt.wantValue)
			}

			for key, want := range tt.wantCache {
				if got := h.cache.ReadOrDefault(key[0], key[1], "<missing>"); got != want {
					t.Errorf("cache %s.%s = %q, want %q", key[0], key[1], got, want)
				}
			}
		})
	}
}

func TestSessionErrorReplyDoesNotStopLoop(t *testing.T) {
	h := startSession(t)

	bad := h.enqueue(`SET C[1].Z[1].volume="200"`)
	h.transport.nextWrite(t)
	h.transport.feed("E Invalid argument")

	res := awaitResult(t, bad)
	var cmdErr *CommandError
	if !errors.As(res.err, &cmdErr) {
		t.Fatalf("err = %v, want *CommandError", res.err)
	}
	if cmdErr.Message != "Invalid argument" {
		t.Errorf("Message = %q, want %q", cmdErr.Message, "Invalid argument")
	}
	if !errors.Is(res.err, ErrCommandRejected) {
		t.Error("errors.Is(err, ErrCommandRejected) = false, want true")
	}

	next := h.enqueue("GET C[1].Z[1].volume")
	if got := h.transport.nextWrite(t); got != "GET C[1].Z[1].volume" {
		t.Fatalf("second write = %q", got)
	}
	h.transport.feed(`S C[1].Z[1].volume="20"`)
	if res := awaitResult(t, next); res.err != nil || res.value != "20" {
		t.Errorf("second result = %q, %v, want %q, nil", res.value, res.err, "20")
	}
}

func TestSessionFIFO(t *testing.T) {
	h := startSession(t)

	first := h.enqueue("FIRST")
	second := h.enqueue("SECOND")

	if got := h.transport.nextWrite(t); got != "FIRST" {
		t.Fatalf("first write = %q, want FIRST", got)
	}

	select {
	case w := <-h.transport.writes:
		t.Fatalf("wrote %q before FIRST was answered", w)
	case <-time.After(50 * time.Millisecond):
	}

	h.transport.feed(`S "one"`)

	if got := h.transport.nextWrite(t); got != "SECOND" {
		t.Fatalf("second write = %q, want SECOND", got)
	}

	select {
	case res := <-first.result:
		if res.value != "one" {
			t.Errorf("first result = %q, want %q", res.value, "one")
		}
	default:
		t.Fatal("FIRST not resolved before SECOND was written")
	}

	h.transport.feed(`S "two"`)
	if res := awaitResult(t, second); res.value != "two" {
		t.Errorf("second result = %q, want %q", res.value, "two")
	}
}

func TestSessionUnsolicitedLines(t *testing.T) {
	h := startSession(t)

	got := make(chan recordedUpdate, 1)
	h.cache.AddCallback("C[1].Z[1]", func(d, v, val string) {
		got <- recordedUpdate{d, v, val}
	})

	h.transport.feed("S")
	h.transport.feed("E stray error")
	h.transport.feed(`N C[1].Z[1].volume="33"`)

	select {
	case u := <-got:
		want := recordedUpdate{"C[1].Z[1]", "volume", "33"}
		if u != want {
			t.Errorf("update = %v, want %v", u, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("push notification never reached callback")
	}

	// A stray terminal line must not resolve the next command.
	cmd := h.enqueue("GET C[1].Z[1].bass")
	h.transport.nextWrite(t)
	h.transport.feed(`S C[1].Z[1].bass="1"`)
	if res := awaitResult(t, cmd); res.value != "1" {
		t.Errorf("result = %q, want %q", res.value, "1")
	}
}

func TestSessionCancelFailsInFlight(t *testing.T) {
	h := startSession(t)

	cmd := h.enqueue("GET C[1].Z[1].name")
	h.transport.nextWrite(t)

	h.cancel()

	res := awaitResult(t, cmd)
	if !errors.Is(res.err, ErrCancelled) {
		t.Errorf("err = %v, want ErrCancelled", res.err)
	}

	select {
	case <-h.done:
		h.done <- nil // let cleanup drain it
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
}

func TestSessionTransportFailure(t *testing.T) {
	h := startSession(t)

	cmd := h.enqueue("GET C[1].Z[1].name")
	h.transport.nextWrite(t)

	h.transport.drop()

	res := awaitResult(t, cmd)
	if !errors.Is(res.err, ErrConnectionLost) {
		t.Errorf("err = %v, want ErrConnectionLost", res.err)
	}

	select {
	case err := <-h.done:
		if !errors.Is(err, ErrConnectionLost) {
			t.Errorf("run() = %v, want ErrConnectionLost", err)
		}
		h.done <- err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
}

func TestSessionSkipsAbandonedCommand(t *testing.T) {
	h := startSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	abandoned := newPendingCommand(ctx, "ABANDONED")
	h.queue <- abandoned

	res := awaitResult(t, abandoned)
	if !errors.Is(res.err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", res.err)
	}

	live := h.enqueue("LIVE")
	if got := h.transport.nextWrite(t); got != "LIVE" {
		t.Fatalf("write = %q, want LIVE (abandoned command must not be sent)", got)
	}
	h.transport.feed("S")
	awaitResult(t, live)
}
