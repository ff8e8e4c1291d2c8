package rio

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeTransport is an in-memory Transport driven by the test.
type fakeTransport struct {
	lines     chan string
	writes    chan string
	closed    chan struct{}
	closeOnce sync.Once
	dropOnce  sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		lines:  make(chan string, 32),
		writes: make(chan string, 32),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadLine() (string, error) {
	select {
	case line, ok := <-f.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-f.closed:
		return "", net.ErrClosed
	}
}

func (f *fakeTransport) WriteLine(line string) error {
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}
	select {
	case f.writes <- line:
		return nil
	case <-f.closed:
		return net.ErrClosed
	}
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// feed queues an inbound line.
func (f *fakeTransport) feed(line string) {
	f.lines <- line
}

// drop simulates the controller closing the connection.
func (f *fakeTransport) drop() {
	f.dropOnce.Do(func() { close(f.lines) })
}

// nextWrite waits for the next outbound command.
func (f *fakeTransport) nextWrite(t *testing.T) string {
	t.Helper()
	select {
	case w := <-f.writes:
		return w
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write")
		return ""
	}
}

// fakeController answers commands on every transport it dials.
type fakeController struct {
	mu         sync.Mutex
	version    string
	values     map[string]string // "C[1].Z[1].name" -> value
	rejects    map[string]string // command -> error message
	transports []*fakeTransport
	commands   [][]string // per transport
	failDials  int

	// dropAfterVersion closes this many transports right after their
	// first VERSION reply.
	dropAfterVersion int
}

func newFakeController(version string) *fakeController {
	return &fakeController{
		version: version,
		values:  make(map[string]string),
		rejects: make(map[string]string),
	}
}

func (f *fakeController) dial(_ context.Context, _ string) (Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failDials > 0 {
		f.failDials--
		return nil, errors.New("connection refused")
	}

	tr := newFakeTransport()
	f.transports = append(f.transports, tr)
	f.commands = append(f.commands, nil)
	go f.serve(len(f.transports)-1, tr)
	return tr, nil
}

func (f *fakeController) serve(idx int, tr *fakeTransport) {
	for {
		select {
		case <-tr.closed:
			return
		case cmd := <-tr.writes:
			f.mu.Lock()
			f.commands[idx] = append(f.commands[idx], cmd)
			reply, ok := f.reply(cmd)
			drop := cmd == "VERSION" && f.dropAfterVersion > 0
			if drop {
				f.dropAfterVersion--
			}
			f.mu.Unlock()
			if !ok {
				continue
			}
			select {
			case tr.lines <- reply:
			case <-tr.closed:
				return
			}
			if drop {
				tr.drop()
				return
			}
		}
	}
}

// reply must be called with mu held. ok is false for commands left unanswered.
func (f *fakeController) reply(cmd string) (string, bool) {
	if msg, ok := f.rejects[cmd]; ok {
		return "E " + msg, true
	}
	switch {
	case cmd == "HANG":
		return "", false
	case cmd == "VERSION":
		return `S VERSION="` + f.version + `"`, true
	case strings.HasPrefix(cmd, "GET "):
		key := strings.TrimPrefix(cmd, "GET ")
		value, ok := f.values[key]
		if !ok {
			return "E Unknown variable", true
		}
		return "S " + key + `="` + value + `"`, true
	default:
		return "S", true
	}
}

func (f *fakeController) transport(t *testing.T, idx int) *fakeTransport {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if idx >= len(f.transports) {
		t.Fatalf("transport %d not dialled (have %d)", idx, len(f.transports))
	}
	return f.transports[idx]
}

func (f *fakeController) commandsOn(idx int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if idx >= len(f.commands) {
		return nil
	}
	return append([]string(nil), f.commands[idx]...)
}

func (f *fakeController) setFailDials(n int) {
	f.mu.Lock()
	f.failDials = n
	f.mu.Unlock()
}

func (f *fakeController) pendingDialFailures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failDials
}

func (f *fakeController) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
