package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	rioclient "github.com/nerrad567/gray-logic-rio/internal/rio"
)

// historyFileName is stored in the user's home directory.
const historyFileName = ".rioctl_history"

// controller is the part of the RIO client the shell drives.
type controller interface {
	SendCommand(ctx context.Context, text string) (string, error)
	GetVariable(ctx context.Context, deviceID, key string) (string, error)
	SetVariable(ctx context.Context, deviceID, key, value string) (string, error)
	SendEvent(ctx context.Context, deviceID, event string, args ...string) (string, error)
	Watch(ctx context.Context, deviceID string) (string, error)
	Unwatch(ctx context.Context, deviceID string) (string, error)
	Watched() []string
	AddCallback(deviceID string, fn rioclient.Callback) rioclient.CallbackID
	RemoveCallback(id rioclient.CallbackID)
	Snapshot(deviceID string) map[string]string
	Devices() []string
	Address() string
	Stats() rioclient.Stats
}

var _ controller = (*rioclient.Client)(nil)

// shell reads commands from a readline prompt and runs them against a controller.
type shell struct {
	rl      *readline.Instance
	out     io.Writer
	timeout time.Duration
	client  controller

	mu       sync.Mutex
	watchCBs map[string]rioclient.CallbackID
}

// newShell creates the readline prompt with tab completion and persistent history.
func newShell(timeout time.Duration) (*shell, error) {
	cfg := &readline.Config{
		Prompt:          "rio> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("get"),
			readline.PcItem("set"),
			readline.PcItem("event"),
			readline.PcItem("raw"),
			readline.PcItem("watch"),
			readline.PcItem("unwatch"),
			readline.PcItem("watched"),
			readline.PcItem("cache"),
			readline.PcItem("state"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
		HistorySearchFold: true,
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.HistoryFile = filepath.Join(home, historyFileName)
	}

	rl, err := readline.NewEx(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	return &shell{
		rl:       rl,
		out:      rl.Stdout(),
		timeout:  timeout,
		watchCBs: make(map[string]rioclient.CallbackID),
	}, nil
}

// Stdout returns a writer that does not disturb the prompt.
func (s *shell) Stdout() io.Writer {
	return s.out
}

// Stderr returns a writer for log output that does not disturb the prompt.
func (s *shell) Stderr() io.Writer {
	if s.rl != nil {
		return s.rl.Stderr()
	}
	return s.out
}

// Close releases the terminal.
func (s *shell) Close() error {
	if s.rl == nil {
		return nil
	}
	return s.rl.Close()
}

func (s *shell) bind(c controller) {
	s.client = c
}

// Run reads and executes lines until quit, EOF or ctx is done.
func (s *shell) Run(ctx context.Context, cancel context.CancelFunc) {
	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			cancel()
			return
		}

		if quit := s.exec(ctx, line); quit {
			cancel()
			return
		}
	}
}

// exec runs one input line. It reports whether the shell should exit.
func (s *shell) exec(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()
	case "get", "g":
		s.cmdGet(ctx, args)
	case "set", "s":
		s.cmdSet(ctx, args)
	case "event", "e":
		s.cmdEvent(ctx, args)
	case "raw":
		s.cmdRaw(ctx, line)
	case "watch", "w":
		s.cmdWatch(ctx, args)
	case "unwatch", "u":
		s.cmdUnwatch(ctx, args)
	case "watched":
		s.printList(s.client.Watched(), "no devices watched")
	case "cache", "c":
		s.cmdCache(args)
	case "state", "status":
		s.cmdState()
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (s *shell) printHelp() {
	fmt.Fprintln(s.out, `
RIO Commands:
  get <device> <key>               - Read a variable (cached values answer locally)
  set <device> <key> <value...>    - Write a variable
  event <device> <event> [args...] - Send an event, e.g. event C[1].Z[1] KeyPress Volume 20
  raw <text...>                    - Send a raw RIO command
  watch <device>                   - Watch a device and print its updates
  unwatch <device>                 - Stop watching a device
  watched                          - List watched devices
  cache [device]                   - Show cached devices, or one device's variables
  state                            - Show connection state and counters
  help                             - Show this help
  quit                             - Exit`)
}

func (s *shell) cmdGet(ctx context.Context, args []string) {
	if len(args) != 2 { //nolint:mnd // device and key
		fmt.Fprintln(s.out, "usage: get <device> <key>")
		return
	}
	s.do(ctx, func(ctx context.Context) (string, error) {
		return s.client.GetVariable(ctx, args[0], args[1])
	})
}

func (s *shell) cmdSet(ctx context.Context, args []string) {
	if len(args) < 3 { //nolint:mnd // device, key and value
		fmt.Fprintln(s.out, "usage: set <device> <key> <value...>")
		return
	}
	value := unquote(strings.Join(args[2:], " "))
	s.do(ctx, func(ctx context.Context) (string, error) {
		return s.client.SetVariable(ctx, args[0], args[1], value)
	})
}

func (s *shell) cmdEvent(ctx context.Context, args []string) {
	if len(args) < 2 { //nolint:mnd // device and event
		fmt.Fprintln(s.out, "usage: event <device> <event> [args...]")
		return
	}
	s.do(ctx, func(ctx context.Context) (string, error) {
		return s.client.SendEvent(ctx, args[0], args[1], args[2:]...)
	})
}

// cmdRaw sends the remainder of the line verbatim.
func (s *shell) cmdRaw(ctx context.Context, line string) {
	text := strings.TrimSpace(line)
	text = strings.TrimSpace(text[len(strings.Fields(text)[0]):])
	if text == "" {
		fmt.Fprintln(s.out, "usage: raw <text...>")
		return
	}
	s.do(ctx, func(ctx context.Context) (string, error) {
		return s.client.SendCommand(ctx, text)
	})
}

func (s *shell) cmdWatch(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "usage: watch <device>")
		return
	}
	id := args[0]

	s.mu.Lock()
	if _, ok := s.watchCBs[id]; !ok {
		s.watchCBs[id] = s.client.AddCallback(id, s.printUpdate)
	}
	s.mu.Unlock()

	s.do(ctx, func(ctx context.Context) (string, error) {
		return s.client.Watch(ctx, id)
	})
}

func (s *shell) cmdUnwatch(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "usage: unwatch <device>")
		return
	}
	id := args[0]

	s.mu.Lock()
	if cbID, ok := s.watchCBs[id]; ok {
		s.client.RemoveCallback(cbID)
		delete(s.watchCBs, id)
	}
	s.mu.Unlock()

	s.do(ctx, func(ctx context.Context) (string, error) {
		return s.client.Unwatch(ctx, id)
	})
}

func (s *shell) cmdCache(args []string) {
	if len(args) == 0 {
		devices := s.client.Devices()
		sort.Strings(devices)
		lines := make([]string, 0, len(devices))
		for _, id := range devices {
			lines = append(lines, fmt.Sprintf("%s (%d variables)", id, len(s.client.Snapshot(id))))
		}
		s.printList(lines, "cache is empty")
		return
	}

	vars := s.client.Snapshot(args[0])
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s.%s = %q", args[0], k, vars[k]))
	}
	s.printList(lines, "nothing cached for "+args[0])
}

func (s *shell) cmdState() {
	st := s.client.Stats()
	fmt.Fprintf(s.out, "controller:  %s\n", s.client.Address())
	fmt.Fprintf(s.out, "state:       %s\n", st.State)
	if st.Version != "" {
		fmt.Fprintf(s.out, "rio version: %s\n", st.Version)
	}
	fmt.Fprintf(s.out, "commands:    %d sent, %d replies, %d rejected\n", st.CommandsTx, st.RepliesRx, st.CommandErrors)
	fmt.Fprintf(s.out, "events:      %d received, %d unparsed\n", st.EventsRx, st.UnparsedLines)
	fmt.Fprintf(s.out, "reconnects:  %d\n", st.ReconnectsTotal)
	if !st.LastActivity.IsZero() {
		fmt.Fprintf(s.out, "last seen:   %s ago\n", time.Since(st.LastActivity).Round(time.Second))
	}
}

// do runs one controller call under the command timeout and prints the result.
func (s *shell) do(ctx context.Context, fn func(ctx context.Context) (string, error)) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reply, err := fn(ctx)
	var cmdErr *rioclient.CommandError
	switch {
	case errors.As(err, &cmdErr):
		fmt.Fprintf(s.out, "rejected: %s\n", cmdErr.Message)
	case errors.Is(err, context.DeadlineExceeded):
		fmt.Fprintf(s.out, "error: no reply within %s\n", s.timeout)
	case err != nil:
		fmt.Fprintf(s.out, "error: %v\n", err)
	case reply == "":
		fmt.Fprintln(s.out, "OK")
	default:
		fmt.Fprintln(s.out, reply)
	}
}

// printUpdate runs on the client session goroutine.
func (s *shell) printUpdate(deviceID, variable, value string) {
	fmt.Fprintf(s.out, "%s.%s = %q\n", deviceID, variable, value)
}

func (s *shell) printList(lines []string, empty string) {
	if len(lines) == 0 {
		fmt.Fprintln(s.out, empty)
		return
	}
	for _, l := range lines {
		fmt.Fprintln(s.out, l)
	}
}

// unquote strips one pair of surrounding double quotes.
func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}
