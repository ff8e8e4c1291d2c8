package rio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// commandResult is the single resolution of a pending command.
type commandResult struct {
	value string
	err   error
}

// pendingCommand is one caller's command waiting to be written or answered.
type pendingCommand struct {
	ctx    context.Context
	text   string
	result chan commandResult
}

func newPendingCommand(ctx context.Context, text string) *pendingCommand {
	return &pendingCommand{
		ctx:    ctx,
		text:   text,
		result: make(chan commandResult, 1),
	}
}

// resolve delivers the outcome. Only the first call has any effect.
func (p *pendingCommand) resolve(value string, err error) {
	select {
	case p.result <- commandResult{value: value, err: err}:
	default:
	}
}

// lineResult is one ReadLine outcome handed from the reader goroutine.
type lineResult struct {
	line string
	err  error
}

// counters are shared by every session of a client.
type counters struct {
	commandsTx      atomic.Uint64
	repliesRx       atomic.Uint64
	eventsRx        atomic.Uint64
	commandErrors   atomic.Uint64
	unparsedLines   atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64 // Unix timestamp
}

func (c *counters) touch() {
	c.lastActivity.Store(time.Now().Unix())
}

// session drives one live transport. It is the only writer to the transport
// and the only caller of Cache.Store while it runs.
type session struct {
	transport Transport
	cache     *Cache
	queue     <-chan *pendingCommand
	counters  *counters
	logger    Logger
}

// run serves the command queue and inbound lines until ctx is cancelled or
// the transport fails. The transport is closed on return.
func (s *session) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	lines := make(chan lineResult)

	var wg sync.WaitGroup
	wg.Add(1)
	go s.readLoop(ctx, lines, &wg)

	defer func() {
		cancel()
		s.transport.Close()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case lr := <-lines:
			if lr.err != nil {
				return fmt.Errorf("%w: %w", ErrConnectionLost, lr.err)
			}
			s.handleUnsolicited(lr.line)
		case cmd := <-s.queue:
			if err := s.execute(ctx, cmd, lines); err != nil {
				return err
			}
		}
	}
}

// readLoop forwards transport lines until a read fails or ctx is done.
func (s *session) readLoop(ctx context.Context, lines chan<- lineResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		line, err := s.transport.ReadLine()
		select {
		case lines <- lineResult{line: line, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// execute writes cmd and consumes lines until its terminal reply.
// A non-nil return ends the session.
func (s *session) execute(ctx context.Context, cmd *pendingCommand, lines <-chan lineResult) error {
	if err := cmd.ctx.Err(); err != nil {
		cmd.resolve("", err)
		return nil
	}

	if err := s.transport.WriteLine(cmd.text); err != nil {
		s.counters.errorsTotal.Add(1)
		err = fmt.Errorf("%w: write %q: %w", ErrConnectionLost, cmd.text, err)
		cmd.resolve("", err)
		return err
	}
	s.counters.commandsTx.Add(1)
	s.counters.touch()

	for {
		select {
		case <-ctx.Done():
			cmd.resolve("", ErrCancelled)
			return ctx.Err()
		case lr := <-lines:
			if lr.err != nil {
				err := fmt.Errorf("%w: %w", ErrConnectionLost, lr.err)
				cmd.resolve("", err)
				return err
			}

			resp := s.apply(lr.line)
			switch resp.Kind {
			case KindSuccess:
				s.counters.repliesRx.Add(1)
				cmd.resolve(resp.Value, nil)
				return nil
			case KindError:
				s.counters.commandErrors.Add(1)
				cmd.resolve("", &CommandError{Command: cmd.text, Message: resp.Value})
				return nil
			}
		}
	}
}

// handleUnsolicited processes a line that arrived with nothing in flight.
func (s *session) handleUnsolicited(line string) {
	resp := s.apply(line)
	if resp.Terminal() && s.logger != nil {
		s.logger.Debug("discarding unsolicited reply",
			"kind", resp.Kind.String(), "value", resp.Value)
	}
}

// apply parses a line and caches any addressed variable it carries.
func (s *session) apply(line string) Response {
	resp := ParseResponse(line)
	s.counters.touch()

	if resp.Addressed() {
		s.cache.Store(resp.DeviceID, resp.Variable, resp.Value)
	}

	switch resp.Kind {
	case KindEvent:
		s.counters.eventsRx.Add(1)
	case KindUnparsed:
		if resp.Tag != 0 {
			s.counters.unparsedLines.Add(1)
			if s.logger != nil {
				s.logger.Debug("unparsed line", "line", line)
			}
		}
	}
	return resp
}
