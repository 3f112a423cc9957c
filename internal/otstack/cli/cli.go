// Package cli drives an OpenThread CLI device (ot-cli-ftd) over a serial
// port. Commands are written one line at a time and answered with zero or
// more value lines followed by "Done" or "Error N: Name". Notifications that
// arrive between commands are delivered through an otstack.Worker.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"otbr-gateway/internal/otstack"
)

const (
	defaultCommandTimeout = 5 * time.Second
	discoverTimeout       = 60 * time.Second
)

var _ otstack.Stack = (*Stack)(nil)

// Option configures a Stack.
type Option func(*Stack)

// WithCommandTimeout bounds how long a command waits for Done or Error.
func WithCommandTimeout(d time.Duration) Option {
	return func(s *Stack) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// request is one command in flight. lines is only touched by the read loop
// until done is signalled.
type request struct {
	cmd    string
	lines  []string
	stream func(line string)
	done   chan error
}

func (r *request) finish(err error) {
	select {
	case r.done <- err:
	default:
	}
}

// Stack implements otstack.Stack on top of the OpenThread CLI.
type Stack struct {
	rw      io.ReadWriteCloser
	reader  *bufio.Reader
	logger  *slog.Logger
	worker  *otstack.Worker
	timeout time.Duration

	// slot admits one command at a time; it is held for the whole of a
	// discover so scan rows cannot interleave with other replies.
	slot    chan struct{}
	writeMu sync.Mutex

	mu      sync.Mutex
	pending *request

	handlerMu sync.RWMutex
	onDiag    func(otstack.DiagnosticResponse)
	onCommish func(otstack.CommissionerState)
	onJoiner  func(otstack.JoinerEvent)

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open opens the serial port of an ot-cli device.
func Open(portName string, baudRate int, gate sync.Locker, logger *slog.Logger, opts ...Option) (*Stack, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("ot-cli: open %s: %w", portName, err)
	}
	// USB CDC ACM: assert DTR/RTS so the firmware starts talking.
	_ = port.SetDTR(true)
	_ = port.SetRTS(true)
	return New(port, gate, logger, opts...), nil
}

// New runs the CLI protocol over rw. Callbacks run on a worker under gate.
func New(rw io.ReadWriteCloser, gate sync.Locker, logger *slog.Logger, opts ...Option) *Stack {
	s := &Stack{
		rw:      rw,
		reader:  bufio.NewReader(rw),
		logger:  logger.With("component", "ot-cli"),
		worker:  otstack.NewWorker(gate, logger),
		timeout: defaultCommandTimeout,
		slot:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.readLoop()
	return s
}

func (s *Stack) acquire(ctx context.Context) error {
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return otstack.ErrClosed
	}
}

func (s *Stack) release() {
	<-s.slot
}

// start registers req as pending and writes its command line. The caller
// holds the slot.
func (s *Stack) start(req *request) error {
	s.mu.Lock()
	s.pending = req
	s.mu.Unlock()

	s.writeMu.Lock()
	_, err := io.WriteString(s.rw, req.cmd+"\r\n")
	s.writeMu.Unlock()
	if err != nil {
		s.clearPending(req)
		return fmt.Errorf("serial write: %w", err)
	}
	s.logger.Debug("ot-cli TX", "cmd", req.cmd)
	return nil
}

func (s *Stack) clearPending(req *request) {
	s.mu.Lock()
	if s.pending == req {
		s.pending = nil
	}
	s.mu.Unlock()
}

// exec runs one command and returns its value lines.
func (s *Stack) exec(ctx context.Context, format string, args ...any) ([]string, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	req := &request{cmd: fmt.Sprintf(format, args...), done: make(chan error, 1)}
	if !validArg(req.cmd) {
		return nil, otstack.ErrorInvalidArgs
	}
	if err := s.start(req); err != nil {
		return nil, err
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case err := <-req.done:
		if err != nil {
			s.logger.Debug("ot-cli RX", "cmd", req.cmd, "err", err)
			return nil, err
		}
		return req.lines, nil
	case <-timer.C:
		s.clearPending(req)
		s.logger.Warn("ot-cli timeout", "cmd", req.cmd, "timeout", s.timeout)
		return nil, fmt.Errorf("%s: %w", req.cmd, otstack.ErrorResponseTimeout)
	case <-ctx.Done():
		s.clearPending(req)
		return nil, ctx.Err()
	case <-s.done:
		return nil, otstack.ErrClosed
	}
}

// value runs a command that answers with exactly one line.
func (s *Stack) value(ctx context.Context, format string, args ...any) (string, error) {
	lines, err := s.exec(ctx, format, args...)
	if err != nil {
		return "", err
	}
	if len(lines) != 1 {
		return "", fmt.Errorf("%s: got %d lines, want 1", fmt.Sprintf(format, args...), len(lines))
	}
	return lines[0], nil
}

// stream starts a command whose value lines are passed to onLine as they
// arrive. finish runs once with the final status. The slot stays held until
// then.
func (s *Stack) stream(ctx context.Context, cmd string, onLine func(string), finish func(error)) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	req := &request{cmd: cmd, stream: onLine, done: make(chan error, 1)}
	if err := s.start(req); err != nil {
		s.release()
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release()
		timer := time.NewTimer(discoverTimeout)
		defer timer.Stop()
		var err error
		select {
		case err = <-req.done:
		case <-timer.C:
			s.clearPending(req)
			err = otstack.ErrorResponseTimeout
		case <-s.done:
			err = otstack.ErrClosed
		}
		finish(err)
	}()
	return nil
}

func (s *Stack) readLoop() {
	defer s.wg.Done()

	backoff := 10 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		select {
		case <-s.done:
			return
		default:
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if line != "" {
				s.handleLine(line)
			}
			if err != io.EOF && !strings.Contains(err.Error(), "closed") {
				s.logger.Error("ot-cli read error", "err", err)
			}
			select {
			case <-time.After(backoff):
			case <-s.done:
				return
			}
			if backoff < maxBackoff {
				backoff = min(backoff*2, maxBackoff)
			}
			continue
		}
		backoff = 10 * time.Millisecond
		s.handleLine(line)
	}
}

func (s *Stack) handleLine(raw string) {
	line := strings.TrimSpace(raw)
	line = strings.TrimSpace(strings.TrimPrefix(line, ">"))
	if line == "" {
		return
	}
	if s.handleNotification(line) {
		return
	}

	s.mu.Lock()
	req := s.pending
	s.mu.Unlock()
	if req == nil {
		s.logger.Debug("ot-cli unsolicited line", "line", line)
		return
	}
	switch {
	case line == req.cmd:
		// echo
	case line == "Done":
		s.clearPending(req)
		req.finish(nil)
	case strings.HasPrefix(line, "Error "):
		s.clearPending(req)
		req.finish(parseError(line))
	case req.stream != nil:
		req.stream(line)
	default:
		req.lines = append(req.lines, line)
	}
}

// parseError decodes "Error 13: InvalidState".
func parseError(line string) error {
	rest := strings.TrimPrefix(line, "Error ")
	num, name, _ := strings.Cut(rest, ":")
	code, err := strconv.ParseUint(strings.TrimSpace(num), 10, 8)
	if err != nil {
		if e, ok := otstack.ErrorFromName(strings.TrimSpace(name)); ok {
			return e
		}
		return fmt.Errorf("ot-cli: %s", line)
	}
	return otstack.Error(code)
}

// handleNotification routes lines that are not part of a command reply.
func (s *Stack) handleNotification(line string) bool {
	switch {
	case strings.HasPrefix(line, "DIAG_GET.rsp/ans from "):
		resp, err := parseDiagnosticLine(line)
		if err != nil {
			s.logger.Warn("ot-cli bad diagnostic answer", "line", line, "err", err)
			return true
		}
		s.handlerMu.RLock()
		h := s.onDiag
		s.handlerMu.RUnlock()
		if h != nil {
			s.worker.Post(func() { h(resp) })
		}
		return true
	case strings.HasPrefix(line, "Commissioner: "):
		state, ok := parseCommissionerState(strings.TrimPrefix(line, "Commissioner: "))
		if !ok {
			s.logger.Debug("ot-cli commissioner line", "line", line)
			return true
		}
		s.handlerMu.RLock()
		h := s.onCommish
		s.handlerMu.RUnlock()
		if h != nil {
			s.worker.Post(func() { h(state) })
		}
		return true
	case strings.HasPrefix(line, "Joiner "):
		ev, ok := parseJoinerLine(line)
		if !ok {
			return false
		}
		s.handlerMu.RLock()
		h := s.onJoiner
		s.handlerMu.RUnlock()
		if h != nil {
			s.worker.Post(func() { h(ev) })
		}
		return true
	}
	return false
}

// Wake makes the worker run queued callbacks.
func (s *Stack) Wake() error {
	return s.worker.Wake()
}

// Close stops the read loop, fails the command in flight and closes the port.
func (s *Stack) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.rw.Close()
		s.mu.Lock()
		if req := s.pending; req != nil {
			s.pending = nil
			req.finish(otstack.ErrClosed)
		}
		s.mu.Unlock()
		s.wg.Wait()
		s.worker.Close()
	})
	return err
}
