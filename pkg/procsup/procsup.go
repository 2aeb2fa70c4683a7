package procsup

import (
	"bytes"
	"context"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cuemby/fleetctl/pkg/errs"
	"github.com/cuemby/fleetctl/pkg/log"
	"github.com/cuemby/fleetctl/pkg/ports"
	"github.com/rs/zerolog"
)

const maxLogLines = 200

type proc struct {
	cmd       *exec.Cmd
	startedAt time.Time
	status    ports.ProcessStatus
	logBuf    *logRingBuffer
}

// Supervisor runs one long-lived process per configured service name
// and reports their liveness. commands maps a service name to its
// argv; argv[0] is resolved via exec.LookPath.
type Supervisor struct {
	mu       sync.Mutex
	commands map[string][]string
	procs    map[string]*proc
	logger   zerolog.Logger
}

// New builds a Supervisor. commands must contain an entry for every
// service name the caller will ever start.
func New(commands map[string][]string) *Supervisor {
	return &Supervisor{
		commands: commands,
		procs:    make(map[string]*proc),
		logger:   log.WithComponent("process-supervisor"),
	}
}

func (s *Supervisor) StartProcess(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.procs[name]; ok && p.status == ports.ProcessRunning {
		return nil
	}

	argv, ok := s.commands[name]
	if !ok || len(argv) == 0 {
		return errs.New(errs.KindSupervisorError, "no command configured for service "+name)
	}

	cmd := exec.CommandContext(context.Background(), argv[0], argv[1:]...)
	buf := newLogRingBuffer(maxLogLines)
	cmd.Stdout = buf
	cmd.Stderr = buf

	if err := cmd.Start(); err != nil {
		s.procs[name] = &proc{status: ports.ProcessErrored, logBuf: buf}
		return errs.Wrap(errs.KindSupervisorError, "starting "+name, err)
	}

	p := &proc{cmd: cmd, startedAt: time.Now(), status: ports.ProcessRunning, logBuf: buf}
	s.procs[name] = p

	go func(name string, cmd *exec.Cmd) {
		err := cmd.Wait()
		s.mu.Lock()
		defer s.mu.Unlock()
		if current, ok := s.procs[name]; ok && current.cmd == cmd {
			if err != nil && current.status == ports.ProcessRunning {
				current.status = ports.ProcessErrored
			} else if current.status == ports.ProcessRunning {
				current.status = ports.ProcessStopped
			}
		}
	}(name, cmd)

	s.logger.Info().Str("service", name).Msg("process started")
	return nil
}

func (s *Supervisor) StopProcess(ctx context.Context, name string) error {
	s.mu.Lock()
	p, ok := s.procs[name]
	s.mu.Unlock()
	if !ok || p.cmd == nil || p.status != ports.ProcessRunning {
		return nil
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return errs.Wrap(errs.KindSupervisorError, "signaling "+name, err)
	}

	done := make(chan struct{})
	go func() { p.cmd.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		if err := p.cmd.Process.Kill(); err != nil {
			return errs.Wrap(errs.KindSupervisorError, "killing "+name, err)
		}
		<-done
	}

	s.mu.Lock()
	p.status = ports.ProcessStopped
	s.mu.Unlock()
	s.logger.Info().Str("service", name).Msg("process stopped")
	return nil
}

func (s *Supervisor) RestartProcess(ctx context.Context, name string) error {
	if err := s.StopProcess(ctx, name); err != nil {
		return err
	}
	return s.StartProcess(ctx, name)
}

func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	names := make([]string, 0, len(s.procs))
	for name := range s.procs {
		names = append(names, name)
	}
	s.mu.Unlock()

	var firstErr error
	for _, name := range names {
		if err := s.StopProcess(ctx, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Supervisor) StartAll(ctx context.Context) error {
	s.mu.Lock()
	names := make([]string, 0, len(s.commands))
	for name := range s.commands {
		names = append(names, name)
	}
	s.mu.Unlock()

	var firstErr error
	for _, name := range names {
		if err := s.StartProcess(ctx, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Supervisor) ListProcesses(ctx context.Context) ([]ports.ProcessInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]ports.ProcessInfo, 0, len(s.procs))
	for name, p := range s.procs {
		info := ports.ProcessInfo{Name: name, Status: p.status}
		if p.cmd != nil && p.cmd.Process != nil {
			info.PID = p.cmd.Process.Pid
		}
		if p.status == ports.ProcessRunning {
			info.Uptime = time.Since(p.startedAt)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (s *Supervisor) TailLogs(ctx context.Context, name string, n int) ([]string, error) {
	s.mu.Lock()
	p, ok := s.procs[name]
	s.mu.Unlock()
	if !ok {
		return nil, errs.New(errs.KindNotFound, "no such process "+name)
	}
	return p.logBuf.tail(n), nil
}

// logRingBuffer keeps the last N lines written to it, matching the
// bounded-history idiom used elsewhere in this codebase (integrity
// case history, DR test execution history) rather than buffering a
// process's entire output for its lifetime.
type logRingBuffer struct {
	mu    sync.Mutex
	lines []string
	max   int
	part  bytes.Buffer
}

func newLogRingBuffer(max int) *logRingBuffer {
	return &logRingBuffer{max: max}
}

func (b *logRingBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.part.Write(p)
	for {
		data := b.part.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := string(data[:idx])
		b.part.Next(idx + 1)
		b.lines = append(b.lines, line)
		if len(b.lines) > b.max {
			b.lines = b.lines[len(b.lines)-b.max:]
		}
	}
	return len(p), nil
}

func (b *logRingBuffer) tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || n > len(b.lines) {
		n = len(b.lines)
	}
	out := make([]string, n)
	copy(out, b.lines[len(b.lines)-n:])
	return out
}
