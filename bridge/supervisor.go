package bridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tether-dev/tether-core/wire"
)

const (
	// NonceEnvVar carries the handshake nonce to the worker. The worker must
	// echo it back in its ready frame before any other output.
	NonceEnvVar = "TETHER_WORKER_NONCE"

	// DefaultHandshakeTimeout bounds how long Start waits for the ready
	// frame.
	DefaultHandshakeTimeout = 10 * time.Second

	// workerStopGrace is how long Stop waits for a clean exit after closing
	// stdin before killing the process.
	workerStopGrace = 2 * time.Second
)

// supervisorConfig holds the settings for spawning a worker process.
type supervisorConfig struct {
	SessionID        string   // bridge session id, for logging
	Command          []string // argv of the worker, e.g. ["tether-worker"]
	HandshakeTimeout time.Duration
}

// supervisorCallbacks wire supervisor events back to the Bridge. Callbacks
// are invoked from supervisor goroutines and must not call back into the
// supervisor while holding the Bridge's mutex.
type supervisorCallbacks struct {
	// OnLine is called for each line the worker writes to stdout after the
	// handshake.
	OnLine func(line string)

	// OnExit is called once when the process exits for any reason other
	// than an orderly Stop. stderr carries whatever the worker wrote there.
	OnExit func(err error, stderr string)
}

// supervisor owns one worker subprocess: it spawns it, performs the nonce
// handshake, pumps stdout lines to the callbacks, drains stderr, and reaps
// the process on exit. A supervisor is single-use; after Stop or an exit a
// new one must be created.
type supervisor struct {
	config    supervisorConfig
	callbacks supervisorCallbacks
	log       *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	running bool
	stopped bool // orderly Stop in progress, suppresses OnExit

	// waitDone is closed by monitorExit after cmd.Wait returns. monitorExit
	// is the only caller of Wait; Stop observes the exit through this
	// channel.
	waitDone chan struct{}

	// stderrDone is closed when the stderr drain goroutine finishes.
	// stderrBuf is only read after stderrDone is closed.
	stderrDone chan struct{}
	stderrBuf  strings.Builder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newSupervisor(config supervisorConfig, callbacks supervisorCallbacks, log *slog.Logger) *supervisor {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return &supervisor{
		config:    config,
		callbacks: callbacks,
		log:       log,
	}
}

// Start spawns the worker and performs the handshake: the first stdout line
// must be a ready frame echoing the nonce passed via the environment. On
// handshake failure the process is killed and ErrAuthentication is returned.
func (s *supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if len(s.config.Command) == 0 {
		return fmt.Errorf("no worker command configured")
	}

	nonce := uuid.New().String()
	cmd := exec.Command(s.config.Command[0], s.config.Command[1:]...)
	cmd.Env = append(os.Environ(), NonceEnvVar+"="+nonce)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.stdout = bufio.NewReader(stdout)
	s.waitDone = make(chan struct{})
	s.stderrDone = make(chan struct{})
	s.stderrBuf.Reset()
	s.stopped = false
	s.ctx, s.cancel = context.WithCancel(context.Background())

	// Drain stderr from the start so the worker can never block on a full
	// pipe, even during the handshake.
	s.wg.Add(1)
	go s.drainStderr(stderr)

	if err := s.handshake(nonce); err != nil {
		s.log.Error("Worker handshake failed", "error", err)
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		s.cancel()
		close(s.waitDone)
		s.wg.Wait()
		s.cmd = nil
		s.stdin = nil
		s.stdout = nil
		return err
	}

	s.running = true
	s.log.Info("Worker started", "pid", cmd.Process.Pid)

	s.wg.Add(2)
	go s.readOutput()
	go s.monitorExit()

	return nil
}

// handshake reads the first stdout line and verifies it is a ready frame
// carrying the expected nonce.
func (s *supervisor) handshake(nonce string) error {
	deadline := time.After(s.config.HandshakeTimeout)

	resultCh := make(chan readResult, 1)
	go func() {
		line, err := s.stdout.ReadString('\n')
		resultCh <- readResult{line: line, err: err}
	}()

	select {
	case <-deadline:
		return fmt.Errorf("%w: no ready frame within %s", ErrAuthentication, s.config.HandshakeTimeout)
	case res := <-resultCh:
		if res.err != nil {
			return fmt.Errorf("%w: reading ready frame: %v", ErrAuthentication, res.err)
		}
		msg, err := wire.Decode(res.line)
		if err != nil {
			return fmt.Errorf("%w: malformed ready frame: %v", ErrAuthentication, err)
		}
		if msg.Type != wire.KindReady {
			return fmt.Errorf("%w: first frame was %q, want %q", ErrAuthentication, msg.Type, wire.KindReady)
		}
		if msg.Nonce != nonce {
			return fmt.Errorf("%w: nonce mismatch", ErrAuthentication)
		}
		return nil
	}
}

// Stop shuts the worker down: close stdin, give it a grace period to exit,
// then kill it. Safe to call on a supervisor that never started.
func (s *supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.stopped = true
	cmd := s.cmd
	stdin := s.stdin
	waitDone := s.waitDone
	s.mu.Unlock()

	s.cancel()
	if stdin != nil {
		_ = stdin.Close()
	}

	select {
	case <-waitDone:
	case <-time.After(workerStopGrace):
		s.log.Warn("Worker did not exit after stdin close, killing", "pid", cmd.Process.Pid)
		_ = cmd.Process.Kill()
		<-waitDone
	}

	s.wg.Wait()

	s.mu.Lock()
	s.cmd = nil
	s.stdin = nil
	s.stdout = nil
	s.mu.Unlock()

	s.log.Info("Worker stopped")
}

// IsRunning reports whether the worker process is up.
func (s *supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Write sends one encoded frame to the worker's stdin. It satisfies
// io.Writer so a wire.Encoder can write through the supervisor.
func (s *supervisor) Write(p []byte) (int, error) {
	s.mu.Lock()
	stdin := s.stdin
	running := s.running
	s.mu.Unlock()

	if !running || stdin == nil {
		return 0, ErrWorkerExited
	}
	return stdin.Write(p)
}

type readResult struct {
	line string
	err  error
}

// readLine reads one line from stdout, honoring context cancellation. The
// read itself cannot be interrupted; on cancellation the goroutine is left
// to finish against the pipe, which closes when the process exits.
func (s *supervisor) readLine(ctx context.Context) (string, error) {
	resultCh := make(chan readResult, 1)
	go func() {
		line, err := s.stdout.ReadString('\n')
		resultCh <- readResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-resultCh:
		return res.line, res.err
	}
}

// readOutput pumps stdout lines to OnLine until the pipe closes or the
// supervisor shuts down.
func (s *supervisor) readOutput() {
	defer s.wg.Done()

	for {
		line, err := s.readLine(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.log.Debug("Worker stdout closed", "error", err)
			}
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if s.callbacks.OnLine != nil {
			s.callbacks.OnLine(line)
		}
	}
}

// drainStderr accumulates stderr so it can be attached to exit reports.
func (s *supervisor) drainStderr(stderr io.Reader) {
	defer s.wg.Done()
	defer close(s.stderrDone)

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		text := scanner.Text()
		s.stderrBuf.WriteString(text)
		s.stderrBuf.WriteString("\n")
		s.log.Debug("Worker stderr", "line", text)
	}
}

// monitorExit reaps the process and reports unexpected exits.
func (s *supervisor) monitorExit() {
	defer s.wg.Done()

	err := s.cmd.Wait()
	close(s.waitDone)

	<-s.stderrDone
	stderr := s.stderrBuf.String()

	s.mu.Lock()
	wasStopped := s.stopped
	s.running = false
	s.mu.Unlock()

	if wasStopped {
		return
	}

	s.log.Error("Worker exited unexpectedly", "error", err, "stderr_len", len(stderr))
	if s.callbacks.OnExit != nil {
		s.callbacks.OnExit(err, stderr)
	}
}
