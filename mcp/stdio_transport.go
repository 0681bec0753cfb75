package mcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/shaharia-lab/mcpclient/observability"
	"golang.org/x/sync/errgroup"
)

const defaultGracePeriod = 5 * time.Second

// TransportConfig describes the server process to spawn. It is copied on
// construction and never modified afterwards.
type TransportConfig struct {
	// Command is the executable to run.
	Command string
	// Args are passed to Command.
	Args []string
	// Env entries are added to the parent environment, overriding it.
	Env map[string]string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// GracePeriod is how long Close waits for the process to exit after
	// closing its stdin before killing it. Defaults to 5s.
	GracePeriod time.Duration
}

func (c TransportConfig) clone() TransportConfig {
	cp := c
	cp.Args = append([]string(nil), c.Args...)
	if c.Env != nil {
		cp.Env = make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			cp.Env[k] = v
		}
	}
	return cp
}

// StdIOTransport runs a server as a child process and exchanges messages
// over its stdin and stdout. Stderr is logged line by line at debug level.
type StdIOTransport struct {
	config TransportConfig
	logger observability.Logger

	mu      sync.Mutex
	started bool
	cmd     *exec.Cmd
	stream  *StreamTransport
	stdoutW *io.PipeWriter
	group   errgroup.Group

	exited    chan struct{}
	exitErr   error
	closeOnce sync.Once
	closeErr  error
}

// NewStdIOTransport creates a transport for the given process description.
func NewStdIOTransport(config TransportConfig, logger observability.Logger) *StdIOTransport {
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	config = config.clone()
	if config.GracePeriod <= 0 {
		config.GracePeriod = defaultGracePeriod
	}
	return &StdIOTransport{
		config: config,
		logger: logger.WithFields(map[string]interface{}{"command": config.Command}),
		exited: make(chan struct{}),
	}
}

// Start spawns the process. The context bounds the spawn only; the process
// lives until Close.
func (t *StdIOTransport) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return errors.New("transport already started")
	}
	if t.config.Command == "" {
		return newError(KindTransport, "", "no server command configured", nil)
	}

	cmd := exec.Command(t.config.Command, t.config.Args...)
	cmd.Env = mergeEnv(os.Environ(), t.config.Env)
	cmd.Dir = t.config.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return newError(KindTransport, "", "create stdin pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return newError(KindTransport, "", "create stderr pipe", err)
	}

	// Stdout goes through an io.Pipe so that cmd.Wait finishes copying
	// before the reader sees end of stream.
	stdoutR, stdoutW := io.Pipe()
	cmd.Stdout = stdoutW

	if err := cmd.Start(); err != nil {
		_ = stdoutW.Close()
		_ = stdoutR.Close()
		return newError(KindTransport, "", fmt.Sprintf("start server process %q", t.config.Command), err)
	}

	t.cmd = cmd
	t.stdoutW = stdoutW
	t.stream = NewStreamTransport(stdoutR, stdin, t.logger)
	t.started = true

	t.logger.WithFields(map[string]interface{}{"pid": cmd.Process.Pid}).Info("Server process started")

	t.group.Go(func() error {
		t.drainStderr(stderr)

		err := cmd.Wait()
		t.mu.Lock()
		t.exitErr = err
		t.mu.Unlock()
		close(t.exited)

		if err != nil {
			t.logger.WithErr(err).Info("Server process exited")
			_ = stdoutW.CloseWithError(fmt.Errorf("server process exited: %w", err))
		} else {
			t.logger.Info("Server process exited")
			_ = stdoutW.Close()
		}
		return nil
	})
	return nil
}

func (t *StdIOTransport) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		t.logger.WithFields(map[string]interface{}{"stream": "stderr"}).Debug(scanner.Text())
	}
}

func (t *StdIOTransport) Send(ctx context.Context, msg []byte) error {
	s := t.streamOrNil()
	if s == nil {
		return ErrTransportClosed
	}
	return s.Send(ctx, msg)
}

func (t *StdIOTransport) Messages() iter.Seq2[[]byte, error] {
	s := t.streamOrNil()
	if s == nil {
		return func(yield func([]byte, error) bool) {}
	}
	return s.Messages()
}

// Done is closed when the process has exited.
func (t *StdIOTransport) Done() <-chan struct{} {
	return t.exited
}

// Err returns the process exit cause. A clean exit still reports an error
// because the server is gone.
func (t *StdIOTransport) Err() error {
	select {
	case <-t.exited:
	default:
		if s := t.streamOrNil(); s != nil {
			return s.Err()
		}
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.exitErr != nil {
		return fmt.Errorf("server process exited: %w", t.exitErr)
	}
	return errors.New("server process exited with status 0")
}

// Close ends stdin, waits up to GracePeriod for the process to exit and
// kills it otherwise. Pipes are released on every path.
func (t *StdIOTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		started := t.started
		t.mu.Unlock()

		if !started {
			close(t.exited)
			return
		}

		t.closeErr = t.stream.Close()

		timer := time.NewTimer(t.config.GracePeriod)
		defer timer.Stop()

		select {
		case <-t.exited:
		case <-timer.C:
			t.logger.WithFields(map[string]interface{}{"grace_period": t.config.GracePeriod.String()}).
				Warn("Server process did not exit after stdin was closed, killing it")
			if err := t.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				t.logger.WithErr(err).Error("Failed to kill server process")
			}
		}

		_ = t.group.Wait()
		_ = t.stdoutW.Close()
	})
	return t.closeErr
}

func (t *StdIOTransport) streamOrNil() *StreamTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stream
}

// mergeEnv appends overrides to base in a stable order. Later entries win
// for exec.Cmd, so overrides take precedence over inherited values.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(base)+len(keys))
	env = append(env, base...)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}
