package toolrunner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/config"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/core"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/logger"
	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

// Runner spawns one child process per tool invocation and resolves the call
// on the child's single terminal message. Four outcomes are possible and
// mutually exclusive: tool success, tool-reported error, premature child exit,
// or timeout; the child is always torn down afterwards.
type Runner struct {
	cfg       config.RunnerConfig
	telemetry core.Telemetry
	logger    *logger.Logger
	binary    string
}

func NewRunner(cfg config.RunnerConfig, telemetry core.Telemetry, log *logger.Logger) (*Runner, error) {
	binary := cfg.BinaryPath
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve own executable: %w", err)
		}
		binary = self
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}

	return &Runner{
		cfg:       cfg,
		telemetry: telemetry,
		logger:    log.WithComponent("toolrunner"),
		binary:    binary,
	}, nil
}

// Invocation is one tool call.
type Invocation struct {
	Tool  string
	Input interface{}
	// Timeout overrides the runner default when positive.
	Timeout time.Duration
}

// outcome is the single terminal result of an invocation.
type outcome struct {
	data json.RawMessage
	err  error
}

// Run executes one invocation and decodes the success payload into output
// when output is non-nil.
func (r *Runner) Run(ctx context.Context, inv Invocation, output interface{}) error {
	start := time.Now()
	correlationID := uuid.New().String()
	log := r.logger.WithFields("tool", inv.Tool, "correlation_id", correlationID)

	if inv.Tool == "" {
		return types.NewValidationError("tool name is required")
	}

	input, err := json.Marshal(inv.Input)
	if err != nil {
		return types.NewValidationError(fmt.Sprintf("tool input not serializable: %v", err))
	}

	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := r.spawn(ctx, log, inv.Tool, correlationID, input)

	result := "success"
	if err != nil {
		result = string(types.CodeOf(err))
	}
	if r.telemetry != nil {
		r.telemetry.RecordToolInvocation(ctx, inv.Tool, result, time.Since(start))
	}
	log.Debugw("Tool invocation finished",
		"outcome", result,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if err != nil {
		return err
	}
	if output != nil && len(data) > 0 {
		if err := json.Unmarshal(data, output); err != nil {
			return types.NewToolError(inv.Tool, fmt.Errorf("undecodable result: %w", err))
		}
	}
	return nil
}

func (r *Runner) spawn(ctx context.Context, log *logger.Logger, tool, correlationID string, input json.RawMessage) (json.RawMessage, error) {
	cmd := exec.Command(r.binary, "tool", tool)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, types.NewToolError(tool, fmt.Errorf("failed to open stdin: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, types.NewToolError(tool, fmt.Errorf("failed to open stdout: %w", err))
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, types.NewToolError(tool, fmt.Errorf("failed to spawn child: %w", err))
	}
	log.Debugw("Tool child spawned", "pid", cmd.Process.Pid)

	// The reader goroutine fulfills terminal exactly once: with the child's
	// terminal message, or with a premature-exit/transport error.
	terminal := make(chan outcome, 1)
	go r.readChild(stdout, stdin, correlationID, input, terminal)

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	var result outcome
	select {
	case result = <-terminal:
		// Terminal outcome first: tear the child down unconditionally.
		_ = cmd.Process.Kill()
		<-exited
	case err := <-exited:
		// Child exited before any terminal message. Drain the reader in
		// case it raced the exit with a terminal line.
		select {
		case result = <-terminal:
		case <-time.After(100 * time.Millisecond):
			result = outcome{err: prematureExit(tool, err, stderr.String())}
		}
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-exited
		if ctx.Err() == context.DeadlineExceeded {
			result = outcome{err: types.NewToolError(tool, fmt.Errorf("invocation timed out"))}
			log.Warnw("Tool invocation timed out, child killed")
		} else {
			result = outcome{err: ctx.Err()}
		}
	}

	return result.data, result.err
}

// readChild drives the handshake and forwards the child's terminal message.
func (r *Runner) readChild(stdout io.Reader, stdin io.WriteCloser, correlationID string, input json.RawMessage, terminal chan<- outcome) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	resolved := false
	resolve := func(o outcome) {
		if !resolved {
			resolved = true
			terminal <- o
		}
	}

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var msg message
		if err := json.Unmarshal(line, &msg); err != nil {
			resolve(outcome{err: types.NewTransportError("undecodable child message", err)})
			return
		}

		switch msg.Status {
		case statusReady:
			req, err := json.Marshal(request{CorrelationID: correlationID, Input: input})
			if err != nil {
				resolve(outcome{err: types.NewTransportError("failed to encode request", err)})
				return
			}
			if _, err := stdin.Write(append(req, '\n')); err != nil {
				resolve(outcome{err: types.NewTransportError("failed to send request", err)})
				return
			}
		case statusSuccess:
			resolve(outcome{data: msg.Data})
			return
		case statusError:
			errMsg := "tool reported failure"
			if msg.Error != nil {
				errMsg = msg.Error.Message
			}
			resolve(outcome{err: &types.AppError{Code: types.ErrTool, Message: errMsg}})
			return
		}
	}

	// Stream ended without a terminal message; the exit path reports the
	// premature exit unless we already resolved.
	if err := scanner.Err(); err != nil {
		resolve(outcome{err: types.NewTransportError("child stream error", err)})
	}
}

func prematureExit(tool string, waitErr error, stderr string) error {
	detail := "child exited before sending a terminal message"
	if waitErr != nil {
		detail += ": " + waitErr.Error()
	}
	if s := strings.TrimSpace(stderr); s != "" {
		if len(s) > 512 {
			s = s[:512]
		}
		detail += " (stderr: " + s + ")"
	}
	return types.NewToolError(tool, fmt.Errorf("%s", detail))
}

// RunBatch invokes tool once per input, at most batchSize children at a time.
// Batches run sequentially; inputs within one batch run fully in parallel and
// the first failure in a batch cancels its siblings and aborts the remaining
// batches. Results are indexed like inputs.
func (r *Runner) RunBatch(ctx context.Context, tool string, inputs []interface{}) ([]json.RawMessage, error) {
	results := make([]json.RawMessage, len(inputs))
	batchSize := r.cfg.BatchSize

	for offset := 0; offset < len(inputs); offset += batchSize {
		end := offset + batchSize
		if end > len(inputs) {
			end = len(inputs)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := offset; i < end; i++ {
			i := i
			g.Go(func() error {
				var raw json.RawMessage
				if err := r.Run(gctx, Invocation{Tool: tool, Input: inputs[i]}, &raw); err != nil {
					return err
				}
				results[i] = raw
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return results, err
		}
	}

	return results, nil
}
