package toolrunner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime/debug"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/logger"
	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

// Tool is one child-side implementation invoked through the runner.
type Tool interface {
	Name() string
	Run(ctx context.Context, input json.RawMessage) (interface{}, error)
}

// Harness is the child-process side of the protocol: it announces readiness,
// reads one work payload, runs the named tool and writes exactly one terminal
// message.
type Harness struct {
	tools  map[string]Tool
	in     io.Reader
	out    io.Writer
	logger *logger.Logger
}

func NewHarness(in io.Reader, out io.Writer, log *logger.Logger) *Harness {
	return &Harness{
		tools:  make(map[string]Tool),
		in:     in,
		out:    out,
		logger: log.WithComponent("tool-harness"),
	}
}

func (h *Harness) Register(tool Tool) {
	h.tools[tool.Name()] = tool
}

// Serve runs one invocation of the named tool to completion.
func (h *Harness) Serve(ctx context.Context, toolName string) error {
	tool, ok := h.tools[toolName]
	if !ok {
		err := types.NewValidationError(fmt.Sprintf("unknown tool %q", toolName))
		h.write(message{Status: statusError, Error: &messageError{Message: err.Error()}})
		return err
	}

	if err := h.write(message{Status: statusReady}); err != nil {
		return fmt.Errorf("failed to signal readiness: %w", err)
	}

	scanner := bufio.NewScanner(h.in)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	if !scanner.Scan() {
		err := scanner.Err()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		h.write(message{Status: statusError, Error: &messageError{Message: "no request received: " + err.Error()}})
		return err
	}

	var req request
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		h.write(message{Status: statusError, Error: &messageError{Message: "undecodable request: " + err.Error()}})
		return err
	}

	log := h.logger.WithFields("tool", toolName, "correlation_id", req.CorrelationID)
	log.Debugw("Tool request received")

	result, err := h.runTool(ctx, tool, req.Input)
	if err != nil {
		log.Errorw("Tool failed", "error", err)
		return h.write(message{Status: statusError, Error: &messageError{Message: err.Error()}})
	}

	data, err := json.Marshal(result)
	if err != nil {
		return h.write(message{Status: statusError, Error: &messageError{
			Message: "failed to encode result: " + err.Error()}})
	}

	return h.write(message{Status: statusSuccess, Data: data})
}

// runTool isolates tool panics into ordinary errors so the parent still gets
// a terminal message instead of a premature exit.
func (h *Harness) runTool(ctx context.Context, tool Tool, input json.RawMessage) (result interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &types.AppError{
				Code:    types.ErrTool,
				Message: fmt.Sprintf("tool panicked: %v\n%s", rec, debug.Stack()),
			}
		}
	}()
	return tool.Run(ctx, input)
}

func (h *Harness) write(msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	_, err = h.out.Write(append(data, '\n'))
	return err
}
