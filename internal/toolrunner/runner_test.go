package toolrunner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/config"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/logger"
	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(config.LoggerConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	return log
}

// scriptChild writes a fake child executable so the parent protocol can be
// exercised against a real process without the project binary.
func scriptChild(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "child.sh")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func testRunner(t *testing.T, binary string, timeout time.Duration) *Runner {
	t.Helper()
	r, err := NewRunner(config.RunnerConfig{
		BinaryPath: binary,
		Timeout:    timeout,
		BatchSize:  2,
	}, nil, testLogger(t))
	require.NoError(t, err)
	return r
}

func TestRunSuccess(t *testing.T) {
	binary := scriptChild(t, `
echo '{"status":"ready"}'
read line
echo '{"status":"success","data":{"hosts":["10.0.0.1"]}}'`)
	r := testRunner(t, binary, 5*time.Second)

	var out struct {
		Hosts []string `json:"hosts"`
	}
	err := r.Run(context.Background(), Invocation{Tool: "portscan", Input: map[string]string{"target": "10.0.0.0/24"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1"}, out.Hosts)
}

func TestRunToolReportedError(t *testing.T) {
	binary := scriptChild(t, `
echo '{"status":"ready"}'
read line
echo '{"status":"error","error":{"message":"target unreachable"}}'`)
	r := testRunner(t, binary, 5*time.Second)

	err := r.Run(context.Background(), Invocation{Tool: "portscan", Input: nil}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrTool, types.CodeOf(err))
	assert.Contains(t, err.Error(), "target unreachable")
}

func TestRunSkippedHandshake(t *testing.T) {
	// A tool that needs no input may emit its terminal message directly.
	binary := scriptChild(t, `echo '{"status":"success","data":{"ok":true}}'`)
	r := testRunner(t, binary, 5*time.Second)

	var out struct {
		OK bool `json:"ok"`
	}
	err := r.Run(context.Background(), Invocation{Tool: "urldedup", Input: nil}, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
}

func TestRunPrematureExit(t *testing.T) {
	binary := scriptChild(t, `
echo "boom" >&2
exit 3`)
	r := testRunner(t, binary, 5*time.Second)

	err := r.Run(context.Background(), Invocation{Tool: "portscan", Input: nil}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrTool, types.CodeOf(err))
	assert.Contains(t, err.Error(), "before sending a terminal message")
	assert.Contains(t, err.Error(), "boom")
}

func TestRunTransportError(t *testing.T) {
	binary := scriptChild(t, `echo 'this is not json'; sleep 5`)
	r := testRunner(t, binary, 5*time.Second)

	err := r.Run(context.Background(), Invocation{Tool: "portscan", Input: nil}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrTransport, types.CodeOf(err))
}

func TestRunTimeoutKillsChild(t *testing.T) {
	binary := scriptChild(t, `
echo '{"status":"ready"}'
sleep 30`)
	r := testRunner(t, binary, 5*time.Second)

	start := time.Now()
	err := r.Run(context.Background(), Invocation{
		Tool:    "crawler",
		Input:   nil,
		Timeout: 200 * time.Millisecond,
	}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrTool, types.CodeOf(err))
	assert.Contains(t, err.Error(), "timed out")
	// The child was killed rather than waited for.
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunValidation(t *testing.T) {
	r := testRunner(t, "/bin/true", time.Second)

	err := r.Run(context.Background(), Invocation{Tool: ""}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.CodeOf(err))

	err = r.Run(context.Background(), Invocation{Tool: "portscan", Input: make(chan int)}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.CodeOf(err))
}

func TestRunBatchParallelWithinBatch(t *testing.T) {
	// Each child sleeps briefly; with batch size 2, four inputs take two
	// batch rounds but siblings overlap.
	binary := scriptChild(t, `
echo '{"status":"ready"}'
read line
sleep 0.2
echo '{"status":"success","data":{"ok":true}}'`)
	r := testRunner(t, binary, 5*time.Second)

	inputs := []interface{}{1, 2, 3, 4}
	start := time.Now()
	results, err := r.RunBatch(context.Background(), "portscan", inputs)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for _, res := range results {
		assert.JSONEq(t, `{"ok":true}`, string(res))
	}
	// Two sequential batches of two parallel children: well under the
	// 0.8s a fully serial execution would need.
	assert.Less(t, time.Since(start), 700*time.Millisecond)
}

func TestRunBatchFirstFailurePropagates(t *testing.T) {
	binary := scriptChild(t, `
echo '{"status":"ready"}'
read line
echo '{"status":"error","error":{"message":"scan failed"}}'`)
	r := testRunner(t, binary, 5*time.Second)

	_, err := r.RunBatch(context.Background(), "portscan", []interface{}{1, 2, 3})
	require.Error(t, err)
	assert.Equal(t, types.ErrTool, types.CodeOf(err))
}
