// Package toolrunner delegates work to external tools inside isolated child
// processes. Parent and child speak a JSON-line protocol on stdin/stdout: the
// child announces readiness, receives one work payload, and sends exactly one
// terminal message before being torn down.
package toolrunner

import (
	"encoding/json"
)

const (
	statusReady   = "ready"
	statusSuccess = "success"
	statusError   = "error"
)

// request is the parent-to-child work payload. The correlation id is used
// only for log matching across the process boundary.
type request struct {
	CorrelationID string          `json:"correlation_id"`
	Input         json.RawMessage `json:"input"`
}

// message is any child-to-parent line.
type message struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  *messageError   `json:"error,omitempty"`
}

type messageError struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}
