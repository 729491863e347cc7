package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  config.LoggerConfig
		wantErr bool
	}{
		{
			name: "valid json config",
			config: config.LoggerConfig{
				Level:  "debug",
				Format: "json",
			},
			wantErr: false,
		},
		{
			name: "valid console config",
			config: config.LoggerConfig{
				Level:  "info",
				Format: "console",
			},
			wantErr: false,
		},
		{
			name: "invalid level",
			config: config.LoggerConfig{
				Level:  "invalid",
				Format: "json",
			},
			wantErr: true,
		},
		{
			name:    "empty config uses defaults",
			config:  config.LoggerConfig{},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, logger)
			}
		})
	}
}

func TestWithHelpers(t *testing.T) {
	log, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	assert.NotNil(t, log.WithComponent("scheduler"))
	assert.NotNil(t, log.WithScanID("scan-1"))
	assert.NotNil(t, log.WithSource("source-1"))
	assert.NotNil(t, log.WithContext(context.Background()))
}

func TestStartFinishOperation(t *testing.T) {
	log, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	ctx, span := log.StartOperation(context.Background(), "test.operation", "key", "value")
	require.NotNil(t, span)

	// Finishing with and without an error must not panic.
	log.FinishOperation(ctx, span, "test.operation", time.Now(), nil)

	ctx, span = log.StartOperation(context.Background(), "test.failing")
	log.FinishOperation(ctx, span, "test.failing", time.Now(), errors.New("boom"))
}

func TestLogErrorNilIsNoop(t *testing.T) {
	log, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	log.LogError(context.Background(), nil, "noop")
}
