package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yashrajoria/reservation-service/logger"
)

func TestInitializeWithWriter_TeesJSON(t *testing.T) {
	var buf bytes.Buffer
	_, err := logger.InitializeWithWriter("production", &buf)
	require.NoError(t, err)

	ctx := logger.WithRequestID(context.Background(), "req-1")
	logger.Info(ctx, "stock reserved")
	_ = logger.Log.Sync()

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "stock reserved", entry["msg"])
	assert.Equal(t, "req-1", entry["request_id"])
}

func TestRequestID(t *testing.T) {
	assert.Empty(t, logger.RequestID(context.Background()))
	assert.Equal(t, "abc", logger.RequestID(logger.WithRequestID(context.Background(), "abc")))
}
