// internal/logger/logger_test.go
package logger

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithComponentTagsEntries(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	WithComponent(zap.New(core), "discovery").Info("hello")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "discovery", fields["component"])
}

func TestWithOperationAttachesCorrelationID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	WithOperation(zap.New(core), "snipe").Info("screening")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "snipe", fields["operation"])

	id, ok := fields["correlation_id"].(string)
	require.True(t, ok)
	_, err := uuid.Parse(id)
	assert.NoError(t, err, "correlation id must be a valid uuid")
}

func TestWithOperationIDsAreUnique(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := zap.New(core)

	WithOperation(l, "snipe").Info("first")
	WithOperation(l, "snipe").Info("second")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.NotEqual(t,
		entries[0].ContextMap()["correlation_id"],
		entries[1].ContextMap()["correlation_id"])
}

func TestWithTransactionTagsSignature(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	WithTransaction(zap.New(core), "5sig").Info("confirmed")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "5sig", entries[0].ContextMap()["tx_signature"])
}
