package tracing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracingFile(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "span.json")
	require.NoError(t, Init("megaroot", "0.0.1", fname))

	ctx, parent := StartSpan(context.Background(), "pipeline.Run", KindInternal)
	parent.WithAttributes(map[string]string{"pipeline.id": "build"})
	_, child := StartSpan(ctx, "lock.SimLockRead", KindClient)
	child.AddEvent("routed")
	EndSpan(child, errors.New("unroutable"))
	EndSpan(parent, nil)
	require.NoError(t, Shutdown(context.Background()))

	data, err := os.ReadFile(fname)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pipeline.Run")
	assert.Contains(t, string(data), "lock.SimLockRead")
	assert.Contains(t, string(data), "unroutable")
}

func TestNilSpan(t *testing.T) {
	var span *Span
	assert.NotPanics(t, func() {
		span.WithAttributes(map[string]string{"k": "v"})
		span.AddEvent("e")
		EndSpan(span, nil)
	})
}
