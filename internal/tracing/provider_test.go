package tracing

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/viberelay/relay/internal/config"
)

func TestNewProvider_DisabledIsNoop(t *testing.T) {
	p, err := NewProvider(config.TracingConfig{Enabled: false})
	require.NoError(t, err)
	require.False(t, p.Enabled())
	require.NotNil(t, p.Tracer())

	_, span := p.Tracer().Start(context.Background(), "test")
	require.False(t, span.SpanContext().IsValid(), "no-op spans carry no context")
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_FileExporterRequiresPath(t *testing.T) {
	_, err := NewProvider(config.TracingConfig{Enabled: true, Exporter: "file"})
	require.Error(t, err)
}

func TestNewProvider_RejectsUnknownExporter(t *testing.T) {
	_, err := NewProvider(config.TracingConfig{Enabled: true, Exporter: "carrier-pigeon"})
	require.Error(t, err)
}

func TestNewProvider_FileExporterWritesSpans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.jsonl")
	p, err := NewProvider(config.TracingConfig{
		Enabled:  true,
		Exporter: "file",
		FilePath: path,
	})
	require.NoError(t, err)
	require.True(t, p.Enabled())

	ctx, parent := p.Tracer().Start(context.Background(), "tools.create_task",
		trace.WithAttributes(attribute.String("task.id", "t1")))
	_, child := p.Tracer().Start(ctx, "store.with_tx")
	child.End()
	parent.SetStatus(codes.Ok, "")
	parent.End()

	require.NoError(t, p.Shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	byName := map[string]SpanRecord{}
	for _, line := range lines {
		var record SpanRecord
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		byName[record.Name] = record
	}

	root := byName["tools.create_task"]
	require.Equal(t, "t1", root.Attributes["task.id"])
	require.Equal(t, "OK", root.Status)
	require.Empty(t, root.ParentSpanID)

	nested := byName["store.with_tx"]
	require.Equal(t, root.SpanID, nested.ParentSpanID)
	require.Equal(t, root.TraceID, nested.TraceID)
}
