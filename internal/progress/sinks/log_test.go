package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/eprints-archiver/internal/progress"
)

func TestLogSinkWritesStructuredFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	evt := progress.Event{
		RunID:       progress.UUIDToBytes(uuid.New()),
		TS:          time.Now(),
		Stage:       progress.StageSubmitDone,
		Destination: "internetarchive",
		URL:         "https://repo.example/4",
		Attempt:     2,
		StatusClass: progress.Status2xx,
	}
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{evt}))
	require.Equal(t, 1, logs.Len())

	fields := logs.All()[0].ContextMap()
	require.Equal(t, "SUBMIT_DONE", fields["stage"])
	require.Equal(t, "internetarchive", fields["destination"])
	require.Equal(t, int64(2), fields["attempt"])
	require.NotContains(t, fields, "note")
}
