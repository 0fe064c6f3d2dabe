package sinks

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/eprints-archiver/internal/progress"
)

func TestConsoleSinkRendersLaneLifecycle(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, false, false)
	batch := []progress.Event{
		{Stage: progress.StageLaneStart, Destination: "internetarchive", Count: 2},
		{Stage: progress.StageOutcome, Destination: "internetarchive", URL: "https://repo.example/1", Outcome: "submitted"},
		{Stage: progress.StageOutcome, Destination: "internetarchive", URL: "https://repo.example/2", Outcome: "alreadyArchived"},
		{Stage: progress.StageLaneDone, Destination: "internetarchive"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	out := buf.String()
	require.Contains(t, out, "Sending to internetarchive 2 URLs")
	require.Contains(t, out, "[internetarchive] submitted https://repo.example/1")
	require.Contains(t, out, "Finished internetarchive: 1 added, 1 already archived")
	require.NotContains(t, out, "\x1b[")
}

func TestConsoleSinkQuietKeepsFailures(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, true, true)
	batch := []progress.Event{
		{Stage: progress.StageLaneStart, Destination: "archivetoday", Count: 2},
		{Stage: progress.StageOutcome, Destination: "archivetoday", URL: "https://repo.example/1", Outcome: "submitted"},
		{Stage: progress.StageOutcome, Destination: "archivetoday", URL: "https://repo.example/2", Outcome: "failedPermanent", Note: "status 404"},
		{Stage: progress.StageAnomaly, Note: "record 7 not found"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	out := buf.String()
	require.NotContains(t, out, "Sending to")
	require.NotContains(t, out, "repo.example/1")
	require.Contains(t, out, "https://repo.example/2 (status 404)")
	require.Contains(t, out, "record 7 not found")
}
