package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubDeliversFullBatch(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{Buffer: 8, BatchSize: 2, FlushEvery: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageRunStart))
	hub.Emit(sampleEvent(StageDiscoveryStart))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubFlushesOnTick(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{Buffer: 4, BatchSize: 10, FlushEvery: 20 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageRunStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubDrainsOnClose(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{Buffer: 4, BatchSize: 100, FlushEvery: time.Minute}, sink)
	hub.Emit(sampleEvent(StageRunStart))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.True(t, sink.Closed())

	// Emits after close are ignored.
	hub.Emit(sampleEvent(StageRunDone))
	require.Len(t, sink.Batches(), 1)
	require.NoError(t, hub.Close(context.Background()))
}

func TestHubRejectsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BatchSize: 1}, sink)
	hub.Emit(Event{Stage: StageRunStart})
	hub.Emit(Event{RunID: UUIDToBytes(uuid.New()), TS: time.Now(), Stage: StageSubmitDone})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

func TestHubDropsWhenFull(t *testing.T) {
	t.Parallel()

	hub := &Hub{in: make(chan Event), logger: zap.NewNop()}
	start := time.Now()
	hub.Emit(sampleEvent(StageRunStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(1), hub.Dropped())
}

func TestHubWaitsForRoomForOutcomes(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	sink := &recordingSink{gate: release}
	hub := NewHub(Config{Buffer: 1, BatchSize: 1, FlushEvery: time.Minute}, sink)

	outcome := sampleEvent(StageOutcome)
	outcome.Destination = "internetarchive"
	outcome.Outcome = "submitted"

	// The first event occupies the sink, the second fills the buffer.
	hub.Emit(outcome)
	require.Eventually(t, func() bool { return len(hub.in) == 0 }, time.Second, time.Millisecond)
	hub.Emit(outcome)

	emitted := make(chan struct{})
	go func() {
		hub.Emit(outcome)
		close(emitted)
	}()
	hub.Emit(sampleEvent(StageRunDone))
	require.Equal(t, int64(1), hub.Dropped())

	select {
	case <-emitted:
		t.Fatal("outcome emitted while the buffer was full")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-emitted

	require.NoError(t, hub.Close(context.Background()))
	total := 0
	for _, b := range sink.Batches() {
		total += len(b)
	}
	require.Equal(t, 3, total)
}

func TestReporterStampsEvents(t *testing.T) {
	t.Parallel()

	var got []Event
	r := NewReporter(EmitterFunc(func(evt Event) { got = append(got, evt) }))
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	r.Now = func() time.Time { return fixed }

	r.Emit(Event{Stage: StageLaneStart, Destination: "internetarchive"})
	require.Len(t, got, 1)
	require.Equal(t, r.RunID, got[0].RunID)
	require.Equal(t, fixed, got[0].TS)
	require.NoError(t, got[0].Validate())

	var nilReporter *Reporter
	nilReporter.Emit(Event{Stage: StageRunStart})
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, Status2xx, ClassifyStatus(200))
	require.Equal(t, Status3xx, ClassifyStatus(302))
	require.Equal(t, Status4xx, ClassifyStatus(429))
	require.Equal(t, Status5xx, ClassifyStatus(503))
	require.Equal(t, StatusOther, ClassifyStatus(0))
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
	// gate, when set, blocks Consume until it is closed.
	gate chan struct{}
}

func (s *recordingSink) Consume(_ context.Context, batch []Event) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.batches...)
}

func (s *recordingSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func sampleEvent(stage Stage) Event {
	return Event{
		RunID: UUIDToBytes(uuid.New()),
		TS:    time.Now(),
		Stage: stage,
	}
}
