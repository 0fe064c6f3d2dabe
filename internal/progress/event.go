package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names the milestone an Event reports.
type Stage string

// Run, discovery and dispatch milestones.
const (
	StageRunStart       Stage = "RUN_START"
	StageRunDone        Stage = "RUN_DONE"
	StageDiscoveryStart Stage = "DISCOVERY_START"
	StageRecordDone     Stage = "RECORD_DONE"
	StageAnomaly        Stage = "ANOMALY"
	StageDiscoveryDone  Stage = "DISCOVERY_DONE"
	StageLaneStart      Stage = "LANE_START"
	StageProbeDone      Stage = "PROBE_DONE"
	StageSubmitDone     Stage = "SUBMIT_DONE"
	StageRetryWait      Stage = "RETRY_WAIT"
	StageOutcome        Stage = "OUTCOME"
	StageLaneDone       Stage = "LANE_DONE"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// HTTP status classes recorded on probe and submit events.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event is one progress report from the discovery engine or a lane.
type Event struct {
	// RunID identifies the archiver run in 16-byte UUID form.
	RunID [16]byte
	TS    time.Time
	Stage Stage
	// Destination is the archive name for lane events.
	Destination string
	// URL never carries credentials.
	URL      string
	RecordID int
	// Attempt is 1 for the first submission of a URL, 2 for the first retry, etc.
	Attempt     int
	StatusClass StatusClass
	// Outcome holds the final result of a (URL, destination) pair, or the
	// probe verdict on PROBE_DONE.
	Outcome string
	// Count carries totals such as the number of URLs in a lane.
	Count int64
	Dur   time.Duration
	Note  string
}

// Validate rejects events that sinks cannot interpret.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageDiscoveryStart, StageDiscoveryDone, StageRecordDone, StageAnomaly:
	case StageLaneStart, StageLaneDone, StageProbeDone, StageSubmitDone, StageRetryWait:
		if e.Destination == "" {
			return fmt.Errorf("%s requires destination", e.Stage)
		}
	case StageOutcome:
		if e.Destination == "" || e.Outcome == "" {
			return errors.New("outcome requires destination and outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run id to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}

// Reporter stamps events with a run id and timestamp before emitting them.
// A nil Reporter or one without an Emitter discards events.
type Reporter struct {
	RunID   [16]byte
	Emitter Emitter
	Now     func() time.Time
}

// NewReporter creates a Reporter for a fresh run id.
func NewReporter(emitter Emitter) *Reporter {
	return &Reporter{RunID: UUIDToBytes(uuid.New()), Emitter: emitter, Now: time.Now}
}

// Emit fills in RunID and TS and forwards the event.
func (r *Reporter) Emit(evt Event) {
	if r == nil || r.Emitter == nil {
		return
	}
	evt.RunID = r.RunID
	if evt.TS.IsZero() {
		now := time.Now
		if r.Now != nil {
			now = r.Now
		}
		evt.TS = now().UTC()
	}
	r.Emitter.Emit(evt)
}
