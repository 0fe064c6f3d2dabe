package sinks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/JakeFAU/eprints-archiver/internal/progress"
)

// ConsoleSink prints one line per finished (URL, destination) pair plus
// phase headers. Quiet mode keeps only anomalies and failures.
type ConsoleSink struct {
	mu     sync.Mutex
	out    io.Writer
	color  bool
	quiet  bool
	counts map[string]int
}

// NewConsoleSink writes to out.
func NewConsoleSink(out io.Writer, color, quiet bool) *ConsoleSink {
	return &ConsoleSink{out: out, color: color, quiet: quiet, counts: map[string]int{}}
}

// Consume renders the batch.
func (s *ConsoleSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		line := s.render(evt)
		if line == "" {
			continue
		}
		if _, err := fmt.Fprintln(s.out, line); err != nil {
			return fmt.Errorf("write console progress: %w", err)
		}
	}
	return nil
}

func (s *ConsoleSink) render(evt progress.Event) string {
	switch evt.Stage {
	case progress.StageDiscoveryStart:
		if s.quiet {
			return ""
		}
		return s.paint(text.FgHiGreen, "Gathering URLs") + " " + evt.Note
	case progress.StageDiscoveryDone:
		if s.quiet {
			return ""
		}
		return s.paint(text.FgHiGreen, fmt.Sprintf("Discovered %d URLs", evt.Count))
	case progress.StageAnomaly:
		return s.paint(text.FgYellow, "warning: ") + evt.Note
	case progress.StageLaneStart:
		if s.quiet {
			return ""
		}
		return fmt.Sprintf("%s %d URLs", s.paint(text.FgHiCyan, "Sending to "+evt.Destination), evt.Count)
	case progress.StageOutcome:
		s.counts[evt.Destination+"/"+evt.Outcome]++
		color, loud := outcomeStyle(evt.Outcome)
		if s.quiet && !loud {
			return ""
		}
		line := fmt.Sprintf("[%s] %s %s", evt.Destination, s.paint(color, evt.Outcome), evt.URL)
		if evt.Note != "" {
			line += " (" + evt.Note + ")"
		}
		return line
	case progress.StageLaneDone:
		if s.quiet {
			return ""
		}
		return fmt.Sprintf("%s: %d added, %d already archived",
			s.paint(text.FgHiCyan, "Finished "+evt.Destination),
			s.counts[evt.Destination+"/submitted"],
			s.counts[evt.Destination+"/alreadyArchived"])
	}
	return ""
}

func outcomeStyle(outcome string) (text.Color, bool) {
	switch outcome {
	case "submitted":
		return text.FgGreen, false
	case "alreadyArchived":
		return text.FgBlue, false
	case "skippedByPolicy", "incomplete":
		return text.FgYellow, true
	default:
		return text.FgRed, true
	}
}

func (s *ConsoleSink) paint(c text.Color, msg string) string {
	if !s.color {
		return msg
	}
	return c.Sprint(msg)
}

// Close implements progress.Sink.
func (s *ConsoleSink) Close(context.Context) error {
	return nil
}
