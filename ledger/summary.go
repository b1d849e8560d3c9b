package ledger

import (
	"context"

	"github.com/poiesic/medvault/core"
)

// Summary aggregates the audited activity over a sequence range.
type Summary struct {
	Events       int
	Successes    int
	Failures     int
	ByOperation  map[string]int
	ByFailure    map[string]int
	AvgLatencyMS float64
	FirstSeq     uint64
	LastSeq      uint64
}

// Summarize computes activity statistics over from <= Seq <= to. It reads
// the stored events as-is; run VerifyChain first when tamper evidence
// matters.
func (l *Ledger) Summarize(ctx context.Context, from, to uint64) (*Summary, error) {
	events, err := l.Export(ctx, from, to)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		ByOperation: make(map[string]int),
		ByFailure:   make(map[string]int),
	}
	var totalLatency float64
	for _, event := range events {
		if s.Events == 0 {
			s.FirstSeq = event.Seq
		}
		s.Events++
		s.LastSeq = event.Seq
		s.ByOperation[event.Operation.String()]++
		totalLatency += event.LatencyMS
		if event.Outcome == core.OutcomeSuccess {
			s.Successes++
		} else {
			s.Failures++
			if event.FailureKind != "" {
				s.ByFailure[event.FailureKind]++
			}
		}
	}
	if s.Events > 0 {
		s.AvgLatencyMS = totalLatency / float64(s.Events)
	}
	return s, nil
}
