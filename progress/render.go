package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Lines renders the summary as console lines, one derived field group per
// line, with counts comma-grouped and durations humanized.
func (s Summary) Lines() []string {
	return []string{
		fmt.Sprintf("Updates: %s requested / %s processed / %s delayed / %s errored",
			humanize.Comma(int64(s.UpdatesRequested)),
			humanize.Comma(int64(s.UpdatesProcessed)),
			humanize.Comma(int64(s.UpdatesDelayed)),
			humanize.Comma(int64(s.UpdatesErrored))),
		fmt.Sprintf("Throughput: %.2f updates/sec. Delayed: %s. Errored: %s",
			s.Throughput, s.DelayedRatio.Format(), s.ErroredRatio.Format()),
		fmt.Sprintf("Elapsed: %s real / %s simulated",
			formatDuration(time.Duration(s.RealElapsed)), formatDuration(time.Duration(s.SimulatedElapsed))),
		fmt.Sprintf("Pending: %s real / %s simulated",
			s.RealPending.Format(), s.SimulatedPending.Format()),
		fmt.Sprintf("Simulated time: %s", s.SimulatedNow.UTC().Format(time.RFC3339)),
		fmt.Sprintf("Sinks: dweet=%s timeline=%s",
			statusOrDash(s.DweetStatus), statusOrDash(s.TimelineStatus)),
	}
}

// Format renders the ratio as a percentage or "N/A".
func (r Ratio) Format() string {
	if !r.Valid {
		return "N/A"
	}
	return fmt.Sprintf("%.2f%%", r.Value)
}

// Format renders the pending duration humanized or "N/A".
func (p Pending) Format() string {
	if !p.Valid {
		return "N/A"
	}
	return formatDuration(p.Duration)
}

func statusOrDash(status string) string {
	if status == "" {
		return "-"
	}
	return status
}

// formatDuration renders sub-minute durations exactly and longer ones in
// humanized relative terms.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return d.Round(time.Millisecond).String()
	}
	reference := time.Now()
	return strings.TrimSuffix(humanize.RelTime(reference, reference.Add(d), "", ""), " ")
}
