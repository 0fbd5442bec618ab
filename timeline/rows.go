// Package timeline mirrors the pending update schedule into a spreadsheet as
// a four-column timeline view, one row per scheduled invocation.
package timeline

import (
	"fmt"

	"devsim/simulator"
)

// Header is the fixed first row of the timeline sheet.
var Header = [4]string{"Row Label", "Bar Label", "Start", "End"}

// Row is one timeline entry. Start and End are equal because an update fire
// is instantaneous on the timeline.
type Row struct {
	RowLabel string
	BarLabel string
	Start    string
	End      string
}

// BuildRows materializes one row per pending scheduled invocation across all
// jobs. The layout is the Go reference layout used to format fire dates.
func BuildRows(jobs []simulator.ScheduledJob, layout string) []Row {
	var rows []Row
	for _, job := range jobs {
		for _, fire := range job.FireTimes {
			formatted := fire.UTC().Format(layout)
			rows = append(rows, Row{
				RowLabel: job.Name,
				BarLabel: fmt.Sprintf("[%s]: %s", formatted, job.Name),
				Start:    formatted,
				End:      formatted,
			})
		}
	}
	return rows
}
