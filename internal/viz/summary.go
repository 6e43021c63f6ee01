package viz

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Summary is what the CLI prints at the end of a run.
type Summary struct {
	RunID     string
	Phase     string
	Steps     int
	FinalTime float64
	Exports   int
	Elapsed   time.Duration
	RunDir    string
	Monitors  map[string]float64
	Err       error
}

func (s Summary) Render() string {
	var b strings.Builder
	status := StatusRunning.Render(strings.ToUpper(s.Phase))
	if s.Err != nil {
		status = StatusFailed.Render(strings.ToUpper(s.Phase))
	}
	b.WriteString(Title.Render("run "+s.RunID) + "  " + status + "\n\n")

	row := func(label, value string) {
		b.WriteString(MetricLabel.Render(label) + MetricValue.Render(value) + "\n")
	}
	row("Steps", fmt.Sprintf("%d", s.Steps))
	row("Sim time", fmt.Sprintf("%.0fs", s.FinalTime))
	row("Exports", fmt.Sprintf("%d", s.Exports))
	row("Time cost", s.Elapsed.Round(time.Millisecond).String())
	if s.RunDir != "" {
		row("Output", s.RunDir)
	}

	if len(s.Monitors) > 0 {
		names := make([]string, 0, len(s.Monitors))
		for n := range s.Monitors {
			names = append(names, n)
		}
		sort.Strings(names)
		b.WriteString("\n")
		for _, n := range names {
			row(n, fmt.Sprintf("%.3g", s.Monitors[n]))
		}
	}
	if s.Err != nil {
		b.WriteString("\n" + StatusFailed.Render(s.Err.Error()) + "\n")
	}
	return Panel.Render(b.String())
}
