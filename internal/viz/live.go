package viz

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
)

const historyCapacity = 240

// ProgressMsg reports one completed step.
type ProgressMsg struct {
	Step      int
	Total     int
	Time      float64
	End       float64
	Elevation float64 // at the first detector, NaN when there is none
}

// DoneMsg ends the program once the run has returned.
type DoneMsg struct {
	Err error
}

type tickMsg time.Time

// Model shows a run's progress. The run itself happens elsewhere; the
// model only receives messages and may cancel it.
type Model struct {
	runID   string
	cancel  context.CancelFunc
	started time.Time

	progress  ProgressMsg
	elevation []float64
	domain    string
	showMap   bool

	frame    int
	stopping bool
	done     bool
	err      error
}

// NewModel creates the view. cancel is called when the user asks to stop;
// domain is a pre-rendered map shown with M, and may be empty.
func NewModel(runID string, cancel context.CancelFunc, domain string) Model {
	return Model{
		runID:     runID,
		cancel:    cancel,
		started:   time.Now(),
		elevation: make([]float64, 0, historyCapacity),
		domain:    domain,
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second/10, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd { return tick() }

func (m Model) Done() bool { return m.done }

func (m Model) Err() error { return m.err }

func (m Model) Progress() ProgressMsg { return m.progress }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !m.stopping && m.cancel != nil {
				m.cancel()
			}
			m.stopping = true
		case "m":
			m.showMap = !m.showMap && m.domain != ""
		}
	case ProgressMsg:
		m.progress = msg
		if !math.IsNaN(msg.Elevation) {
			if len(m.elevation) == historyCapacity {
				m.elevation = m.elevation[1:]
			}
			m.elevation = append(m.elevation, msg.Elevation)
		}
	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit
	case tickMsg:
		m.frame++
		if !m.done {
			return m, tick()
		}
	}
	return m, nil
}

func (m Model) fraction() float64 {
	if m.progress.Total == 0 {
		return 0
	}
	return float64(m.progress.Step) / float64(m.progress.Total)
}

func (m Model) View() string {
	var s strings.Builder
	s.WriteString(Title.Render("tidesim "+m.runID) + "\n\n")

	switch {
	case m.done && m.err != nil:
		s.WriteString(StatusFailed.Render("FAILED") + "\n")
	case m.done:
		s.WriteString(StatusRunning.Render("DONE") + "\n")
	case m.stopping:
		s.WriteString(StatusStopping.Render(Spinner(m.frame)+" STOPPING") + "\n")
	default:
		s.WriteString(StatusRunning.Render(Spinner(m.frame)+" RUNNING") + "\n")
	}
	s.WriteString(ProgressBar(m.fraction(), 40) + fmt.Sprintf(" %5.1f%%\n\n", 100*m.fraction()))

	row := func(label, value string) {
		s.WriteString(MetricLabel.Render(label) + MetricValue.Render(value) + "\n")
	}
	row("Step", fmt.Sprintf("%d / %d", m.progress.Step, m.progress.Total))
	row("Sim time", fmt.Sprintf("%.0fs / %.0fs", m.progress.Time, m.progress.End))
	row("Wall time", time.Since(m.started).Truncate(time.Second).String())

	if len(m.elevation) > 1 {
		chart := asciigraph.Plot(m.elevation, asciigraph.Height(6), asciigraph.Width(50), asciigraph.Caption("elevation at first detector (m)"))
		s.WriteString("\n" + chart + "\n")
	}

	body := s.String()
	if m.showMap {
		body = lipgloss.JoinHorizontal(lipgloss.Top, body, Panel.Render(m.domain))
	}
	return Panel.Render(body) + "\n" + KeyHint.Render("q: stop  m: map")
}
