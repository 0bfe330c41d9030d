package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pulseworks/readycheck/pkg/client"
)

const (
	refreshEvery  = time.Second
	fetchTimeout  = 500 * time.Millisecond
	journalDepth  = 20
	journalHeight = 14
	barWidth      = 24
	paneWidth     = 100
)

var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	mainStyle   = lipgloss.NewStyle().MarginLeft(1)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	titleStyle  = lipgloss.NewStyle().Bold(true).Underline(true)

	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			Width(paneWidth)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 1).
			Width(paneWidth)

	journalStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			PaddingRight(2)

	// Pool bars
	fillStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	suppressedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	emptyStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("236"))
	poolNameStyle   = lipgloss.NewStyle().Bold(true).Width(10)

	// Readiness rows
	readyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	countdownStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	unknownStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	abilityStyle   = lipgloss.NewStyle().Width(18)

	// Journal rows
	eventTimeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(10)
	eventTypeStyle = lipgloss.NewStyle().Width(25).Bold(true)
	eventPoolStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("99"))
	spendStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	regenStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	infoStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

type tickMsg time.Time

type dataMsg struct {
	pools  []client.PoolStatus
	preds  []client.Prediction
	events []client.Event
	health client.Health
	err    error
}

type model struct {
	api      *client.Client
	spinner  spinner.Model
	viewport viewport.Model
	pools    []client.PoolStatus
	preds    []client.Prediction
	events   []client.Event
	health   client.Health
	err      error
	ready    bool
}

func newModel(api *client.Client) model {
	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = spinnerStyle
	return model{api: api, spinner: s}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, fetchData(m.api), scheduleRefresh())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		return m, tea.Batch(fetchData(m.api), scheduleRefresh())

	case dataMsg:
		m.applyData(msg)
		return m, nil

	case tea.WindowSizeMsg:
		m.resize(msg)
		return m, nil
	}

	return m, nil
}

// applyData folds a poll result into the model. Errors keep the last
// good data on screen with an offline banner.
func (m *model) applyData(msg dataMsg) {
	m.ready = true
	if msg.err != nil {
		m.err = msg.err
		return
	}
	m.err = nil
	m.pools = msg.pools
	m.preds = msg.preds
	m.events = msg.events
	m.health = msg.health
	m.refreshJournal()
}

func (m *model) resize(msg tea.WindowSizeMsg) {
	if !m.ready {
		m.viewport = viewport.New(msg.Width, journalHeight)
		m.viewport.Style = journalStyle
		m.ready = true
		return
	}
	m.viewport.Width = msg.Width
	m.viewport.Height = journalHeight
}

func (m *model) refreshJournal() {
	var sb strings.Builder
	for _, e := range m.events {
		style := infoStyle
		switch e.EventType {
		case "spend_observed", "source_error":
			style = spendStyle
		case "regen_tick_observed", "rate_learned":
			style = regenStyle
		}
		fmt.Fprintf(&sb, "%s %s %s\n",
			eventTimeStyle.Render(e.TsEvent.Format("15:04:05")),
			eventTypeStyle.Render(style.Render(e.EventType)),
			eventPoolStyle.Render("Pool: "+e.Dimensions.PoolID),
		)
	}
	m.viewport.SetContent(sb.String())
}

// poolBar renders a fill bar. Suppressed pools show red so the eye catches
// why the countdown stalled.
func poolBar(p client.PoolStatus) string {
	frac := 0.0
	if p.Max > 0 {
		frac = p.Current / p.Max
	}
	if frac > 1 {
		frac = 1
	}
	filled := int(frac * barWidth)

	style := fillStyle
	if p.Suppressed {
		style = suppressedStyle
	}
	bar := style.Render(strings.Repeat("█", filled)) + emptyStyle.Render(strings.Repeat("░", barWidth-filled))

	state := ""
	if p.Suppressed {
		state = suppressedStyle.Render(fmt.Sprintf("  suppressed %.1fs", p.SuppressedForSeconds))
	}

	return fmt.Sprintf("%s %s %6.1f/%-6.1f%s",
		poolNameStyle.Render(p.PoolID), bar, p.Current, p.Max, state)
}

func readinessLine(pred client.Prediction) string {
	label := abilityStyle.Render(pred.AbilityID)
	switch {
	case pred.Affordable:
		return fmt.Sprintf("%s %s", label, readyStyle.Render("READY"))
	case pred.Wait > 0:
		return fmt.Sprintf("%s %s", label, countdownStyle.Render(fmt.Sprintf("%.1fs (%s)", pred.WaitSeconds, pred.Basis)))
	default:
		return fmt.Sprintf("%s %s", label, unknownStyle.Render("waiting ("+pred.Basis+")"))
	}
}

// pane renders one titled box, or the empty hint when there are no rows.
func pane(title string, lines []string, empty string) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(title) + "\n\n")
	if len(lines) == 0 {
		sb.WriteString(subtleStyle.Render(empty))
	} else {
		sb.WriteString(strings.Join(lines, "\n") + "\n")
	}
	return paneStyle.Render(sb.String())
}

func (m model) View() string {
	if !m.ready {
		return fmt.Sprintf("\n%s Connecting to readycheck-d...", m.spinner.View())
	}

	poolLines := make([]string, 0, len(m.pools))
	for _, p := range m.pools {
		poolLines = append(poolLines, poolBar(p))
	}
	readyLines := make([]string, 0, len(m.preds))
	for _, pred := range m.preds {
		readyLines = append(readyLines, readinessLine(pred))
	}

	header := headerStyle.Render(fmt.Sprintf("%s Journal", m.spinner.View()))

	status := okStyle.Render(fmt.Sprintf("Online • %s • %d Pools • %d Events", m.health.Role, len(m.pools), len(m.events)))
	if m.err != nil {
		status = errorStyle.Render(fmt.Sprintf("Offline: %v", m.err))
	}
	footer := subtleStyle.Render("\n" + status + "\nPress q to quit")

	return mainStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		pane("Pools", poolLines, "No pools tracked yet."),
		pane("Readiness", readyLines, "No abilities in the catalog."),
		header,
		m.viewport.View(),
		footer,
	))
}

// fetchData polls the daemon once. Health goes first; if the daemon is
// down there is no point asking for the rest.
func fetchData(api *client.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		health, err := api.Ping(ctx)
		if err != nil {
			return dataMsg{err: err}
		}
		pools, err := api.Pools(ctx)
		if err != nil {
			return dataMsg{err: err}
		}
		preds, err := api.Readiness(ctx)
		if err != nil {
			return dataMsg{err: err}
		}
		events, err := api.Events(ctx, journalDepth)
		if err != nil {
			return dataMsg{err: err}
		}

		sort.Slice(pools, func(i, j int) bool { return pools[i].PoolID < pools[j].PoolID })
		sort.Slice(preds, func(i, j int) bool { return preds[i].AbilityID < preds[j].AbilityID })

		return dataMsg{pools: pools, preds: preds, events: events, health: health}
	}
}

func scheduleRefresh() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func main() {
	endpoint := os.Getenv("READYCHECK_API")
	if endpoint == "" {
		endpoint = "http://127.0.0.1:8090"
	}

	p := tea.NewProgram(newModel(client.NewClient(endpoint)), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "readycheck-tui: %v\n", err)
		os.Exit(1)
	}
}
