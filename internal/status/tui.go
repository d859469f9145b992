package status

import (
	"context"
	"strings"
	"sync"
	"time"

	"chainrig/internal/chain"
	"chainrig/internal/controller"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// Messages understood by Model.
type (
	// PairMsg replaces the displayed current/next pair.
	PairMsg controller.Snapshot
	// ChainsMsg replaces the displayed chain list.
	ChainsMsg []chain.Status
	// EventMsg appends a line to the event log.
	EventMsg string

	refreshMsg time.Time
)

const (
	maxEvents = 8
	// lines taken by title, pair, box border, events and help
	chromeLines = 7 + maxEvents
)

// KeyAction binds a key to a performer action.
type KeyAction struct {
	Key   string
	Label string
	Run   func()
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithChains sets the function polled for the chain list.
func WithChains(fn func() []chain.Status) ModelOption {
	return func(m *Model) { m.chains = fn }
}

// WithRefresh sets how often the chain list is polled.
func WithRefresh(d time.Duration) ModelOption {
	return func(m *Model) {
		if d > 0 {
			m.refresh = d
		}
	}
}

// WithKeyAction binds a key.
func WithKeyAction(a KeyAction) ModelOption {
	return func(m *Model) { m.actions = append(m.actions, a) }
}

// WithStyles overrides the default styles.
func WithStyles(st Styles) ModelOption {
	return func(m *Model) { m.styles = st }
}

// Model is the bubbletea model of the performer display.
type Model struct {
	title   string
	styles  Styles
	chains  func() []chain.Status
	refresh time.Duration
	actions []KeyAction

	pair   controller.Snapshot
	list   []chain.Status
	events []string
	width  int
	vp     viewport.Model
}

// NewModel returns a model titled title.
func NewModel(title string, opts ...ModelOption) Model {
	m := Model{
		title:   title,
		styles:  DefaultStyles(),
		refresh: 500 * time.Millisecond,
		vp:      viewport.New(60, 10),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m Model) tick() tea.Cmd {
	if m.chains == nil {
		return nil
	}
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	if m.chains == nil {
		return nil
	}
	fetch := m.chains
	return tea.Batch(func() tea.Msg { return ChainsMsg(fetch()) }, m.tick())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case PairMsg:
		m.pair = controller.Snapshot(msg)
		m.syncList()
		return m, nil

	case ChainsMsg:
		m.list = []chain.Status(msg)
		m.syncList()
		return m, nil

	case EventMsg:
		m.events = append(m.events, string(msg))
		if len(m.events) > maxEvents {
			m.events = m.events[len(m.events)-maxEvents:]
		}
		return m, nil

	case refreshMsg:
		fetch := m.chains
		return m, tea.Batch(func() tea.Msg { return ChainsMsg(fetch()) }, m.tick())

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.vp.Width = max(msg.Width-4, 20)
		m.vp.Height = max(msg.Height-chromeLines, 3)
		m.syncList()
		return m, nil

	case tea.KeyMsg:
		key := msg.String()
		if key == "q" || key == "ctrl+c" {
			return m, tea.Quit
		}
		for _, a := range m.actions {
			if a.Key == key && a.Run != nil {
				a.Run()
				m.events = append(m.events, a.Label)
				if len(m.events) > maxEvents {
					m.events = m.events[len(m.events)-maxEvents:]
				}
				return m, nil
			}
		}
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd
	}
	return m, nil
}

// syncList renders the chain list into the scrollable viewport.
func (m *Model) syncList() {
	rows := make([]string, len(m.list))
	for i, c := range m.list {
		rows[i] = RenderChain(m.styles, c, m.pair)
	}
	m.vp.SetContent(strings.Join(rows, "\n"))
}

// View implements tea.Model.
func (m Model) View() string {
	st := m.styles
	var b strings.Builder
	b.WriteString(st.Title.Render(m.title))
	b.WriteString("\n\n")
	b.WriteString(RenderPair(st, m.pair))
	b.WriteString("\n")

	if len(m.list) > 0 {
		b.WriteString(st.Box.Render(m.vp.View()))
		b.WriteString("\n")
	}
	for _, e := range m.events {
		b.WriteString(st.Label.Render(e))
		b.WriteString("\n")
	}

	help := []string{"q quit"}
	for _, a := range m.actions {
		help = append(help, a.Key+" "+a.Label)
	}
	b.WriteString(st.Help.Render(strings.Join(help, " · ")))
	return b.String()
}

// Pair returns the displayed pair.
func (m Model) Pair() controller.Snapshot { return m.pair }

// Events returns the displayed event log.
func (m Model) Events() []string { return append([]string(nil), m.events...) }

// ProgramSink forwards pair changes to a running bubbletea program. Sink
// calls never block; the latest pair is delivered by Run.
type ProgramSink struct {
	send func(tea.Msg)

	mu   sync.Mutex
	snap controller.Snapshot
	wake chan struct{}
}

// NewProgramSink returns a sink sending to p.
func NewProgramSink(p *tea.Program) *ProgramSink {
	return newProgramSink(p.Send)
}

func newProgramSink(send func(tea.Msg)) *ProgramSink {
	return &ProgramSink{send: send, wake: make(chan struct{}, 1)}
}

// CurrentChanged implements controller.Sink.
func (s *ProgramSink) CurrentChanged(c *chain.Chain) {
	s.set(func(snap *controller.Snapshot) { snap.Current = nameOf(c) })
}

// NextChanged implements controller.Sink.
func (s *ProgramSink) NextChanged(c *chain.Chain) {
	s.set(func(snap *controller.Snapshot) { snap.Next = nameOf(c) })
}

func (s *ProgramSink) set(fn func(*controller.Snapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run delivers pair updates until ctx is done.
func (s *ProgramSink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
			s.mu.Lock()
			snap := s.snap
			s.mu.Unlock()
			s.send(PairMsg(snap))
		}
	}
}
