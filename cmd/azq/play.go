package main

import (
	"context"
	"fmt"
	"strings"

	cl "azeuqer/internal/cli"
	"azeuqer/internal/game"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(1, 3).
			Width(44)
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	lightStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	spiteStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	ambushBanner = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.Color("231")).
			Background(lipgloss.Color("160")).
			Padding(0, 2)
)

type playKeys struct {
	Light key.Binding
	Spite key.Binding
	Skip  key.Binding
	Quit  key.Binding
}

func (k playKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Spite, k.Light, k.Skip, k.Quit}
}

func (k playKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

func defaultPlayKeys() playKeys {
	return playKeys{
		Light: key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "light")),
		Spite: key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "spite")),
		Skip:  key.NewBinding(key.WithKeys("down", "j", " "), key.WithHelp("↓/j", "skip")),
		Quit:  key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// swiper is the slice of the API client the play screen drives.
type swiper interface {
	Feed(ctx context.Context, initData string, limit int) ([]game.Card, error)
	Swipe(ctx context.Context, initData string, targetID int64, direction game.Direction) (game.SwipeResult, error)
}

type feedMsg struct {
	cards []game.Card
	err   error
}

type swipeMsg struct {
	target    int64
	direction game.Direction
	res       game.SwipeResult
	err       error
}

type playModel struct {
	ctx      context.Context
	api      swiper
	initData string

	cards   []game.Card
	ap      int64
	judged  int
	status  string
	err     error
	loading bool
	ambush  bool

	spinner spinner.Model
	help    help.Model
	keys    playKeys
}

func newPlayModel(ctx context.Context, api swiper, initData string) playModel {
	return playModel{
		ctx:      ctx,
		api:      api,
		initData: initData,
		loading:  true,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		help:     help.New(),
		keys:     defaultPlayKeys(),
	}
}

func (m playModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.loadFeed())
}

func (m playModel) loadFeed() tea.Cmd {
	return func() tea.Msg {
		cards, err := m.api.Feed(m.ctx, m.initData, game.DefaultFeedLimit)
		return feedMsg{cards: cards, err: err}
	}
}

func (m playModel) swipe(target int64, direction game.Direction) tea.Cmd {
	return func() tea.Msg {
		res, err := m.api.Swipe(m.ctx, m.initData, target, direction)
		return swipeMsg{target: target, direction: direction, res: res, err: err}
	}
}

func (m playModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
		if m.loading || m.ambush || len(m.cards) == 0 {
			return m, nil
		}
		switch {
		case key.Matches(msg, m.keys.Light):
			m.loading = true
			return m, m.swipe(m.cards[0].UserID, game.DirectionLight)
		case key.Matches(msg, m.keys.Spite):
			m.loading = true
			return m, m.swipe(m.cards[0].UserID, game.DirectionSpite)
		case key.Matches(msg, m.keys.Skip):
			m.cards = m.cards[1:]
			m.status = "skipped"
			cmd := m.refillIfEmpty()
			return m, cmd
		}
		return m, nil

	case feedMsg:
		m.loading = false
		m.err = msg.err
		m.cards = msg.cards
		if msg.err == nil && len(msg.cards) == 0 {
			m.status = "nobody left to judge"
		}
		return m, nil

	case swipeMsg:
		m.loading = false
		if msg.err != nil && !cl.IsCode(msg.err, "ALREADY_SWIPED") {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.dropCard(msg.target)
		if msg.err != nil {
			m.status = "already judged, moving on"
			cmd := m.refillIfEmpty()
			return m, cmd
		}
		m.judged++
		m.ap = msg.res.AP
		m.status = fmt.Sprintf("%s sent, swipe #%d", msg.direction, msg.res.SwipeCount)
		if msg.res.Status == game.SwipeAmbush {
			m.ambush = true
			return m, nil
		}
		cmd := m.refillIfEmpty()
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *playModel) dropCard(target int64) {
	for i, c := range m.cards {
		if c.UserID == target {
			m.cards = append(m.cards[:i], m.cards[i+1:]...)
			return
		}
	}
}

func (m *playModel) refillIfEmpty() tea.Cmd {
	if len(m.cards) > 0 {
		return nil
	}
	m.loading = true
	return m.loadFeed()
}

func (m playModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("AZEUQER"))
	b.WriteString(mutedStyle.Render(fmt.Sprintf("  AP %d  judged %d", m.ap, m.judged)))
	b.WriteString("\n\n")

	switch {
	case m.ambush:
		b.WriteString(ambushBanner.Render("AMBUSH! A boss blocks the feed."))
		b.WriteString("\n\nRun `azq fight` to clear the combat lock.\n")
	case m.loading && len(m.cards) == 0:
		b.WriteString(m.spinner.View() + " loading feed...\n")
	case len(m.cards) == 0:
		b.WriteString(mutedStyle.Render("Nobody left to judge right now.") + "\n")
	default:
		b.WriteString(renderCardBox(m.cards[0]))
		b.WriteString("\n")
		if m.loading {
			b.WriteString(m.spinner.View() + " judging...\n")
		}
	}

	if m.err != nil {
		b.WriteString(spiteStyle.Render("error: "+m.err.Error()) + "\n")
	} else if m.status != "" {
		b.WriteString(mutedStyle.Render(m.status) + "\n")
	}
	b.WriteString("\n" + m.help.View(m.keys) + "\n")
	return b.String()
}

func renderCardBox(c game.Card) string {
	status := string(c.VerificationStatus)
	if c.IsPioneer {
		status += " · pioneer"
	}
	lines := []string{
		titleStyle.Render(truncate(c.Username, 30)) + mutedStyle.Render(fmt.Sprintf("  #%d", c.UserID)),
		mutedStyle.Render(status),
		"",
		fmt.Sprintf("aura    %s", bar(c.Traits.Aura)),
		fmt.Sprintf("chaos   %s", bar(c.Traits.Chaos)),
		fmt.Sprintf("empathy %s", bar(c.Traits.Empathy)),
		fmt.Sprintf("drive   %s", bar(c.Traits.Drive)),
	}
	if c.SponsorID != "" {
		lines = append(lines, "", mutedStyle.Render("sponsored by "+truncate(c.SponsorID, 28)))
	}
	return lipgloss.JoinHorizontal(lipgloss.Center,
		spiteStyle.Render("◀ SPITE  "),
		cardStyle.Render(strings.Join(lines, "\n")),
		lightStyle.Render("  LIGHT ▶"),
	)
}

func bar(v float64) string {
	const width = 20
	n := int(v*width + 0.5)
	if n < 0 {
		n = 0
	}
	if n > width {
		n = width
	}
	return lightStyle.Render(strings.Repeat("█", n)) + mutedStyle.Render(strings.Repeat("░", width-n))
}
