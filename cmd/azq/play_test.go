package main

import (
	"context"
	"strings"
	"testing"

	cl "azeuqer/internal/cli"
	"azeuqer/internal/game"

	tea "github.com/charmbracelet/bubbletea"
)

type stubSwiper struct {
	cards []game.Card
}

func (s stubSwiper) Feed(context.Context, string, int) ([]game.Card, error) {
	return s.cards, nil
}

func (s stubSwiper) Swipe(context.Context, string, int64, game.Direction) (game.SwipeResult, error) {
	return game.SwipeResult{Status: game.SwipeOK}, nil
}

func update(t *testing.T, m playModel, msg tea.Msg) (playModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	pm, ok := next.(playModel)
	if !ok {
		t.Fatalf("update returned %T", next)
	}
	return pm, cmd
}

func cards(ids ...int64) []game.Card {
	out := make([]game.Card, 0, len(ids))
	for _, id := range ids {
		out = append(out, game.Card{UserID: id, Username: "player", VerificationStatus: game.StatusVerified})
	}
	return out
}

func TestPlaySwipeFlow(t *testing.T) {
	m := newPlayModel(context.Background(), stubSwiper{}, "DEBUG_MODE:1")
	m, _ = update(t, m, feedMsg{cards: cards(2, 3)})
	if m.loading || len(m.cards) != 2 {
		t.Fatalf("after feed: loading=%v cards=%d", m.loading, len(m.cards))
	}

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRight})
	if !m.loading || cmd == nil {
		t.Fatalf("right arrow should start a swipe")
	}
	msg := cmd()
	sw, ok := msg.(swipeMsg)
	if !ok || sw.target != 2 || sw.direction != game.DirectionLight {
		t.Fatalf("swipe cmd produced %#v", msg)
	}

	m, _ = update(t, m, swipeMsg{target: 2, direction: game.DirectionLight, res: game.SwipeResult{Status: game.SwipeOK, SwipeCount: 1, AP: 1}})
	if m.loading || m.ap != 1 || m.judged != 1 || len(m.cards) != 1 || m.cards[0].UserID != 3 {
		t.Fatalf("after swipe: %+v", m)
	}

	m, _ = update(t, m, swipeMsg{target: 3, direction: game.DirectionSpite, res: game.SwipeResult{Status: game.SwipeAmbush, SwipeCount: 10, AP: 2}})
	if !m.ambush {
		t.Fatalf("ambush not recorded")
	}
	if _, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyLeft}); cmd != nil {
		t.Fatalf("swipes must be ignored while ambushed")
	}
	if !strings.Contains(m.View(), "AMBUSH") {
		t.Fatalf("view does not show the ambush banner")
	}
}

func TestPlayAlreadySwipedMovesOn(t *testing.T) {
	m := newPlayModel(context.Background(), stubSwiper{}, "DEBUG_MODE:1")
	m, _ = update(t, m, feedMsg{cards: cards(5)})
	m.loading = true

	m, cmd := update(t, m, swipeMsg{target: 5, err: &cl.APIError{HTTPStatus: 200, Code: "ALREADY_SWIPED"}})
	if m.err != nil || len(m.cards) != 0 {
		t.Fatalf("duplicate swipe: err=%v cards=%d", m.err, len(m.cards))
	}
	if cmd == nil || !m.loading {
		t.Fatalf("empty hand should reload the feed")
	}
	if fm, ok := cmd().(feedMsg); !ok || fm.err != nil {
		t.Fatalf("reload produced %#v", fm)
	}
}

func TestPlayQuit(t *testing.T) {
	m := newPlayModel(context.Background(), stubSwiper{}, "DEBUG_MODE:1")
	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatalf("q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("q did not produce QuitMsg")
	}
}

func TestReferralLink(t *testing.T) {
	if got := referralLink("azeuqer_bot", 42); got != "https://t.me/azeuqer_bot?startapp=42" {
		t.Fatalf("link = %q", got)
	}
}
