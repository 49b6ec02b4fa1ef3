package syncq

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errAnswered = errors.New("ALREADY_SWIPED")

type scriptedPoster struct {
	results map[string]error
	paths   []string
}

func (p *scriptedPoster) Do(_ context.Context, path string, _ map[string]any) (map[string]any, error) {
	p.paths = append(p.paths, path)
	return map[string]any{}, p.results[path]
}

func TestLoadMissingQueueIsEmpty(t *testing.T) {
	q := Open(t.TempDir())
	got, err := q.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty queue, got %d", len(got))
	}
}

func TestReplayKeepsOnlyUnansweredCommands(t *testing.T) {
	q := Open(t.TempDir())
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	for _, path := range []string{"/ok", "/dup", "/offline"} {
		if err := q.Push(Command{ID: path, Path: path, QueuedAt: now}); err != nil {
			t.Fatalf("push %s: %v", path, err)
		}
	}

	p := &scriptedPoster{results: map[string]error{
		"/dup":     errAnswered,
		"/offline": errors.New("connection refused"),
	}}
	res, err := q.Replay(t.Context(), p, func(err error) bool { return errors.Is(err, errAnswered) })
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Replayed != 1 || res.Rejected != 1 || res.Remaining != 1 || len(res.Errors) != 2 {
		t.Fatalf("result = %+v", res)
	}
	if len(p.paths) != 3 || p.paths[0] != "/ok" || p.paths[2] != "/offline" {
		t.Fatalf("replay order = %v", p.paths)
	}

	left, err := q.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(left) != 1 || left[0].Path != "/offline" || !left[0].QueuedAt.Equal(now) {
		t.Fatalf("remaining = %+v", left)
	}
}
