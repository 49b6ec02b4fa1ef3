// Package syncq keeps writes that could not reach the API and replays them later.
package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

type Command struct {
	ID       string         `json:"id"`
	Path     string         `json:"path"`
	Body     map[string]any `json:"body,omitempty"`
	QueuedAt time.Time      `json:"queued_at"`
}

type Queue struct {
	path string
}

func Open(dir string) *Queue {
	return &Queue{path: filepath.Join(dir, "queue.json")}
}

func (q *Queue) Load() ([]Command, error) {
	raw, err := os.ReadFile(q.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (q *Queue) Save(commands []Command) error {
	if err := os.MkdirAll(filepath.Dir(q.path), 0o700); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(q.path, raw, 0o600)
}

func (q *Queue) Push(cmd Command) error {
	commands, err := q.Load()
	if err != nil {
		return err
	}
	commands = append(commands, cmd)
	return q.Save(commands)
}

type Poster interface {
	Do(ctx context.Context, path string, body map[string]any) (map[string]any, error)
}

type ReplayResult struct {
	Replayed  int
	Rejected  int
	Remaining int
	Errors    []error
}

// Replay sends every queued command in order. Commands the server answered,
// accepted or rejected as reported by answered, leave the queue; the rest are
// kept for the next run.
func (q *Queue) Replay(ctx context.Context, p Poster, answered func(error) bool) (ReplayResult, error) {
	queue, err := q.Load()
	if err != nil {
		return ReplayResult{}, err
	}
	var res ReplayResult
	remaining := make([]Command, 0, len(queue))
	for _, cmd := range queue {
		_, err := p.Do(ctx, cmd.Path, cmd.Body)
		switch {
		case err == nil:
			res.Replayed++
		case answered(err):
			res.Rejected++
			res.Errors = append(res.Errors, err)
		default:
			remaining = append(remaining, cmd)
			res.Errors = append(res.Errors, err)
		}
	}
	res.Remaining = len(remaining)
	if err := q.Save(remaining); err != nil {
		return res, err
	}
	return res, nil
}
