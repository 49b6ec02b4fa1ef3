package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrNoSession = errors.New("no saved session")

type Session struct {
	InitData string `json:"init_data"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// StateDir resolves and creates the CLI state directory; an empty override
// means ~/.azq.
func StateDir(override string) (string, error) {
	dir := strings.TrimSpace(override)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".azq")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func sessionPath(dir string) string {
	return filepath.Join(dir, "session.json")
}

func SaveSession(dir string, s Session) error {
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(sessionPath(dir), body, 0o600)
}

func LoadSession(dir string) (Session, error) {
	body, err := os.ReadFile(sessionPath(dir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Session{}, ErrNoSession
		}
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	if strings.TrimSpace(s.InitData) == "" {
		return Session{}, ErrNoSession
	}
	return s, nil
}

func ClearSession(dir string) error {
	err := os.Remove(sessionPath(dir))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
