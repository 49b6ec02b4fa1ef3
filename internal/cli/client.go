package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"azeuqer/internal/game"
)

// APIError is a structured failure returned by the API, either a game
// outcome reported as status ERROR or a non-2xx response.
type APIError struct {
	HTTPStatus int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" && e.Message != e.Code {
		return fmt.Sprintf("api %d %s: %s", e.HTTPStatus, e.Code, e.Message)
	}
	return fmt.Sprintf("api %d %s", e.HTTPStatus, e.Code)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type LoginResponse struct {
	Status string    `json:"status"`
	User   game.User `json:"user"`
}

func (c *Client) Login(ctx context.Context, initData string, traits *game.TraitsInput) (LoginResponse, error) {
	body := map[string]any{"initData": initData}
	if traits != nil {
		body["traits"] = traits
	}
	var out LoginResponse
	err := c.jsonRequest(ctx, "/auth/login", body, &out)
	return out, err
}

func (c *Client) Feed(ctx context.Context, initData string, limit int) ([]game.Card, error) {
	var out struct {
		Feed []game.Card `json:"feed"`
	}
	err := c.jsonRequest(ctx, "/game/feed", map[string]any{"initData": initData, "limit": limit}, &out)
	return out.Feed, err
}

func (c *Client) Swipe(ctx context.Context, initData string, targetID int64, direction game.Direction) (game.SwipeResult, error) {
	var out game.SwipeResult
	err := c.jsonRequest(ctx, "/game/swipe", SwipeBody(initData, targetID, direction), &out)
	return out, err
}

// SwipeBody is the request body of a swipe, shared with the offline queue.
func SwipeBody(initData string, targetID int64, direction game.Direction) map[string]any {
	return map[string]any{
		"initData":  initData,
		"target_id": targetID,
		"direction": string(direction),
	}
}

func (c *Client) Leaderboard(ctx context.Context, initData string) ([]game.LeaderboardRow, error) {
	var out struct {
		Board []game.LeaderboardRow `json:"board"`
	}
	err := c.jsonRequest(ctx, "/game/leaderboard", map[string]any{"initData": initData}, &out)
	return out.Board, err
}

func (c *Client) HallOfFame(ctx context.Context, initData string) ([]game.HallRow, error) {
	var out struct {
		Hall []game.HallRow `json:"hall"`
	}
	err := c.jsonRequest(ctx, "/game/hall", map[string]any{"initData": initData}, &out)
	return out.Hall, err
}

func (c *Client) EquipSponsor(ctx context.Context, initData, logo string) error {
	return c.jsonRequest(ctx, "/game/sponsor/equip", map[string]any{
		"initData":     initData,
		"sponsor_logo": logo,
	}, nil)
}

func (c *Client) Donate(ctx context.Context, initData string, amount int64) (game.DonateResult, error) {
	var out game.DonateResult
	err := c.jsonRequest(ctx, "/game/foundation/donate", map[string]any{
		"initData": initData,
		"amount":   amount,
	}, &out)
	return out, err
}

func (c *Client) CombatInfo(ctx context.Context, initData string) (game.Boss, error) {
	var out struct {
		Boss game.Boss `json:"boss"`
	}
	err := c.jsonRequest(ctx, "/game/combat/info", map[string]any{"initData": initData}, &out)
	return out.Boss, err
}

func (c *Client) CombatTurn(ctx context.Context, initData string, action game.Action, bossHP int) (game.TurnResult, error) {
	var out game.TurnResult
	err := c.jsonRequest(ctx, "/game/combat/turn", map[string]any{
		"initData":        initData,
		"action":          string(action),
		"boss_hp_current": bossHP,
	}, &out)
	return out, err
}

// TribunalCase returns the next pending user, or nil when the queue is empty.
func (c *Client) TribunalCase(ctx context.Context, initData string) (*game.Card, error) {
	var out struct {
		Status string     `json:"status"`
		Case   *game.Card `json:"case"`
	}
	if err := c.jsonRequest(ctx, "/game/tribunal/case", map[string]any{"initData": initData}, &out); err != nil {
		return nil, err
	}
	if out.Status == "EMPTY" {
		return nil, nil
	}
	return out.Case, nil
}

func (c *Client) TribunalVote(ctx context.Context, initData string, targetID int64, vote game.Vote) (game.VoteOutcome, error) {
	var out game.VoteOutcome
	err := c.jsonRequest(ctx, "/game/tribunal/vote", map[string]any{
		"initData":  initData,
		"target_id": targetID,
		"vote":      string(vote),
	}, &out)
	return out, err
}

// BioLock uploads a liveness photo and returns its public URL.
func (c *Client) BioLock(ctx context.Context, initData, filename string, image []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("initData", initData); err != nil {
		return "", err
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(image); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/auth/biolock", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// Do posts a prepared JSON body, used to replay queued writes.
func (c *Client) Do(ctx context.Context, path string, body map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, path, body, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, path string, in any, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	var envelope struct {
		Status  string `json:"status"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{HTTPStatus: resp.StatusCode, Code: http.StatusText(resp.StatusCode), Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 300 || envelope.Status == "ERROR" {
		return &APIError{HTTPStatus: resp.StatusCode, Code: envelope.Error, Message: envelope.Message}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
