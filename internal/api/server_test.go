package api

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"azeuqer/internal/auth"
	"azeuqer/internal/config"
	"azeuqer/internal/game"
	"azeuqer/internal/liveness"
	"azeuqer/internal/objects"
	"azeuqer/internal/ratelimit"
	"azeuqer/internal/store/sqlite"
)

const mediaBase = "http://media.test"

type testServer struct {
	*httptest.Server
	svc *game.Service
}

func newTestServer(t *testing.T, limiter ratelimit.Limiter) *testServer {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	photos, err := objects.NewLocalStorage(filepath.Join(t.TempDir(), "media"), mediaBase)
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := game.NewService(st, game.Config{
		Registry: game.DefaultRegistryConfig(),
		Liveness: liveness.LocalClassifier{MinSide: 4},
		Photos:   photos,
	}, logger)

	cfg := config.APIConfig{Version: "test", RequestTimeout: 5 * time.Second}
	srv := New(cfg, logger, auth.NewVerifier("", 0, true), svc, limiter, photos.Dir())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, svc: svc}
}

func (ts *testServer) post(t *testing.T, path string, body map[string]any) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	res, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	return decodeResponse(t, res)
}

func decodeResponse(t *testing.T, res *http.Response) (int, map[string]any) {
	t.Helper()
	defer res.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return res.StatusCode, out
}

func (ts *testServer) login(t *testing.T, initData string) map[string]any {
	t.Helper()
	code, out := ts.post(t, "/auth/login", map[string]any{"initData": initData})
	if code != http.StatusOK {
		t.Fatalf("login %s: status %d body %v", initData, code, out)
	}
	return out
}

func TestRootReportsVersion(t *testing.T) {
	ts := newTestServer(t, nil)
	res, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	code, out := decodeResponse(t, res)
	if code != http.StatusOK || out["status"] != "ok" || out["version"] != "test" {
		t.Fatalf("root = %d %v", code, out)
	}
}

func TestLoginCreatesThenReturnsUser(t *testing.T) {
	ts := newTestServer(t, nil)

	first := ts.login(t, "DEBUG_MODE:7:alice")
	if first["status"] != "created" {
		t.Fatalf("first login status = %v, want created", first["status"])
	}
	user := first["user"].(map[string]any)
	if user["username"] != "alice" || user["verification_status"] != "VERIFIED" {
		t.Fatalf("user = %v", user)
	}

	second := ts.login(t, "DEBUG_MODE:7:alice")
	if second["status"] != "ok" {
		t.Fatalf("second login status = %v, want ok", second["status"])
	}
}

func TestAuthFailures(t *testing.T) {
	ts := newTestServer(t, nil)
	tests := []struct {
		name string
		body map[string]any
	}{
		{name: "missing", body: map[string]any{}},
		{name: "garbage", body: map[string]any{"initData": "user=1&hash=zz"}},
		{name: "bad dev id", body: map[string]any{"initData": "DEBUG_MODE:abc"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, out := ts.post(t, "/game/feed", tc.body)
			if code != http.StatusUnauthorized || out["status"] != "ERROR" {
				t.Fatalf("got %d %v, want 401 ERROR", code, out)
			}
		})
	}
}

func TestInitDataHeader(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.login(t, "DEBUG_MODE:1")
	ts.login(t, "DEBUG_MODE:2")

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/game/feed", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("X-Telegram-Init-Data", "DEBUG_MODE:1")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	code, out := decodeResponse(t, res)
	if code != http.StatusOK || out["status"] != "ok" {
		t.Fatalf("feed = %d %v", code, out)
	}
	feed := out["feed"].([]any)
	if len(feed) != 1 || feed[0].(map[string]any)["user_id"].(float64) != 2 {
		t.Fatalf("feed = %v, want only user 2", feed)
	}
}

func TestSwipeEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.login(t, "DEBUG_MODE:1")
	ts.login(t, "DEBUG_MODE:2")

	code, out := ts.post(t, "/game/swipe", map[string]any{"initData": "DEBUG_MODE:1", "target_id": 2, "direction": "LIGHT"})
	if code != http.StatusOK || out["status"] != "SWIPE_OK" || out["ap"].(float64) != 1 || out["swipe_count"].(float64) != 1 {
		t.Fatalf("swipe = %d %v", code, out)
	}

	code, out = ts.post(t, "/game/swipe", map[string]any{"initData": "DEBUG_MODE:1", "target_id": 2, "direction": "SPITE"})
	if code != http.StatusOK || out["status"] != "ERROR" || out["error"] != "ALREADY_SWIPED" {
		t.Fatalf("repeat swipe = %d %v", code, out)
	}

	code, out = ts.post(t, "/game/swipe", map[string]any{"initData": "DEBUG_MODE:1", "target_id": 2, "direction": "UP"})
	if code != http.StatusBadRequest || out["error"] != "INVALID_INPUT" {
		t.Fatalf("bad direction = %d %v", code, out)
	}

	code, out = ts.post(t, "/game/swipe", map[string]any{"initData": "DEBUG_MODE:1", "target_id": 2, "direction": "LIGHT", "extra": true})
	if code != http.StatusBadRequest {
		t.Fatalf("unknown field = %d %v, want 400", code, out)
	}
}

func TestDonateAndLeaderboard(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.login(t, "DEBUG_MODE:1:alice")
	ts.login(t, "DEBUG_MODE:2:bob")
	ts.post(t, "/game/swipe", map[string]any{"initData": "DEBUG_MODE:1", "target_id": 2, "direction": "LIGHT"})

	code, out := ts.post(t, "/game/foundation/donate", map[string]any{"initData": "DEBUG_MODE:1", "amount": 5})
	if code != http.StatusOK || out["status"] != "ERROR" || out["error"] != "INSUFFICIENT_AP" {
		t.Fatalf("overdraft = %d %v", code, out)
	}

	code, out = ts.post(t, "/game/foundation/donate", map[string]any{"initData": "DEBUG_MODE:1", "amount": 1})
	if code != http.StatusOK || out["status"] != "DONATED" || out["ap"].(float64) != 0 || out["pool"].(float64) != 1 {
		t.Fatalf("donate = %d %v", code, out)
	}

	code, out = ts.post(t, "/game/sponsor/equip", map[string]any{"initData": "DEBUG_MODE:2", "sponsor_logo": "acme"})
	if code != http.StatusOK || out["status"] != "EQUIPPED" {
		t.Fatalf("equip = %d %v", code, out)
	}

	code, out = ts.post(t, "/game/leaderboard", map[string]any{"initData": "DEBUG_MODE:2"})
	if code != http.StatusOK || out["status"] != "ok" {
		t.Fatalf("board = %d %v", code, out)
	}
	board := out["board"].([]any)
	if len(board) != 2 {
		t.Fatalf("board = %v", board)
	}
	for _, row := range board {
		r := row.(map[string]any)
		if r["username"] == "bob" && r["sponsor_id"] != "acme" {
			t.Fatalf("bob row = %v", r)
		}
	}
}

func TestCombatAndTribunalEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.login(t, "DEBUG_MODE:1:alice")

	code, out := ts.post(t, "/game/combat/info", map[string]any{"initData": "DEBUG_MODE:1"})
	if code != http.StatusOK {
		t.Fatalf("combat info = %d %v", code, out)
	}
	boss := out["boss"].(map[string]any)
	if boss["hp"].(float64) != 154 || boss["dmg"].(float64) != 44 {
		t.Fatalf("boss = %v", boss)
	}

	code, out = ts.post(t, "/game/combat/turn", map[string]any{"initData": "DEBUG_MODE:1", "action": "ATTACK", "boss_hp_current": 1})
	if code != http.StatusOK || out["status"] != "VICTORY" {
		t.Fatalf("turn = %d %v", code, out)
	}
	if _, ok := out["new_boss_hp"]; ok {
		t.Fatalf("victory carries new_boss_hp: %v", out)
	}
	if _, ok := out["kill_credited"]; ok {
		t.Fatalf("victory without an ambush credited a kill: %v", out)
	}

	code, out = ts.post(t, "/game/hall", map[string]any{"initData": "DEBUG_MODE:1"})
	if code != http.StatusOK || out["status"] != "ok" {
		t.Fatalf("hall = %d %v", code, out)
	}
	hall := out["hall"].([]any)
	if len(hall) != 1 {
		t.Fatalf("hall = %v", hall)
	}
	if row := hall[0].(map[string]any); row["username"] != "alice" || row["kills_lifetime"].(float64) != 0 || row["faction"] != "UNSORTED" {
		t.Fatalf("hall row = %v", row)
	}

	code, out = ts.post(t, "/game/combat/turn", map[string]any{"initData": "DEBUG_MODE:1", "action": "FLEE", "boss_hp_current": 10})
	if code != http.StatusBadRequest {
		t.Fatalf("bad action = %d %v", code, out)
	}

	// every early user is a pioneer, so nobody waits for review
	code, out = ts.post(t, "/game/tribunal/case", map[string]any{"initData": "DEBUG_MODE:1"})
	if code != http.StatusOK || out["status"] != "EMPTY" {
		t.Fatalf("case = %d %v", code, out)
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, ratelimit.NewMemory(time.Minute, 2))
	for i := 0; i < 2; i++ {
		if code, out := ts.post(t, "/auth/login", map[string]any{"initData": "DEBUG_MODE:3"}); code != http.StatusOK {
			t.Fatalf("request %d = %d %v", i, code, out)
		}
	}
	code, out := ts.post(t, "/auth/login", map[string]any{"initData": "DEBUG_MODE:3"})
	if code != http.StatusTooManyRequests || out["error"] != "RATE_LIMITED" {
		t.Fatalf("third request = %d %v, want 429", code, out)
	}
	if code, _ := ts.post(t, "/auth/login", map[string]any{"initData": "DEBUG_MODE:4"}); code != http.StatusOK {
		t.Fatalf("other user = %d, want 200", code)
	}
}

func encodePNG(t *testing.T, side int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, side, side))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func (ts *testServer) uploadBioLock(t *testing.T, initData string, img []byte) (int, map[string]any) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("initData", initData); err != nil {
		t.Fatalf("field: %v", err)
	}
	fw, err := mw.CreateFormFile("file", "selfie.png")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := fw.Write(img); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	res, err := http.Post(ts.URL+"/auth/biolock", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("post biolock: %v", err)
	}
	return decodeResponse(t, res)
}

func TestBioLockUpload(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.login(t, "DEBUG_MODE:1")

	code, out := ts.uploadBioLock(t, "DEBUG_MODE:1", encodePNG(t, 2))
	if code != http.StatusOK || out["status"] != "ERROR" || out["error"] != "NO_FACE_DETECTED" {
		t.Fatalf("tiny photo = %d %v", code, out)
	}

	code, out = ts.uploadBioLock(t, "DEBUG_MODE:1", encodePNG(t, 8))
	if code != http.StatusOK || out["status"] != "success" {
		t.Fatalf("upload = %d %v", code, out)
	}
	url, _ := out["url"].(string)
	if !strings.HasPrefix(url, mediaBase+"/media/1/") || !strings.HasSuffix(url, ".png") {
		t.Fatalf("url = %q", url)
	}

	res, err := http.Get(ts.URL + strings.TrimPrefix(url, mediaBase))
	if err != nil {
		t.Fatalf("get media: %v", err)
	}
	defer res.Body.Close()
	got, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK || !bytes.Equal(got, encodePNG(t, 8)) {
		t.Fatalf("media status %d, %d bytes", res.StatusCode, len(got))
	}

	code, _ = ts.uploadBioLock(t, "", encodePNG(t, 8))
	if code != http.StatusUnauthorized {
		t.Fatalf("anonymous upload = %d, want 401", code)
	}
}
