package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"azeuqer/internal/game"
)

// DevBypassPrefix is the literal initData accepted when the bypass is enabled:
// DEBUG_MODE or DEBUG_MODE:<id>[:<username>[:<referral_code>]].
const DevBypassPrefix = "DEBUG_MODE"

const devDefaultUserID = 1

var ErrAuthInvalid = errors.New("invalid telegram init data")

type Verifier struct {
	secret    []byte
	maxAge    time.Duration
	devBypass bool
	now       func() time.Time
}

type telegramUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// NewVerifier checks Telegram WebApp launch data signed with botToken.
// A zero maxAge disables the auth_date freshness check.
func NewVerifier(botToken string, maxAge time.Duration, devBypass bool) *Verifier {
	return &Verifier{
		secret:    webAppSecret(botToken),
		maxAge:    maxAge,
		devBypass: devBypass,
		now:       time.Now,
	}
}

func webAppSecret(botToken string) []byte {
	if strings.TrimSpace(botToken) == "" {
		return nil
	}
	mac := hmac.New(sha256.New, []byte("WebAppData"))
	mac.Write([]byte(botToken))
	return mac.Sum(nil)
}

func (v *Verifier) Verify(initData string) (game.Identity, error) {
	initData = strings.TrimSpace(initData)
	if initData == "" {
		return game.Identity{}, fmt.Errorf("%w: missing initData", ErrAuthInvalid)
	}
	if v.devBypass && strings.HasPrefix(initData, DevBypassPrefix) {
		return parseDevBypass(initData)
	}
	if len(v.secret) == 0 {
		return game.Identity{}, fmt.Errorf("%w: bot token not configured", ErrAuthInvalid)
	}

	values, err := url.ParseQuery(initData)
	if err != nil {
		return game.Identity{}, fmt.Errorf("%w: %v", ErrAuthInvalid, err)
	}
	got, err := hex.DecodeString(values.Get("hash"))
	if err != nil || len(got) == 0 {
		return game.Identity{}, fmt.Errorf("%w: missing or malformed hash", ErrAuthInvalid)
	}
	if !hmac.Equal(got, v.sign(values)) {
		return game.Identity{}, fmt.Errorf("%w: signature mismatch", ErrAuthInvalid)
	}

	if v.maxAge > 0 {
		ts, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
		if err != nil {
			return game.Identity{}, fmt.Errorf("%w: bad auth_date", ErrAuthInvalid)
		}
		if v.now().Sub(time.Unix(ts, 0)) > v.maxAge {
			return game.Identity{}, fmt.Errorf("%w: initData expired", ErrAuthInvalid)
		}
	}

	var u telegramUser
	if err := json.Unmarshal([]byte(values.Get("user")), &u); err != nil || u.ID == 0 {
		return game.Identity{}, fmt.Errorf("%w: user payload missing", ErrAuthInvalid)
	}
	name := u.Username
	if name == "" {
		name = u.FirstName
	}
	return game.Identity{
		UserID:       u.ID,
		Username:     name,
		ReferralCode: values.Get("start_param"),
	}, nil
}

func (v *Verifier) sign(values url.Values) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(dataCheckString(values)))
	return mac.Sum(nil)
}

// dataCheckString joins every field except hash as sorted key=value lines.
func dataCheckString(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}
	return strings.Join(lines, "\n")
}

// SignInitData produces initData the way Telegram does, for local tooling.
func SignInitData(botToken string, userID int64, username, startParam string, authDate time.Time) (string, error) {
	user, err := json.Marshal(telegramUser{ID: userID, Username: username})
	if err != nil {
		return "", err
	}
	values := url.Values{}
	values.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
	values.Set("user", string(user))
	if startParam != "" {
		values.Set("start_param", startParam)
	}
	v := &Verifier{secret: webAppSecret(botToken)}
	values.Set("hash", hex.EncodeToString(v.sign(values)))
	return values.Encode(), nil
}

func parseDevBypass(initData string) (game.Identity, error) {
	parts := strings.SplitN(initData, ":", 4)
	if parts[0] != DevBypassPrefix {
		return game.Identity{}, fmt.Errorf("%w: malformed dev bypass", ErrAuthInvalid)
	}
	id := game.Identity{UserID: devDefaultUserID, Username: "debug"}
	if len(parts) > 1 {
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || n <= 0 {
			return game.Identity{}, fmt.Errorf("%w: dev user id must be a positive integer", ErrAuthInvalid)
		}
		id.UserID = n
		id.Username = fmt.Sprintf("debug_%d", n)
	}
	if len(parts) > 2 && parts[2] != "" {
		id.Username = parts[2]
	}
	if len(parts) > 3 {
		id.ReferralCode = parts[3]
	}
	return id, nil
}
