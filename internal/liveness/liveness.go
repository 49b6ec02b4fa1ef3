// Package liveness answers whether an uploaded photo shows a face.
package liveness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"azeuqer/internal/game"

	_ "golang.org/x/image/webp"
)

var (
	_ game.LivenessChecker = (*HTTPClassifier)(nil)
	_ game.LivenessChecker = LocalClassifier{}
)

// HTTPClassifier posts the raw image to an external face detector that
// answers {"face_present": bool}.
type HTTPClassifier struct {
	url        string
	httpClient *http.Client
}

func NewHTTPClassifier(url string) *HTTPClassifier {
	return &HTTPClassifier{
		url: strings.TrimSpace(url),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type classifierResponse struct {
	FacePresent *bool `json:"face_present"`
	Face        *bool `json:"face"`
}

func (c *HTTPClassifier) FacePresent(ctx context.Context, img []byte, contentType string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(img))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("classifier request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return false, fmt.Errorf("classifier status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out classifierResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return false, fmt.Errorf("decode classifier response: %w", err)
	}
	switch {
	case out.FacePresent != nil:
		return *out.FacePresent, nil
	case out.Face != nil:
		return *out.Face, nil
	default:
		return false, fmt.Errorf("classifier response has no face_present field")
	}
}

// LocalClassifier is the development stand-in: any decodable JPEG, PNG or
// WebP photo at least MinSide pixels on each side counts as a face. It never
// looks for an actual face.
type LocalClassifier struct {
	MinSide int
}

func (l LocalClassifier) FacePresent(ctx context.Context, img []byte, contentType string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return false, nil
	}
	min := l.MinSide
	if min <= 0 {
		min = 1
	}
	return cfg.Width >= min && cfg.Height >= min, nil
}
