package liveness

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
)

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

// webpOf builds a lossless WebP whose header declares w x h. Config decoding
// stops at the header, so the pixel stream is left empty.
func webpOf(w, h int) []byte {
	bits := uint32(w-1) | uint32(h-1)<<14
	payload := []byte{0x2f, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(payload[1:5], bits)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(4+8+len(payload)))
	buf.WriteString("WEBPVP8L")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(5))
	buf.Write(payload)
	return buf.Bytes()
}

func TestLocalClassifierWebP(t *testing.T) {
	c := LocalClassifier{MinSide: 32}
	if got := http.DetectContentType(webpOf(64, 64)); got != "image/webp" {
		t.Fatalf("sniffed %q", got)
	}
	tests := []struct {
		name string
		img  []byte
		want bool
	}{
		{name: "big enough", img: webpOf(64, 48), want: true},
		{name: "too small", img: webpOf(16, 64), want: false},
		{name: "riff junk", img: []byte("RIFF\x04\x00\x00\x00WEBP"), want: false},
	}
	for _, tc := range tests {
		got, err := c.FacePresent(t.Context(), tc.img, "image/webp")
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestLocalClassifier(t *testing.T) {
	c := LocalClassifier{MinSide: 32}
	tests := []struct {
		name string
		img  []byte
		want bool
	}{
		{name: "big enough", img: pngOf(t, 64, 64), want: true},
		{name: "too small", img: pngOf(t, 8, 64), want: false},
		{name: "garbage", img: []byte("not an image"), want: false},
	}
	for _, tc := range tests {
		got, err := c.FacePresent(t.Context(), tc.img, "image/png")
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestHTTPClassifier(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    bool
		wantErr bool
	}{
		{name: "face", status: http.StatusOK, body: `{"face_present":true}`, want: true},
		{name: "no face", status: http.StatusOK, body: `{"face_present":false}`, want: false},
		{name: "short field", status: http.StatusOK, body: `{"face":true}`, want: true},
		{name: "missing field", status: http.StatusOK, body: `{}`, wantErr: true},
		{name: "upstream error", status: http.StatusBadGateway, body: `down`, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Content-Type") != "image/png" {
					t.Errorf("content type = %q", r.Header.Get("Content-Type"))
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			got, err := NewHTTPClassifier(srv.URL).FacePresent(t.Context(), []byte("img"), "image/png")
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("got %v, %v; want %v", got, err, tc.want)
			}
		})
	}
}
