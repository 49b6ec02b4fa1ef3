package main

import "testing"

func TestComma(t *testing.T) {
	tests := map[int64]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		123456:   "123,456",
		1234567:  "1,234,567",
		-9876543: "-9,876,543",
	}
	for in, want := range tests {
		if got := comma(in); got != want {
			t.Fatalf("comma(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestLaunchDataFallbacks(t *testing.T) {
	a := &app{}
	got, err := a.launchData("", 42, "neo", "7")
	if err != nil {
		t.Fatalf("launch data: %v", err)
	}
	if got != "DEBUG_MODE:42:neo:7" {
		t.Fatalf("dev bypass = %q", got)
	}
	if got, _ := a.launchData("", 5, "", ""); got != "DEBUG_MODE:5" {
		t.Fatalf("bare dev bypass = %q", got)
	}
	if got, _ := a.launchData(" raw ", 5, "", ""); got != "raw" {
		t.Fatalf("raw init data = %q", got)
	}

	a.botToken = "123:abc"
	signed, err := a.launchData("", 42, "neo", "")
	if err != nil {
		t.Fatalf("signed: %v", err)
	}
	if signed == "" || signed[:10] == "DEBUG_MODE" {
		t.Fatalf("expected signed init data, got %q", signed)
	}
}
