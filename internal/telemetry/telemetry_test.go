package telemetry

import "testing"

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(t.Context(), "  ", "azeuqer-test", "dev")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(t.Context()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupWithEndpoint(t *testing.T) {
	shutdown, err := Setup(t.Context(), "http://127.0.0.1:4318", "azeuqer-test", "dev")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(t.Context()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
