package otel_test

import (
	"context"
	"testing"

	"github.com/louisbranch/actorstore/internal/platform/otel"
)

func TestSetupNoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv("ACTORSTORE_OTEL_ENDPOINT", "")
	t.Setenv("ACTORSTORE_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupNoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv("ACTORSTORE_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("ACTORSTORE_OTEL_ENABLED", "false")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupCreatesProvidersWhenEndpointSet(t *testing.T) {
	// Non-routable address so no actual export happens.
	t.Setenv("ACTORSTORE_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("ACTORSTORE_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Shutdown with a dead context returns promptly; errors from the
	// unreachable endpoint are acceptable here.
	_ = shutdown(ctx)
}
