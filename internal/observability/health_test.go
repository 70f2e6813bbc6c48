package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler(func() int { return 2 })(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if status.Service != "caption-gateway" {
		t.Errorf("Expected service 'caption-gateway', got '%s'", status.Service)
	}
	if status.Connections == nil || *status.Connections != 2 {
		t.Errorf("Expected 2 connections, got %v", status.Connections)
	}
}

func TestReadinessHandler_AllHealthy(t *testing.T) {
	checks := map[string]HealthCheckFunc{
		"translation": func(ctx context.Context) (bool, error) { return true, nil },
		"skipped":     nil,
	}

	rec := httptest.NewRecorder()
	ReadinessHandler(checks)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if status.Status != "ready" {
		t.Errorf("Expected status 'ready', got '%s'", status.Status)
	}
	if _, ok := status.Dependencies["skipped"]; ok {
		t.Error("Expected nil check to be skipped")
	}
}

func TestReadinessHandler_Unhealthy(t *testing.T) {
	checks := map[string]HealthCheckFunc{
		"redis": func(ctx context.Context) (bool, error) { return false, errors.New("connection refused") },
	}

	rec := httptest.NewRecorder()
	ReadinessHandler(checks)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if status.Dependencies["redis"].Message != "connection refused" {
		t.Errorf("Expected dependency message 'connection refused', got '%s'", status.Dependencies["redis"].Message)
	}
}

func TestGRPCHealth_Refresh(t *testing.T) {
	healthy := true
	g := NewGRPCHealth(map[string]HealthCheckFunc{
		"translation": func(ctx context.Context) (bool, error) { return healthy, nil },
	}, 0)

	if !g.Refresh(context.Background()) {
		t.Fatal("Expected healthy refresh")
	}

	resp, err := g.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: "caption-gateway"})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING, got %v", resp.Status)
	}

	healthy = false
	g.Refresh(context.Background())

	resp, err = g.Server().Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("Expected NOT_SERVING, got %v", resp.Status)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG").String() != "debug" {
		t.Errorf("Expected debug level, got %s", ParseLevel("DEBUG"))
	}
	if ParseLevel(" Warning ").String() != "warn" {
		t.Errorf("Expected warn level, got %s", ParseLevel(" Warning "))
	}
	if ParseLevel("").String() != "info" {
		t.Errorf("Expected info level for empty name, got %s", ParseLevel(""))
	}
	if ParseLevel("bogus").String() != "info" {
		t.Errorf("Expected info level for unknown name, got %s", ParseLevel("bogus"))
	}
}
