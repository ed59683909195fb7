package database

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestQuerier_NoOwnerScope(t *testing.T) {
	_, err := Querier(context.Background())
	if !errors.Is(err, ErrNoOwnerScope) {
		t.Errorf("Querier() error = %v, want ErrNoOwnerScope", err)
	}
}

func TestInTx_NoOwnerScope(t *testing.T) {
	called := false
	err := InTx(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrNoOwnerScope) {
		t.Errorf("InTx() error = %v, want ErrNoOwnerScope", err)
	}
	if called {
		t.Error("fn must not run without an owner scope")
	}
}

func TestGetOwnerScope_Missing(t *testing.T) {
	if _, ok := GetOwnerScope(context.Background()); ok {
		t.Error("expected no owner scope in empty context")
	}
}

func TestOwnerScope_CloseWithoutConnection(t *testing.T) {
	scope := &OwnerScope{}
	scope.Close() // must not panic
}

func TestWithOwnerContext_InvalidOwnerID(t *testing.T) {
	mux := http.NewServeMux()
	called := false
	mux.HandleFunc("GET /api/owners/{ownerId}/tablas", WithOwnerContext(nil, zap.NewNop())(
		func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/api/owners/not-a-uuid/tablas", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if called {
		t.Error("handler must not run for an invalid owner ID")
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["error"] != "invalid_owner_id" {
		t.Errorf("error = %q, want invalid_owner_id", body["error"])
	}
}
