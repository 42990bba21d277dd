package retrieval

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWaitForDependenciesSucceedsImmediatelyWhenHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := WaitForDependencies(context.Background(), []Dependency{{Name: "llm-gateway", HealthURL: srv.URL}}, 3)
	require.NoError(t, err)
}

func TestWaitForDependenciesFailsAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := WaitForDependencies(ctx, []Dependency{{Name: "llm-gateway", HealthURL: srv.URL}}, 1)
	require.Error(t, err)
}
