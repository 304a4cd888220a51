package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phbpx/leadboard"
	"github.com/phbpx/leadboard/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

func TestSeed(t *testing.T) {
	ctx := context.Background()
	pipeline := leadboard.DefaultPipeline()
	service := memory.NewLeadService(pipeline)
	log := zap.NewNop().Sugar()

	require.NoError(t, seed(ctx, service, log))
	require.NoError(t, seed(ctx, service, log))

	snap, err := service.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Count())
	assert.Len(t, snap[pipeline.Initial()], 2)
}

func TestRouter(t *testing.T) {
	pipeline := leadboard.DefaultPipeline()
	service := memory.NewLeadService(pipeline)
	log := zap.NewNop().Sugar()
	require.NoError(t, seed(context.Background(), service, log))

	r := newRouter("leads-api-test", []string{"http://localhost:3001"}, pipeline, service, nil, otelzap.New(zap.NewNop()).Sugar())

	t.Run("leads", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/leads", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var snap leadboard.Snapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		assert.Len(t, snap, len(pipeline.Stages()))
		assert.Equal(t, 2, snap.Count())
	})

	t.Run("readiness", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "http_requests_total")
	})

	t.Run("cors preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/leads", nil)
		req.Header.Set("Origin", "http://localhost:3001")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, "http://localhost:3001", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}
