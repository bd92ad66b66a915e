package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/permitwise/billingcore/internal/clock"
	"github.com/permitwise/billingcore/internal/config"
	retainerdomain "github.com/permitwise/billingcore/internal/retainer/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRetainerService struct {
	retainer *retainerdomain.Retainer
	err      error
}

func (f *fakeRetainerService) CreateRetainer(context.Context, retainerdomain.CreateRetainerRequest) (*retainerdomain.Retainer, error) {
	return f.retainer, f.err
}

func (f *fakeRetainerService) Deposit(context.Context, retainerdomain.MovementRequest) (*retainerdomain.Retainer, error) {
	return f.retainer, f.err
}

func (f *fakeRetainerService) Draw(context.Context, retainerdomain.MovementRequest) (*retainerdomain.Retainer, error) {
	return f.retainer, f.err
}

func (f *fakeRetainerService) Refund(context.Context, retainerdomain.MovementRequest) (*retainerdomain.Retainer, error) {
	return f.retainer, f.err
}

func (f *fakeRetainerService) Adjust(context.Context, retainerdomain.MovementRequest) (*retainerdomain.Retainer, error) {
	return f.retainer, f.err
}

func (f *fakeRetainerService) Cancel(context.Context, snowflake.ID, snowflake.ID, string) error {
	return f.err
}

func (f *fakeRetainerService) GetRetainer(context.Context, snowflake.ID, snowflake.ID) (*retainerdomain.Retainer, error) {
	return f.retainer, f.err
}

func (f *fakeRetainerService) ListTransactions(context.Context, snowflake.ID, snowflake.ID) ([]retainerdomain.RetainerTransaction, error) {
	return nil, f.err
}

func (f *fakeRetainerService) ReplayBalance(context.Context, snowflake.ID, snowflake.ID) (*retainerdomain.ReplayResult, error) {
	return nil, f.err
}

func newTestServer(t *testing.T, cfg config.Config, retainers *fakeRetainerService) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv := &Server{
		engine:      NewEngine(cfg),
		cfg:         cfg,
		log:         zap.NewNop(),
		clock:       clock.NewFakeClock(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)),
		retainerSvc: retainers,
	}
	registerRoutes(srv)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, headers map[string]string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	return rec
}

func TestOrgHeaderRequiredWithoutDefault(t *testing.T) {
	srv := newTestServer(t, config.Config{}, &fakeRetainerService{})

	rec := doJSON(t, srv, http.MethodGet, "/api/retainers/123", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDefaultOrgFallback(t *testing.T) {
	srv := newTestServer(t, config.Config{DefaultOrgID: 100}, &fakeRetainerService{
		retainer: &retainerdomain.Retainer{ID: 123, OrgID: 100, CurrentBalance: 5_000},
	})

	rec := doJSON(t, srv, http.MethodGet, "/api/retainers/123", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRetainerNotFoundMapsTo404(t *testing.T) {
	srv := newTestServer(t, config.Config{}, &fakeRetainerService{
		err: retainerdomain.ErrRetainerNotFound,
	})

	rec := doJSON(t, srv, http.MethodGet, "/api/retainers/123", map[string]string{HeaderOrg: "100"}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInsufficientBalanceMapsTo409(t *testing.T) {
	srv := newTestServer(t, config.Config{}, &fakeRetainerService{
		err: retainerdomain.ErrInsufficientBalance,
	})

	rec := doJSON(t, srv, http.MethodPost, "/api/retainers/123/draw", map[string]string{HeaderOrg: "100"}, map[string]any{
		"invoice_id": "456",
		"amount":     10_000,
	})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateRetainerValidationMapsTo400(t *testing.T) {
	srv := newTestServer(t, config.Config{}, &fakeRetainerService{
		err: retainerdomain.ErrInvalidAmount,
	})

	rec := doJSON(t, srv, http.MethodPost, "/api/retainers", map[string]string{HeaderOrg: "100"}, map[string]any{
		"client_id": "200",
		"amount":    -5,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "validation_error", resp.Error.Type)
}
