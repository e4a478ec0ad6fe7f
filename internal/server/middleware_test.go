package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/comandahub/paycore/internal/config"
	ledgerdomain "github.com/comandahub/paycore/internal/ledger/domain"
	providerdomain "github.com/comandahub/paycore/internal/providers/payment/domain"
	settlementdomain "github.com/comandahub/paycore/internal/settlement/domain"
)

func newOpsEngine(t *testing.T, cfg config.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &Server{cfg: cfg, log: zap.NewNop()}
	r := gin.New()
	r.Use(ErrorHandlingMiddleware())
	r.GET("/ops/ping", s.OpsTokenRequired(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

func opsRequest(r *gin.Engine, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ops/ping", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestOpsTokenRequired(t *testing.T) {
	r := newOpsEngine(t, config.Config{OpsAPIToken: "s3cret", Environment: "production"})

	w := opsRequest(r, "Bearer s3cret")
	require.Equal(t, http.StatusOK, w.Code)

	w = opsRequest(r, "Bearer wrong")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":{"type":"unauthorized","message":"unauthorized"}}`, w.Body.String())

	w = opsRequest(r, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOpsTokenRequiredWithoutToken(t *testing.T) {
	// No token configured: everything is rejected unless in development.
	r := newOpsEngine(t, config.Config{Environment: "production"})
	w := opsRequest(r, "Bearer anything")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	dev := newOpsEngine(t, config.Config{Environment: "development"})
	w = opsRequest(dev, "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRequestLoggingPropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogging(zap.NewNop()))
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"request_id": c.GetString("request_id")})
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(headerRequestID, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-123", w.Header().Get(headerRequestID))
	assert.Contains(t, w.Body.String(), "req-123")

	// Without an inbound id the middleware mints one.
	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.NotEmpty(t, w.Header().Get(headerRequestID))
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantType   string
	}{
		{ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{providerdomain.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
		{providerdomain.ErrUnknownProvider, http.StatusNotFound, "unknown_provider"},
		{gorm.ErrRecordNotFound, http.StatusNotFound, "not_found"},
		{settlementdomain.ErrSettlementNotFound, http.StatusNotFound, "not_found"},
		{settlementdomain.ErrSettlementImmutable, http.StatusConflict, "settlement_immutable"},
		{settlementdomain.ErrInvalidStatusChange, http.StatusConflict, "conflict"},
		{ledgerdomain.ErrInvalidAmount, http.StatusBadRequest, "validation_error"},
		{assert.AnError, http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		status, payload := mapError(tc.err)
		assert.Equal(t, tc.wantStatus, status, "error %v", tc.err)
		assert.Equal(t, tc.wantType, payload.Type, "error %v", tc.err)
	}
}
