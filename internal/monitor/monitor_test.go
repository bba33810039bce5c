package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticVarz map[string]interface{}

func (v staticVarz) Varz() map[string]interface{} { return v }

func router(source VarzSource) http.Handler {
	gin.SetMode(gin.TestMode)
	return newRouter(source)
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router(staticVarz{}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestVarz(t *testing.T) {
	source := staticVarz{"in_sync": true, "ingress_dropped": 3}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/varz", nil)
	router(source).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["in_sync"])
	assert.Equal(t, float64(3), body["ingress_dropped"])
}
