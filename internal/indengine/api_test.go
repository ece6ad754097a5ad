package indengine

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stochroc/internal/indicator"
)

func TestReloadHandler(t *testing.T) {
	var got []indicator.TFIndicatorConfig
	h := reloadHandler(func(configs []indicator.TFIndicatorConfig) (reloadResult, error) {
		got = configs
		return reloadResult{Preserved: 3, Created: 1}, nil
	})

	body := `[{"tf":60,"indicators":[{"type":"FAST_STOCH","length":14},{"type":"ROC","length":9}]}]`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reload", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp reloadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, reloadResponse{Status: "ok", Preserved: 3, Created: 1}, resp)
	require.Len(t, got, 1)
	assert.Equal(t, "FAST_STOCH_14", got[0].Indicators[0].Key())
}

func TestReloadHandler_Rejects(t *testing.T) {
	called := false
	h := reloadHandler(func([]indicator.TFIndicatorConfig) (reloadResult, error) {
		called = true
		return reloadResult{}, nil
	})

	tests := []struct {
		name     string
		method   string
		body     string
		wantCode int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"bad json", http.MethodPost, "{", http.StatusBadRequest},
		{"empty list", http.MethodPost, "[]", http.StatusBadRequest},
		{"null", http.MethodPost, "null", http.StatusBadRequest},
		{"zero length", http.MethodPost, `[{"tf":60,"indicators":[{"type":"MIN","length":0}]}]`, http.StatusBadRequest},
		{"unknown type", http.MethodPost, `[{"tf":60,"indicators":[{"type":"RSI","length":14}]}]`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, "/reload", strings.NewReader(tt.body)))
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
	assert.False(t, called)
}

func TestReloadHandler_EngineUnavailable(t *testing.T) {
	h := reloadHandler(func([]indicator.TFIndicatorConfig) (reloadResult, error) {
		return reloadResult{}, errors.New("context canceled")
	})

	body := `[{"tf":60,"indicators":[{"type":"MAX","length":14}]}]`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reload", strings.NewReader(body)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
