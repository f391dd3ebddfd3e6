package forecast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerdash/backend/internal/utils"
)

func modelServer(t *testing.T, state string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models/forecast_model", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"model_version_status": []map[string]string{{"version": "1", "state": state}},
		})
	})
	mux.HandleFunc("/v1/models/forecast_model:predict", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req struct {
			Instances [][][]float64 `json:"instances"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Instances, 1)

		window := req.Instances[0]
		last := window[len(window)-1][0]
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"predictions": [][]float64{{last, last + 0.5}},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPPredictorLoadAndPredict(t *testing.T) {
	srv := modelServer(t, "AVAILABLE")
	p := NewHTTPPredictor(srv.URL+"/", "forecast_model", time.Second, utils.NewNopLogger())

	require.NoError(t, p.Load(context.Background()))

	out, err := p.Predict(context.Background(), []float64{0.1, 0.2, 0.3})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.3, 0.8}, out)
}

func TestHTTPPredictorModelNotReady(t *testing.T) {
	srv := modelServer(t, "LOADING")
	p := NewHTTPPredictor(srv.URL, "forecast_model", time.Second, utils.NewNopLogger())

	assert.Error(t, p.Load(context.Background()))
}

func TestHTTPPredictorServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Servable not found for request"}`))
	}))
	defer srv.Close()

	p := NewHTTPPredictor(srv.URL, "missing", time.Second, utils.NewNopLogger())
	err := p.Load(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "Servable not found")
}

func TestFlattenRejectsNonNumbers(t *testing.T) {
	_, err := flatten([]interface{}{1.0, "x"}, nil)
	assert.Error(t, err)
}
