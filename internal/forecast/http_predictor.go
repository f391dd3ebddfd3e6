package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/powerdash/backend/internal/utils"
)

// HTTPPredictor talks to a TensorFlow Serving compatible REST model server.
type HTTPPredictor struct {
	httpClient *http.Client
	baseURL    string
	model      string
	logger     *utils.Logger
}

// NewHTTPPredictor creates a predictor for model served under baseURL.
func NewHTTPPredictor(baseURL, model string, timeout time.Duration, logger *utils.Logger) *HTTPPredictor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPPredictor{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		logger:  logger.Named("model_server"),
	}
}

// APIError represents an error response from the model server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("model server error (%d): %s", e.StatusCode, e.Message)
}

type modelStatusResponse struct {
	ModelVersionStatus []struct {
		Version string `json:"version"`
		State   string `json:"state"`
	} `json:"model_version_status"`
}

// Load checks that at least one version of the model is being served.
func (p *HTTPPredictor) Load(ctx context.Context) error {
	body, err := p.doRequest(ctx, http.MethodGet, "/v1/models/"+p.model, nil)
	if err != nil {
		return err
	}

	var status modelStatusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("failed to decode model status: %w", err)
	}
	for _, v := range status.ModelVersionStatus {
		if v.State == "AVAILABLE" {
			p.logger.Info("Forecast model available",
				utils.String("model", p.model),
				utils.String("version", v.Version),
			)
			return nil
		}
	}
	return fmt.Errorf("model %q has no available version", p.model)
}

// Predict sends the window shaped [1, len(window), 1] and flattens whatever
// prediction tensor comes back.
func (p *HTTPPredictor) Predict(ctx context.Context, window []float64) ([]float64, error) {
	instance := make([][]float64, len(window))
	for i, v := range window {
		instance[i] = []float64{v}
	}
	req := map[string]interface{}{
		"instances": [][][]float64{instance},
	}

	body, err := p.doRequest(ctx, http.MethodPost, "/v1/models/"+p.model+":predict", req)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Predictions json.RawMessage `json:"predictions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode predictions: %w", err)
	}

	var tensor interface{}
	if err := json.Unmarshal(resp.Predictions, &tensor); err != nil {
		return nil, fmt.Errorf("failed to decode predictions: %w", err)
	}

	out, err := flatten(tensor, nil)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func flatten(v interface{}, acc []float64) ([]float64, error) {
	switch t := v.(type) {
	case float64:
		return append(acc, t), nil
	case []interface{}:
		var err error
		for _, item := range t {
			if acc, err = flatten(item, acc); err != nil {
				return nil, err
			}
		}
		return acc, nil
	default:
		return nil, fmt.Errorf("unexpected prediction element %T", v)
	}
}

func (p *HTTPPredictor) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	url := p.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	p.logger.Debug("Sending request to model server",
		utils.String("method", method),
		utils.String("url", url),
	)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(respBody, &errResp); err != nil || errResp.Error == "" {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	return respBody, nil
}
