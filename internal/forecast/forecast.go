// Package forecast extends a rolling series into the future with an external
// sequence predictor.
package forecast

import (
	"context"
	"errors"
	"fmt"

	"github.com/powerdash/backend/internal/utils"
)

var (
	ErrPredictorUnavailable = fmt.Errorf("predictor unavailable: %w", utils.ErrServiceUnavailable)
	ErrForecastBusy         = fmt.Errorf("forecast already running: %w", utils.ErrConflict)
	ErrInsufficientData     = fmt.Errorf("not enough samples to forecast: %w", utils.ErrConflict)
	ErrInvalidParameters    = fmt.Errorf("invalid forecast parameters: %w", utils.ErrValidation)
)

// Predictor maps a normalized window of inputLength values to the next k >= 1
// normalized values.
type Predictor interface {
	Load(ctx context.Context) error
	Predict(ctx context.Context, window []float64) ([]float64, error)
}

// Forecast normalizes values with the min-max scale of the whole series,
// feeds the last inputLength of them to p and chains the predictions until
// horizon values exist. The result is mapped back to the original scale.
func Forecast(ctx context.Context, p Predictor, values []float64, inputLength, horizon int) ([]float64, error) {
	if inputLength <= 0 || horizon <= 0 {
		return nil, fmt.Errorf("%w: input length %d, horizon %d", ErrInvalidParameters, inputLength, horizon)
	}
	if len(values) < inputLength {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(values), inputLength)
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	scale := hi - lo
	if scale == 0 {
		scale = 1
	}

	window := make([]float64, inputLength)
	for i, v := range values[len(values)-inputLength:] {
		window[i] = (v - lo) / scale
	}

	predictions := make([]float64, 0, horizon)
	for len(predictions) < horizon {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := p.Predict(ctx, window)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrPredictorUnavailable, err)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%w: predictor returned no values", ErrPredictorUnavailable)
		}

		predictions = append(predictions, out...)
		window = slide(window, out)
	}

	predictions = predictions[:horizon]
	for i, v := range predictions {
		predictions[i] = v*scale + lo
	}
	return predictions, nil
}

// slide drops len(out) values from the head of window and appends out,
// keeping the window length.
func slide(window, out []float64) []float64 {
	n := len(window)
	next := make([]float64, 0, n)
	if len(out) < n {
		next = append(next, window[len(out):]...)
		next = append(next, out...)
	} else {
		next = append(next, out[len(out)-n:]...)
	}
	return next
}
