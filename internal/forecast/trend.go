package forecast

import "context"

// TrendPredictor extrapolates the least-squares line through the window. It
// stands in for a trained model when no model server is configured.
type TrendPredictor struct {
	ChunkSize int
}

func NewTrendPredictor(chunkSize int) *TrendPredictor {
	if chunkSize < 1 {
		chunkSize = 1
	}
	return &TrendPredictor{ChunkSize: chunkSize}
}

func (t *TrendPredictor) Load(ctx context.Context) error {
	return ctx.Err()
}

func (t *TrendPredictor) Predict(ctx context.Context, window []float64) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := float64(len(window))
	if n == 0 {
		return nil, nil
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range window {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	var slope float64
	if denom := n*sumXX - sumX*sumX; denom != 0 {
		slope = (n*sumXY - sumX*sumY) / denom
	}
	intercept := (sumY - slope*sumX) / n

	out := make([]float64, t.ChunkSize)
	for i := range out {
		out[i] = intercept + slope*(n+float64(i))
	}
	return out, nil
}
