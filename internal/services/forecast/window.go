package forecast

import (
	"fmt"

	"mlass/internal/domain/models"

	"github.com/montanaflynn/stats"
)

// FitMinMax learns the range of values.
func FitMinMax(values []float64) (models.MinMaxScaler, error) {
	lo, err := stats.Min(values)
	if err != nil {
		return models.MinMaxScaler{}, fmt.Errorf("%w: %v", models.ErrInsufficientData, err)
	}
	hi, err := stats.Max(values)
	if err != nil {
		return models.MinMaxScaler{}, fmt.Errorf("%w: %v", models.ErrInsufficientData, err)
	}
	return models.MinMaxScaler{Min: lo, Max: hi}, nil
}

// MakeWindows pairs every run of lookback values with the value after it.
// A series of n values yields n-lookback windows.
func MakeWindows(scaled []float64, lookback int) ([]models.ScaledWindow, error) {
	if lookback <= 0 {
		return nil, fmt.Errorf("lookback must be positive, got %d", lookback)
	}
	if len(scaled) < lookback+1 {
		return nil, fmt.Errorf("%w: %d points, need at least %d", models.ErrInsufficientData, len(scaled), lookback+1)
	}
	out := make([]models.ScaledWindow, 0, len(scaled)-lookback)
	for i := lookback; i < len(scaled); i++ {
		out = append(out, models.ScaledWindow{
			Input:  scaled[i-lookback : i],
			Target: scaled[i],
		})
	}
	return out, nil
}

func split(windows []models.ScaledWindow) ([][]float64, []float64) {
	X := make([][]float64, len(windows))
	y := make([]float64, len(windows))
	for i, w := range windows {
		X[i] = w.Input
		y[i] = w.Target
	}
	return X, y
}
