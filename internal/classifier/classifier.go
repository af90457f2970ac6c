// Package classifier scores receiver feature vectors with a trained model.
//
// The model ships as a versioned JSON artifact: feature names in scoring
// order, standardization parameters, and logistic-regression weights.
// Callers fall back to heuristic scoring when no model is loaded or
// Predict fails, so errors here degrade quality, not availability.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

var (
	ErrNoModel          = errors.New("classifier: no model loaded")
	ErrFeatureMismatch  = errors.New("classifier: feature vector length mismatch")
	ErrInvalidModelFile = errors.New("classifier: invalid model file")
)

// Classifier produces a fraud probability in [0, 1] for a feature vector.
type Classifier interface {
	Predict(ctx context.Context, features []float64) (float64, error)
	// Features returns the expected feature names in scoring order.
	Features() []string
	Version() string
}

// Model is a standardized logistic-regression model loaded from JSON.
type Model struct {
	version      string
	featureNames []string
	means        []float64
	scales       []float64
	coefficients []float64
	intercept    float64
}

type modelFile struct {
	Version      string    `json:"version"`
	Features     []string  `json:"features"`
	Means        []float64 `json:"means"`
	Scales       []float64 `json:"scales"`
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
}

// Load reads a model artifact from disk.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return Parse(data)
}

// Parse builds a Model from raw JSON bytes.
func Parse(data []byte) (*Model, error) {
	var f modelFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModelFile, err)
	}
	n := len(f.Features)
	if n == 0 {
		return nil, fmt.Errorf("%w: no features", ErrInvalidModelFile)
	}
	if len(f.Coefficients) != n {
		return nil, fmt.Errorf("%w: %d features but %d coefficients",
			ErrInvalidModelFile, n, len(f.Coefficients))
	}
	// Standardization is optional. Absent means identity.
	if len(f.Means) == 0 {
		f.Means = make([]float64, n)
	}
	if len(f.Scales) == 0 {
		f.Scales = make([]float64, n)
		for i := range f.Scales {
			f.Scales[i] = 1
		}
	}
	if len(f.Means) != n || len(f.Scales) != n {
		return nil, fmt.Errorf("%w: scaler shape mismatch", ErrInvalidModelFile)
	}
	for i, s := range f.Scales {
		if s == 0 {
			return nil, fmt.Errorf("%w: zero scale for feature %q", ErrInvalidModelFile, f.Features[i])
		}
	}
	return &Model{
		version:      f.Version,
		featureNames: f.Features,
		means:        f.Means,
		scales:       f.Scales,
		coefficients: f.Coefficients,
		intercept:    f.Intercept,
	}, nil
}

func (m *Model) Version() string { return m.version }

func (m *Model) Features() []string {
	out := make([]string, len(m.featureNames))
	copy(out, m.featureNames)
	return out
}

// Predict standardizes the vector and applies the logistic function.
func (m *Model) Predict(ctx context.Context, features []float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(features) != len(m.coefficients) {
		return 0, fmt.Errorf("%w: got %d, want %d",
			ErrFeatureMismatch, len(features), len(m.coefficients))
	}
	z := m.intercept
	for i, x := range features {
		z += m.coefficients[i] * (x - m.means[i]) / m.scales[i]
	}
	return 1 / (1 + math.Exp(-z)), nil
}
