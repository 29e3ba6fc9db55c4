package retrieval

import (
	"context"
	"strconv"

	"github.com/jamesaphoenix/tx-sub011/internal/store"
)

const (
	configKeyWeightBM25   = "retrieval.weight_bm25"
	configKeyWeightVector = "retrieval.weight_vector"
	configKeyWeightRecency = "retrieval.weight_recency"
)

// Weights are the fusion weights applied to the BM25, vector, and recency
// legs of the hybrid score (spec.md §4.C). Outcome and frequency boosts are
// additive and unweighted.
type Weights struct {
	BM25    float64
	Vector  float64
	Recency float64
}

// DefaultWeights matches spec.md §4.C's default `{0.4, 0.3, 0.2}`.
var DefaultWeights = Weights{BM25: 0.4, Vector: 0.3, Recency: 0.2}

// LoadWeights reads fusion weights from the config table, falling back to
// DefaultWeights for any key that is absent or unparseable.
func LoadWeights(ctx context.Context, db *store.DB) (Weights, error) {
	w := DefaultWeights
	if v, ok, err := db.GetConfigValue(ctx, configKeyWeightBM25); err != nil {
		return Weights{}, err
	} else if ok {
		if f, perr := strconv.ParseFloat(v, 64); perr == nil {
			w.BM25 = f
		}
	}
	if v, ok, err := db.GetConfigValue(ctx, configKeyWeightVector); err != nil {
		return Weights{}, err
	} else if ok {
		if f, perr := strconv.ParseFloat(v, 64); perr == nil {
			w.Vector = f
		}
	}
	if v, ok, err := db.GetConfigValue(ctx, configKeyWeightRecency); err != nil {
		return Weights{}, err
	} else if ok {
		if f, perr := strconv.ParseFloat(v, 64); perr == nil {
			w.Recency = f
		}
	}
	return w, nil
}

// SaveWeights persists w to the config table.
func SaveWeights(ctx context.Context, db *store.DB, w Weights) error {
	if err := db.SetConfigValue(ctx, configKeyWeightBM25, strconv.FormatFloat(w.BM25, 'f', -1, 64)); err != nil {
		return err
	}
	if err := db.SetConfigValue(ctx, configKeyWeightVector, strconv.FormatFloat(w.Vector, 'f', -1, 64)); err != nil {
		return err
	}
	return db.SetConfigValue(ctx, configKeyWeightRecency, strconv.FormatFloat(w.Recency, 'f', -1, 64))
}
