// Package embedding defines the dense-vector embedding collaborator
// boundary: the core calls out to an external embedding process and stores
// whatever comes back, but never runs a model itself (spec.md §1 Non-goals).
//
// Grounded on the teacher's internal/embedding/engine.go (EmbeddingEngine
// interface + CosineSimilarity) and ollama.go (HTTP backend shape).
package embedding

import (
	"context"
	"math"

	"github.com/jamesaphoenix/tx-sub011/internal/apitypes"
)

// Engine embeds text into a dense float32 vector.
type Engine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// CosineSimilarity returns the cosine similarity of a and b, or 0 if either
// vector is empty or zero-length (ported near-verbatim from the teacher's
// engine.go).
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// NoopEngine is the default engine when no embedding collaborator is
// configured: every call fails with ServiceUnavailable so the retrieval
// fusion's vector term falls back to 0 (spec.md §4.C).
type NoopEngine struct{}

func (NoopEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, apitypes.ServiceUnavailable("no embedding engine configured")
}

func (NoopEngine) Dimensions() int { return 0 }
