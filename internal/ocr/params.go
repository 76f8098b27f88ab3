package ocr

import "fmt"

// Params holds the tunables of the sampling and aggregation pipeline.
type Params struct {
	// Stride keeps one frame out of every Stride decoded frames. Frame 0 is always kept.
	Stride int
	// ConfidenceFloor drops tokens whose confidence is at or below it (0-100 scale).
	ConfidenceFloor float64
	// MinTokenLength drops tokens whose trimmed text has fewer runes.
	MinTokenLength int
	// SimilarityThreshold merges a reading into the open segment when similarity is strictly greater.
	SimilarityThreshold float64
	// FallbackFrameRate is used to derive timestamps when the source reports no frame rate.
	FallbackFrameRate float64
}

func DefaultParams() Params {
	return Params{
		Stride:              30,
		ConfidenceFloor:     40,
		MinTokenLength:      2,
		SimilarityThreshold: 0.6,
		FallbackFrameRate:   30,
	}
}

func (p Params) Validate() error {
	if p.Stride <= 0 {
		return fmt.Errorf("stride must be positive, got %d", p.Stride)
	}
	if p.ConfidenceFloor < 0 || p.ConfidenceFloor > 100 {
		return fmt.Errorf("confidence floor must be within [0,100], got %v", p.ConfidenceFloor)
	}
	if p.MinTokenLength < 0 {
		return fmt.Errorf("min token length must not be negative, got %d", p.MinTokenLength)
	}
	if p.SimilarityThreshold < 0 || p.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be within [0,1], got %v", p.SimilarityThreshold)
	}
	if p.FallbackFrameRate <= 0 {
		return fmt.Errorf("fallback frame rate must be positive, got %v", p.FallbackFrameRate)
	}
	return nil
}
