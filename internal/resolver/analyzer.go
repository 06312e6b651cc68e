package resolver

import (
	"context"
	"io"

	"auto-eq/internal/features"
)

// Analysis is what the ML stages see of a preview clip. Image is nil when
// it was not requested.
type Analysis struct {
	Vector features.Vector
	Image  *features.Image
}

type Analyzer interface {
	Analyze(ctx context.Context, r io.Reader, hint string, wantImage bool) (Analysis, error)
}

// FeatureAnalyzer decodes the clip and extracts both model inputs.
type FeatureAnalyzer struct{}

func (FeatureAnalyzer) Analyze(ctx context.Context, r io.Reader, hint string, wantImage bool) (Analysis, error) {
	buf, err := features.Decode(ctx, r, hint)
	if err != nil {
		return Analysis{}, err
	}
	vec, err := features.Extract(buf)
	if err != nil {
		return Analysis{}, err
	}
	a := Analysis{Vector: vec}
	if wantImage {
		// the audio model can still answer without an image
		if im, err := features.SpectrogramImage(buf, features.ImageSize); err == nil {
			a.Image = &im
		}
	}
	return a, nil
}
