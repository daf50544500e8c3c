package face

import (
	"context"
	"errors"
	"fmt"

	"smartattendance/internal/apperr"
)

// Pipeline runs quality gate, extraction and comparison for one attempt on
// a bounded worker pool.
type Pipeline struct {
	Gate      Gate
	Extractor Extractor
	Verifier  Verifier
	Pool      *Pool
}

// NewPipeline wires a pipeline. A nil extractor uses BlockMeanExtractor.
func NewPipeline(gate Gate, ext Extractor, v Verifier, pool *Pool) *Pipeline {
	if ext == nil {
		ext = BlockMeanExtractor{}
	}
	if pool == nil {
		pool = NewPool(2)
	}
	return &Pipeline{Gate: gate, Extractor: ext, Verifier: v, Pool: pool}
}

// Embed gates the capture and extracts its embedding. Used for enrollment.
func (p *Pipeline) Embed(ctx context.Context, c Capture) ([]float64, float64, error) {
	if err := p.Gate.Check(c.Detection); err != nil {
		return nil, 0, err
	}
	var emb []float64
	err := p.Pool.Run(ctx, func(ctx context.Context) error {
		var err error
		emb, err = p.Extractor.Extract(ctx, c.Image, c.Detection.Box)
		return err
	})
	if err != nil {
		return nil, 0, asVerificationError(err)
	}
	if len(emb) == 0 {
		return nil, 0, apperr.New(apperr.CodeVerificationError, "extractor returned no embedding")
	}
	return emb, Score(c.Detection), nil
}

// Verify compares a capture against a reference embedding. NoMatch is a
// Result, not an error.
func (p *Pipeline) Verify(ctx context.Context, reference []float64, c Capture) (Result, error) {
	if len(reference) == 0 {
		return Result{}, apperr.New(apperr.CodeVerificationError, "reference template has no embedding")
	}
	probe, quality, err := p.Embed(ctx, c)
	if err != nil {
		return Result{}, err
	}
	if len(probe) != len(reference) {
		return Result{}, apperr.New(apperr.CodeVerificationError,
			fmt.Sprintf("embedding has %d dimensions, template has %d", len(probe), len(reference)))
	}
	res := p.Verifier.Verify(reference, probe)
	res.Quality = quality
	return res, nil
}

func asVerificationError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if apperr.CodeOf(err) == apperr.CodeInternal {
		return apperr.Wrap(apperr.CodeVerificationError, "extract embedding", err)
	}
	return err
}
