package face

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"smartattendance/internal/apperr"
)

const eps = 1e-9

func goodDetection() *Detection {
	return &Detection{
		Box:          Box{Left: 40, Top: 40, Width: 120, Height: 120},
		Yaw:          5,
		Roll:         2,
		LeftEyeOpen:  Prob(0.9),
		RightEyeOpen: Prob(0.9),
	}
}

func solidPNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func gradientPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: uint8((x + y) / 2), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestGateCheck(t *testing.T) {
	gate := NewGate(Thresholds{})
	tests := []struct {
		name   string
		mutate func(d *Detection)
		reason string
	}{
		{"accepts frontal", func(d *Detection) {}, ""},
		{"accepts exact limits", func(d *Detection) {
			d.Box = Box{Width: 100, Height: 100}
			d.Yaw, d.Roll = -30, 20
			d.LeftEyeOpen, d.RightEyeOpen = Prob(0.5), Prob(0.5)
		}, ""},
		{"too small", func(d *Detection) { d.Box = Box{Width: 99, Height: 100} }, ReasonTooSmall},
		{"yaw", func(d *Detection) { d.Yaw = 30.5 }, ReasonOffAngle},
		{"roll", func(d *Detection) { d.Roll = -21 }, ReasonOffAngle},
		{"left eye closed", func(d *Detection) { d.LeftEyeOpen = Prob(0.49) }, ReasonEyesClosed},
		{"right eye closed", func(d *Detection) { d.RightEyeOpen = Prob(0.1) }, ReasonEyesClosed},
		{"unknown eyes skipped", func(d *Detection) { d.LeftEyeOpen, d.RightEyeOpen = nil, nil }, ""},
		{"size checked before angle", func(d *Detection) {
			d.Box = Box{Width: 10, Height: 10}
			d.Yaw = 80
		}, ReasonTooSmall},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := goodDetection()
			tt.mutate(d)
			err := gate.Check(d)
			if tt.reason == "" {
				if err != nil {
					t.Fatalf("Check() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, apperr.ErrQualityRejected) {
				t.Fatalf("Check() = %v, want QUALITY_REJECTED", err)
			}
			if got := apperr.ReasonOf(err); got != tt.reason {
				t.Errorf("reason = %q, want %q", got, tt.reason)
			}
		})
	}
}

func TestGateNoFace(t *testing.T) {
	err := NewGate(DefaultThresholds()).Check(nil)
	if apperr.ReasonOf(err) != ReasonNoFace {
		t.Errorf("Check(nil) = %v, want reason %q", err, ReasonNoFace)
	}
}

func TestScore(t *testing.T) {
	perfect := &Detection{Box: Box{Width: 200, Height: 200}}
	if got := Score(perfect); math.Abs(got-1) > eps {
		t.Errorf("Score(perfect) = %f, want 1", got)
	}
	small := &Detection{Box: Box{Width: 120, Height: 120}}
	if got := Score(small); math.Abs(got-0.7) > eps {
		t.Errorf("Score(small) = %f, want 0.7", got)
	}
	if got := Score(nil); got != 0 {
		t.Errorf("Score(nil) = %f, want 0", got)
	}
}

func TestCompare(t *testing.T) {
	a := []float64{0.2, 0.4, 0.1, 0.9}
	b := []float64{0.5, 0.1, 0.3, 0.2}

	if got := Compare(a, a); math.Abs(got-1) > eps {
		t.Errorf("Compare(a, a) = %f, want 1", got)
	}
	if ab, ba := Compare(a, b), Compare(b, a); math.Abs(ab-ba) > eps {
		t.Errorf("Compare not symmetric: %f vs %f", ab, ba)
	}
	neg := []float64{-0.2, -0.4, -0.1, -0.9}
	if got := Compare(a, neg); math.Abs(got+1) > eps {
		t.Errorf("Compare(a, -a) = %f, want -1", got)
	}
	if got := Compare(a, []float64{0, 0, 0, 0}); got != 0 {
		t.Errorf("Compare with zero vector = %f, want 0", got)
	}
	if got := Compare(a, []float64{1, 2}); got != 0 {
		t.Errorf("Compare length mismatch = %f, want 0", got)
	}
}

func TestVerifierThreshold(t *testing.T) {
	v := NewVerifier(0)
	if v.Threshold != DefaultMatchThreshold {
		t.Fatalf("threshold = %f, want default", v.Threshold)
	}
	a := []float64{1, 0}
	res := v.Verify(a, []float64{0.6, 0.8})
	if !res.IsMatch() || math.Abs(res.Confidence-0.8) > 1e-9 {
		t.Errorf("Verify = %+v, want match at 0.8", res)
	}
	res = Verifier{Threshold: 0.81}.Verify(a, []float64{0.6, 0.8})
	if res.IsMatch() {
		t.Errorf("confidence %f below threshold 0.81 should not match", res.Confidence)
	}
	res = v.Verify(a, []float64{0, 1})
	if res.IsMatch() || math.Abs(res.Confidence-0.5) > eps {
		t.Errorf("orthogonal = %+v, want no-match at 0.5", res)
	}
}

func TestVerifyDeterministic(t *testing.T) {
	v := NewVerifier(DefaultMatchThreshold)
	a := []float64{0.3, 0.1, 0.7}
	b := []float64{0.2, 0.2, 0.6}
	first := v.Verify(a, b)
	for i := 0; i < 100; i++ {
		if got := v.Verify(a, b); got != first {
			t.Fatalf("Verify run %d = %+v, want %+v", i, got, first)
		}
	}
}

func TestEmbedImageUniform(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 150, 150))
	gray := color.RGBA{R: 102, G: 102, B: 102, A: 255}
	for y := 0; y < 150; y++ {
		for x := 0; x < 150; x++ {
			img.Set(x, y, gray)
		}
	}
	emb, err := EmbedImage(img, Box{Left: 20, Top: 20, Width: 100, Height: 100})
	if err != nil {
		t.Fatalf("EmbedImage: %v", err)
	}
	if len(emb) != EmbeddingSize {
		t.Fatalf("len = %d, want %d", len(emb), EmbeddingSize)
	}
	var norm float64
	for _, v := range emb {
		norm += v * v
	}
	if math.Abs(norm-1) > 1e-6 {
		t.Errorf("squared norm = %f, want 1", norm)
	}
	// 170 blocks fill slots 0..509, the last two are padding
	want := (102.0 / 255) / 0.5
	if got := emb[0] / emb[511]; math.Abs(got-want) > 0.01 {
		t.Errorf("block/pad ratio = %f, want %f", got, want)
	}
	if math.Abs(emb[509]-emb[0]) > 0.005 || emb[510] != emb[511] {
		t.Errorf("unexpected slot layout: %f %f %f %f", emb[0], emb[509], emb[510], emb[511])
	}
}

func TestCrop(t *testing.T) {
	bounds := image.Rect(0, 0, 200, 200)
	tests := []struct {
		name string
		box  Box
		want image.Rectangle
	}{
		{"padded", Box{Left: 50, Top: 50, Width: 80, Height: 40}, image.Rect(40, 40, 140, 100)},
		{"clamped", Box{Left: 0, Top: 0, Width: 100, Height: 100}, image.Rect(0, 0, 125, 125)},
		{"outside falls back", Box{Left: 500, Top: 500, Width: 10, Height: 10}, bounds},
		{"empty box falls back", Box{}, bounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Crop(bounds, tt.box); got != tt.want {
				t.Errorf("Crop(%+v) = %v, want %v", tt.box, got, tt.want)
			}
		})
	}
}

func TestPipelineSameCaptureMatches(t *testing.T) {
	p := NewPipeline(NewGate(DefaultThresholds()), nil, NewVerifier(DefaultMatchThreshold), NewPool(2))
	capture := Capture{Image: gradientPNG(t), Detection: goodDetection()}
	ctx := context.Background()

	ref, _, err := p.Embed(ctx, capture)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	res, err := p.Verify(ctx, ref, capture)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.IsMatch() || math.Abs(res.Confidence-1) > 1e-9 {
		t.Errorf("Verify(self) = %+v, want match with confidence 1", res)
	}
	if res.Quality <= 0 {
		t.Errorf("quality = %f, want > 0", res.Quality)
	}
}

func TestPipelineDifferentFacesNoMatch(t *testing.T) {
	p := NewPipeline(NewGate(DefaultThresholds()), nil, NewVerifier(DefaultMatchThreshold), nil)
	ctx := context.Background()
	white := Capture{Image: solidPNG(t, color.White), Detection: goodDetection()}
	black := Capture{Image: solidPNG(t, color.Black), Detection: goodDetection()}

	ref, _, err := p.Embed(ctx, white)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	res, err := p.Verify(ctx, ref, black)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.IsMatch() {
		t.Errorf("white vs black = %+v, want no-match", res)
	}
}

func TestPipelineErrors(t *testing.T) {
	p := NewPipeline(NewGate(DefaultThresholds()), nil, NewVerifier(DefaultMatchThreshold), nil)
	ctx := context.Background()
	ref := make([]float64, EmbeddingSize)
	ref[0] = 1

	_, err := p.Verify(ctx, ref, Capture{Image: []byte("not an image"), Detection: goodDetection()})
	if apperr.CodeOf(err) != apperr.CodeVerificationError {
		t.Errorf("undecodable capture: %v, want VERIFICATION_ERROR", err)
	}

	bad := goodDetection()
	bad.Yaw = 45
	_, err = p.Verify(ctx, ref, Capture{Image: gradientPNG(t), Detection: bad})
	if apperr.ReasonOf(err) != ReasonOffAngle {
		t.Errorf("off-angle capture: %v, want off-angle rejection", err)
	}

	_, err = p.Verify(ctx, nil, Capture{Image: gradientPNG(t), Detection: goodDetection()})
	if apperr.CodeOf(err) != apperr.CodeVerificationError {
		t.Errorf("missing reference: %v, want VERIFICATION_ERROR", err)
	}
}

func TestJitterSeededAndClamped(t *testing.T) {
	a := NewJitter(0.1, 42).Sample(0.98, 50)
	b := NewJitter(0.1, 42).Sample(0.98, 50)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample %d differs across equal seeds", i)
		}
		if a[i] < 0.93-eps || a[i] > 1 {
			t.Errorf("sample %d = %f out of band", i, a[i])
		}
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(2)
	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.Run(context.Background(), func(context.Context) error {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestPoolHonoursContext(t *testing.T) {
	pool := NewPool(1)
	release := make(chan struct{})
	go func() {
		_ = pool.Run(context.Background(), func(context.Context) error {
			<-release
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Run(ctx, func(context.Context) error { return nil })
	close(release)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run on saturated pool = %v, want deadline exceeded", err)
	}
}
