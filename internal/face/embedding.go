package face

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"gonum.org/v1/gonum/floats"

	"smartattendance/internal/apperr"
)

// Extractor turns a face capture into a fixed-length embedding. The
// block-mean extractor below is a placeholder; a learned model can be
// substituted behind this interface.
type Extractor interface {
	Extract(ctx context.Context, img []byte, box Box) ([]float64, error)
}

const (
	EmbeddingSize = 512
	faceSide      = 112
	blockSide     = 8
	padValue      = 0.5
)

// BlockMeanExtractor embeds a face as the mean colour of 8x8 blocks over a
// 112x112 resample of the padded face region.
type BlockMeanExtractor struct{}

func (BlockMeanExtractor) Extract(ctx context.Context, img []byte, box Box) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, _, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeVerificationError, "decode capture", err)
	}
	return EmbedImage(src, box)
}

// EmbedImage computes the block-mean embedding of img around box. A box that
// does not intersect the image falls back to the whole frame.
func EmbedImage(img image.Image, box Box) ([]float64, error) {
	region := Crop(img.Bounds(), box)
	if region.Empty() {
		return nil, apperr.New(apperr.CodeVerificationError, "empty face region")
	}

	dst := image.NewRGBA(image.Rect(0, 0, faceSide, faceSide))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, region, draw.Src, nil)

	emb := make([]float64, EmbeddingSize)
	idx := 0
	blocks := faceSide / blockSide
	for row := 0; row < blocks && idx < EmbeddingSize-3; row++ {
		for col := 0; col < blocks && idx < EmbeddingSize-3; col++ {
			r, g, b := blockMean(dst, col*blockSide, row*blockSide)
			emb[idx] = r / 255
			emb[idx+1] = g / 255
			emb[idx+2] = b / 255
			idx += 3
		}
	}
	for ; idx < EmbeddingSize; idx++ {
		emb[idx] = padValue
	}
	Normalize(emb)
	return emb, nil
}

func blockMean(img *image.RGBA, x0, y0 int) (r, g, b float64) {
	n := 0.0
	for y := y0; y < y0+blockSide; y++ {
		for x := x0; x < x0+blockSide; x++ {
			off := img.PixOffset(x, y)
			r += float64(img.Pix[off])
			g += float64(img.Pix[off+1])
			b += float64(img.Pix[off+2])
			n++
		}
	}
	return r / n, g / n, b / n
}

// Crop pads box by a quarter of its shorter side and clamps to bounds.
func Crop(bounds image.Rectangle, box Box) image.Rectangle {
	if box.Width <= 0 || box.Height <= 0 {
		return bounds
	}
	pad := min(box.Width, box.Height) / 4
	r := image.Rect(box.Left-pad, box.Top-pad, box.Left+box.Width+pad, box.Top+box.Height+pad)
	r = r.Intersect(bounds)
	if r.Empty() {
		return bounds
	}
	return r
}

// Normalize scales v to unit length in place. A zero vector is left alone.
func Normalize(v []float64) {
	n := floats.Norm(v, 2)
	if n > 0 {
		floats.Scale(1/n, v)
	}
}
