// Package raster implements the deterministic image transforms behind the
// editor: decoding uploads, cropping to the fixed working frame, deriving
// generation masks, and encoding buffers for download or the wire.
//
// Every function is side-effect free: the same inputs always produce a
// byte-identical output buffer.
package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"math"

	_ "image/gif"

	xdraw "golang.org/x/image/draw"
)

var (
	// ErrDecode is returned when input bytes are not a supported raster format.
	ErrDecode = errors.New("unsupported or corrupt image data")
	// ErrEncode is returned when an unsupported target encoding is requested.
	ErrEncode = errors.New("unsupported target encoding")
	// ErrInvalidRect is returned for degenerate or out-of-bounds selection
	// rectangles. They are rejected, never silently clamped to empty.
	ErrInvalidRect = errors.New("invalid selection rectangle")
)

// FrameSize is the side length of the square working frame every crop
// produces, independent of the source aspect ratio.
const FrameSize = 1024

// Transform describes the pan/zoom the user applied inside the crop viewport.
// A frame pixel (fx, fy) samples the source at ((fx-OffsetX)/Scale,
// (fy-OffsetY)/Scale).
type Transform struct {
	Scale   float64 `json:"scale"`
	OffsetX float64 `json:"offsetX"`
	OffsetY float64 `json:"offsetY"`
}

// Identity returns the transform that maps the source one-to-one onto the
// top-left of the frame.
func Identity() Transform {
	return Transform{Scale: 1}
}

// Rasterize decodes displayable source bytes (PNG, JPEG or GIF) into the
// NRGBA buffer representation used by the rest of the pipeline.
func Rasterize(data []byte) (*image.NRGBA, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return toNRGBA(src), nil
}

// CropToFrame renders the source through the viewport transform into a new
// frameSize x frameSize buffer. Regions of the frame the source does not
// cover stay fully transparent. Scaling uses nearest-neighbor sampling so
// identical inputs yield byte-identical output.
func CropToFrame(src image.Image, t Transform, frameSize int) (*image.NRGBA, error) {
	if frameSize <= 0 {
		return nil, fmt.Errorf("%w: frame size %d", ErrInvalidRect, frameSize)
	}
	if t.Scale <= 0 || math.IsNaN(t.Scale) || math.IsInf(t.Scale, 0) {
		return nil, fmt.Errorf("%w: scale %v", ErrInvalidRect, t.Scale)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, frameSize, frameSize))

	// The source rectangle visible through the frame, in source coordinates.
	sr := image.Rect(
		int(math.Round(-t.OffsetX/t.Scale)),
		int(math.Round(-t.OffsetY/t.Scale)),
		int(math.Round((float64(frameSize)-t.OffsetX)/t.Scale)),
		int(math.Round((float64(frameSize)-t.OffsetY)/t.Scale)),
	)
	if sr.Empty() {
		return dst, nil
	}

	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), src, sr, xdraw.Src, nil)
	return dst, nil
}

// BuildMask derives the generation mask for a selection: a buffer with the
// same dimensions as img where pixels strictly inside rect are fully
// transparent and every other pixel is fully opaque, whatever alpha the
// source carries there. Transparent marks the region to regenerate; the
// generation service relies on this polarity, so source transparency (such
// as frame regions a crop did not cover) must not leak into the mask.
func BuildMask(img image.Image, rect image.Rectangle) (*image.NRGBA, error) {
	bounds := img.Bounds()
	if rect.Empty() {
		return nil, fmt.Errorf("%w: zero-area selection", ErrInvalidRect)
	}
	if !rect.In(bounds) {
		return nil, fmt.Errorf("%w: selection %v outside image bounds %v", ErrInvalidRect, rect, bounds)
	}

	mask := toNRGBACopy(img)
	for i := 3; i < len(mask.Pix); i += 4 {
		mask.Pix[i] = 0xff
	}
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		row := mask.PixOffset(rect.Min.X, y)
		end := mask.PixOffset(rect.Max.X, y)
		for i := row; i < end; i++ {
			mask.Pix[i] = 0
		}
	}
	return mask, nil
}

// Encode serializes a buffer to the requested MIME type. image/png and
// image/jpeg are supported.
func Encode(img image.Image, mimeType string) ([]byte, error) {
	var buf bytes.Buffer
	switch mimeType {
	case "image/png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncode, err)
		}
	case "image/jpeg":
		if err := jpeg.Encode(&buf, img, nil); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncode, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrEncode, mimeType)
	}
	return buf.Bytes(), nil
}

// toNRGBA returns img as *image.NRGBA, reusing the buffer when it already is
// one and its origin is (0,0).
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Bounds().Min == (image.Point{}) {
		return n
	}
	return toNRGBACopy(img)
}

func toNRGBACopy(img image.Image) *image.NRGBA {
	bounds := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	return dst
}
