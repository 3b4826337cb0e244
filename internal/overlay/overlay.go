package overlay

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/hemascan/hemascan-api/internal/config"
	"github.com/hemascan/hemascan-api/internal/tensor"
)

// blendRatio is the fixed weight of the heat image in the composite.
const blendRatio = 0.5

// jetStops are the keypoints of the false-color palette, low to high.
var jetStops = []colorful.Color{
	{R: 0, G: 0, B: 1},   // blue
	{R: 0, G: 1, B: 1},   // cyan
	{R: 0, G: 1, B: 0},   // green
	{R: 1, G: 1, B: 0},   // yellow
	{R: 1, G: 0, B: 0},   // red
}

// heatColor maps a saliency scalar in [0,1] onto the jet palette.
func heatColor(v float64) colorful.Color {
	if v <= 0 {
		return jetStops[0]
	}
	if v >= 1 {
		return jetStops[len(jetStops)-1]
	}
	pos := v * float64(len(jetStops)-1)
	i := int(pos)
	return jetStops[i].BlendRgb(jetStops[i+1], pos-float64(i))
}

// Denormalize inverts the per-channel normalization of a (1,3,S,S) tensor,
// returning a (3,S,S) display tensor clamped to [0,1].
func Denormalize(t *tensor.Tensor, cfg *config.ModelConfig) (*tensor.Tensor, error) {
	shape := t.Shape()
	s := cfg.ImgSize
	if len(shape) != 4 || shape[0] != 1 || shape[1] != 3 || shape[2] != s || shape[3] != s {
		return nil, fmt.Errorf("expected (1,3,%d,%d) tensor, got %v", s, s, shape)
	}

	out := tensor.New(3, s, s)
	src := t.Data()
	dst := out.Data()
	plane := s * s
	for c := 0; c < 3; c++ {
		mean, std := cfg.Mean[c], cfg.Std[c]
		for i := c * plane; i < (c+1)*plane; i++ {
			dst[i] = clamp01(src[i]*std + mean)
		}
	}
	return out, nil
}

// Composite blends the false-colored saliency map with the denormalized
// input image. The result has the same spatial size as the input.
func Composite(t *tensor.Tensor, cam *tensor.Tensor, cfg *config.ModelConfig) (image.Image, error) {
	display, err := Denormalize(t, cfg)
	if err != nil {
		return nil, err
	}

	s := cfg.ImgSize
	camShape := cam.Shape()
	if len(camShape) != 2 || camShape[0] != s || camShape[1] != s {
		return nil, fmt.Errorf("expected (%d,%d) saliency map, got %v", s, s, camShape)
	}

	img := image.NewNRGBA(image.Rect(0, 0, s, s))
	for y := 0; y < s; y++ {
		for x := 0; x < s; x++ {
			heat := heatColor(cam.At(y, x))
			r := clamp01((1-blendRatio)*display.At(0, y, x) + blendRatio*heat.R)
			g := clamp01((1-blendRatio)*display.At(1, y, x) + blendRatio*heat.G)
			b := clamp01((1-blendRatio)*display.At(2, y, x) + blendRatio*heat.B)
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(r*255 + 0.5),
				G: uint8(g*255 + 0.5),
				B: uint8(b*255 + 0.5),
				A: 255,
			})
		}
	}
	return img, nil
}

// EncodePNG serializes the overlay image.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode overlay: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURL wraps encoded PNG bytes as an inline data URL.
func DataURL(pngData []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngData)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
