package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"

	"github.com/hemascan/hemascan-api/internal/config"
	"github.com/hemascan/hemascan-api/internal/tensor"
)

// ErrDecode reports image bytes that are empty, corrupt, or unparseable.
var ErrDecode = errors.New("image decode failed")

// Preprocess converts raw image bytes into the normalized (1,3,S,S) tensor
// the classifier expects. Any decodable color model is flattened to RGB, the
// resize is non-proportional, and pixels are scaled to [0,1] before the
// per-channel affine normalization.
func Preprocess(data []byte, cfg *config.ModelConfig) (*tensor.Tensor, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	size := uint(cfg.ImgSize)
	resized := resize.Resize(size, size, img, resize.Lanczos3)

	s := cfg.ImgSize
	out := tensor.New(1, 3, s, s)
	buf := out.Data()
	plane := s * s

	for y := 0; y < s; y++ {
		for x := 0; x < s; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			idx := y*s + x
			buf[idx] = (float64(r)/65535.0 - cfg.Mean[0]) / cfg.Std[0]
			buf[plane+idx] = (float64(g)/65535.0 - cfg.Mean[1]) / cfg.Std[1]
			buf[2*plane+idx] = (float64(b)/65535.0 - cfg.Mean[2]) / cfg.Std[2]
		}
	}

	return out, nil
}
