package overlay

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hemascan/hemascan-api/internal/config"
	"github.com/hemascan/hemascan-api/internal/tensor"
)

func testConfig() *config.ModelConfig {
	return &config.ModelConfig{
		ImgSize: 16,
		Mean:    []float64{0.485, 0.456, 0.406},
		Std:     []float64{0.229, 0.224, 0.225},
		Classes: []string{"normal", "leukemia"},
	}
}

// normalizedTensor builds a (1,3,S,S) tensor from pixel values in [0,1].
func normalizedTensor(cfg *config.ModelConfig, seed int64) *tensor.Tensor {
	rng := rand.New(rand.NewSource(seed))
	s := cfg.ImgSize
	t := tensor.New(1, 3, s, s)
	buf := t.Data()
	plane := s * s
	for c := 0; c < 3; c++ {
		for i := 0; i < plane; i++ {
			pixel := rng.Float64()
			buf[c*plane+i] = (pixel - cfg.Mean[c]) / cfg.Std[c]
		}
	}
	return t
}

func TestDenormalizeRoundTrip(t *testing.T) {
	cfg := testConfig()
	in := normalizedTensor(cfg, 1)

	display, err := Denormalize(in, cfg)
	require.NoError(t, err)

	// Re-normalizing the display image reproduces the original tensor.
	s := cfg.ImgSize
	plane := s * s
	for c := 0; c < 3; c++ {
		for i := 0; i < plane; i++ {
			want := in.Data()[c*plane+i]
			got := (display.Data()[c*plane+i] - cfg.Mean[c]) / cfg.Std[c]
			require.InDelta(t, want, got, 1e-5)
		}
	}
}

func TestDenormalizeClamps(t *testing.T) {
	cfg := testConfig()
	in := tensor.New(1, 3, cfg.ImgSize, cfg.ImgSize)
	in.Fill(100) // far outside the normalized range

	display, err := Denormalize(in, cfg)
	require.NoError(t, err)
	min, max := display.MinMax()
	require.GreaterOrEqual(t, min, 0.0)
	require.LessOrEqual(t, max, 1.0)
}

func TestDenormalizeRejectsWrongShape(t *testing.T) {
	cfg := testConfig()
	_, err := Denormalize(tensor.New(3, cfg.ImgSize, cfg.ImgSize), cfg)
	require.Error(t, err)
}

func TestCompositeDimensions(t *testing.T) {
	cfg := testConfig()
	in := normalizedTensor(cfg, 2)
	cam := tensor.New(cfg.ImgSize, cfg.ImgSize)
	for i := range cam.Data() {
		cam.Data()[i] = float64(i) / float64(cam.Len()-1)
	}

	img, err := Composite(in, cam, cfg)
	require.NoError(t, err)
	bounds := img.Bounds()
	require.Equal(t, cfg.ImgSize, bounds.Dx())
	require.Equal(t, cfg.ImgSize, bounds.Dy())
}

func TestCompositeRejectsWrongCAMShape(t *testing.T) {
	cfg := testConfig()
	in := normalizedTensor(cfg, 2)
	_, err := Composite(in, tensor.New(4, 4), cfg)
	require.Error(t, err)
}

func TestHeatColorEndpoints(t *testing.T) {
	low := heatColor(0)
	require.InDelta(t, 0.0, low.R, 1e-9)
	require.InDelta(t, 1.0, low.B, 1e-9)

	high := heatColor(1)
	require.InDelta(t, 1.0, high.R, 1e-9)
	require.InDelta(t, 0.0, high.B, 1e-9)

	mid := heatColor(0.5)
	require.InDelta(t, 1.0, mid.G, 1e-9)

	// Out of range inputs clamp to the palette ends.
	require.Equal(t, low, heatColor(-3))
	require.Equal(t, high, heatColor(7))
}

func TestEncodePNGAndDataURL(t *testing.T) {
	cfg := testConfig()
	in := normalizedTensor(cfg, 3)
	cam := tensor.New(cfg.ImgSize, cfg.ImgSize)
	cam.Fill(0.5)

	img, err := Composite(in, cam, cfg)
	require.NoError(t, err)

	data, err := EncodePNG(img)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	url := DataURL(data)
	require.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
}
