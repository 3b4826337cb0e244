package model

import (
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hemascan/hemascan-api/internal/config"
	"github.com/hemascan/hemascan-api/internal/tensor"
)

func testConfig() *config.ModelConfig {
	return &config.ModelConfig{
		ImgSize: 32,
		Mean:    []float64{0.485, 0.456, 0.406},
		Std:     []float64{0.229, 0.224, 0.225},
		Classes: []string{"normal", "leukemia"},
	}
}

func testClassifier(t *testing.T, seed int64) *Classifier {
	t.Helper()
	clf, err := NewClassifier(testConfig())
	require.NoError(t, err)
	clf.Randomize(seed)
	return clf
}

func uniformInput(cfg *config.ModelConfig, pixel float64) *tensor.Tensor {
	s := cfg.ImgSize
	in := tensor.New(1, 3, s, s)
	buf := in.Data()
	plane := s * s
	for c := 0; c < 3; c++ {
		v := (pixel - cfg.Mean[c]) / cfg.Std[c]
		row := buf[c*plane : (c+1)*plane]
		for i := range row {
			row[i] = v
		}
	}
	return in
}

func randomInput(cfg *config.ModelConfig, seed int64) *tensor.Tensor {
	rng := rand.New(rand.NewSource(seed))
	in := tensor.New(1, 3, cfg.ImgSize, cfg.ImgSize)
	buf := in.Data()
	for i := range buf {
		buf[i] = rng.NormFloat64()
	}
	return in
}

func TestNewClassifierRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Classes = nil
	_, err := NewClassifier(cfg)
	require.Error(t, err)

	cfg = testConfig()
	cfg.ImgSize = 4
	_, err = NewClassifier(cfg)
	require.Error(t, err)
}

func TestInferProbabilities(t *testing.T) {
	clf := testClassifier(t, 1)

	for name, pixel := range map[string]float64{"black": 0.0, "white": 1.0} {
		t.Run(name, func(t *testing.T) {
			probs, err := clf.Infer(uniformInput(clf.Config(), pixel))
			require.NoError(t, err)
			require.Len(t, probs, 2)

			sum := 0.0
			for _, p := range probs {
				require.GreaterOrEqual(t, p, 0.0)
				sum += p
			}
			require.InDelta(t, 1.0, sum, 1e-6)
		})
	}
}

func TestInferRejectsWrongShape(t *testing.T) {
	clf := testClassifier(t, 1)
	_, err := clf.Infer(tensor.New(1, 3, 16, 16))
	require.ErrorIs(t, err, ErrInference)
}

func TestInferDeterministic(t *testing.T) {
	clf := testClassifier(t, 3)
	in := randomInput(clf.Config(), 7)

	a, err := clf.Infer(in)
	require.NoError(t, err)
	b, err := clf.Infer(in)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestInferConcurrent(t *testing.T) {
	clf := testClassifier(t, 5)
	const n = 16

	inputs := make([]*tensor.Tensor, n)
	baseline := make([][]float64, n)
	for i := range inputs {
		inputs[i] = randomInput(clf.Config(), int64(100+i))
		probs, err := clf.Infer(inputs[i])
		require.NoError(t, err)
		baseline[i] = probs
	}

	var wg sync.WaitGroup
	results := make([][]float64, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = clf.Infer(inputs[i])
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, baseline[i], results[i])
	}
}

func TestTopPrediction(t *testing.T) {
	idx, conf := TopPrediction([]float64{0.125, 0.875})
	require.Equal(t, 1, idx)
	require.Equal(t, 87.5, conf)

	idx, conf = TopPrediction([]float64{0.66666, 0.33334})
	require.Equal(t, 0, idx)
	require.Equal(t, 66.67, conf)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.gob")

	src := testClassifier(t, 9)
	require.NoError(t, src.SaveWeights(path))

	dst, err := NewClassifier(testConfig())
	require.NoError(t, err)
	require.NoError(t, dst.LoadWeights(path))

	in := randomInput(src.Config(), 11)
	want, err := src.Infer(in)
	require.NoError(t, err)
	got, err := dst.Infer(in)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestLoadWeightsShapeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.gob")

	threeClass := testConfig()
	threeClass.Classes = []string{"normal", "leukemia", "other"}
	src, err := NewClassifier(threeClass)
	require.NoError(t, err)
	src.Randomize(1)
	require.NoError(t, src.SaveWeights(path))

	dst, err := NewClassifier(testConfig())
	require.NoError(t, err)
	err = dst.LoadWeights(path)
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestLoadWeightsMissingFile(t *testing.T) {
	clf, err := NewClassifier(testConfig())
	require.NoError(t, err)
	require.Error(t, clf.LoadWeights(filepath.Join(t.TempDir(), "missing.gob")))
}
