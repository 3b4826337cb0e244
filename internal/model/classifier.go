package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/hemascan/hemascan-api/internal/config"
	"github.com/hemascan/hemascan-api/internal/tensor"
)

var (
	// ErrShapeMismatch reports a weight artifact incompatible with the
	// constructed architecture. Fatal at startup.
	ErrShapeMismatch = errors.New("weight artifact does not match model architecture")

	// ErrInference reports a numerical failure during a forward pass.
	ErrInference = errors.New("inference failed")

	// ErrSaliencyUnavailable reports that no usable saliency map could be
	// produced. Recoverable; classification results remain valid.
	ErrSaliencyUnavailable = errors.New("saliency map unavailable")
)

// captureLayer is the Grad-CAM capture point: the activation after the last
// convolutional stage, before global pooling.
const captureLayer = "conv4.relu"

// Classifier owns the frozen network parameters. After LoadWeights succeeds
// the parameters are never mutated, so concurrent Infer calls are safe.
type Classifier struct {
	cfg *config.ModelConfig
	net *network
}

// NewClassifier constructs the backbone with a classification head sized to
// the configured class list. The head must exist before weights are loaded,
// since the stored artifact matches only the replaced head's shape.
func NewClassifier(cfg *config.ModelConfig) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Three pooling stages halve the spatial size each.
	feat := cfg.ImgSize
	for i := 0; i < 3; i++ {
		feat /= 2
	}
	if feat < 1 {
		return nil, fmt.Errorf("img_size %d too small for the backbone", cfg.ImgSize)
	}

	conv1 := newConv2d("conv1", 3, 16)
	conv2 := newConv2d("conv2", 16, 32)
	conv3 := newConv2d("conv3", 32, 64)
	conv4 := newConv2d("conv4", 64, 128)
	fc := newDense("fc", 128, len(cfg.Classes))

	net := &network{
		layers: []layer{
			conv1, &reluLayer{name: "conv1.relu"}, &maxPool2d{name: "pool1", size: 2},
			conv2, &reluLayer{name: "conv2.relu"}, &maxPool2d{name: "pool2", size: 2},
			conv3, &reluLayer{name: "conv3.relu"}, &maxPool2d{name: "pool3", size: 2},
			conv4, &reluLayer{name: captureLayer},
			&globalAvgPool{name: "gap", h: feat, w: feat},
			fc,
		},
		params: []param{
			{"conv1.weight", conv1.weight}, {"conv1.bias", conv1.bias},
			{"conv2.weight", conv2.weight}, {"conv2.bias", conv2.bias},
			{"conv3.weight", conv3.weight}, {"conv3.bias", conv3.bias},
			{"conv4.weight", conv4.weight}, {"conv4.bias", conv4.bias},
			{"fc.weight", fc.weight}, {"fc.bias", fc.bias},
		},
	}

	return &Classifier{cfg: cfg, net: net}, nil
}

// Config returns the model configuration the classifier was built with.
func (c *Classifier) Config() *config.ModelConfig {
	return c.cfg
}

// Infer runs a forward pass and returns the softmax probability vector.
func (c *Classifier) Infer(t *tensor.Tensor) ([]float64, error) {
	logits, err := c.logits(t, nil)
	if err != nil {
		return nil, err
	}
	return softmax(logits), nil
}

func (c *Classifier) logits(t *tensor.Tensor, slot *captureSlot) ([]float64, error) {
	shape := t.Shape()
	s := c.cfg.ImgSize
	if len(shape) != 4 || shape[0] != 1 || shape[1] != 3 || shape[2] != s || shape[3] != s {
		return nil, fmt.Errorf("%w: expected (1,3,%d,%d) input, got %v", ErrInference, s, s, shape)
	}

	x, err := t.Reshape(3, s, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	out, err := c.net.forward(x, slot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	if !out.AllFinite() {
		return nil, fmt.Errorf("%w: non-finite logits", ErrInference)
	}
	return out.Data(), nil
}

func softmax(logits []float64) []float64 {
	probs := make([]float64, len(logits))
	max := floats.Max(logits)
	for i, v := range logits {
		probs[i] = math.Exp(v - max)
	}
	sum := floats.Sum(probs)
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// TopPrediction returns the argmax class index and the confidence as a
// percentage rounded to two decimal places.
func TopPrediction(probs []float64) (int, float64) {
	idx := floats.MaxIdx(probs)
	return idx, math.Round(probs[idx]*10000) / 100
}

// Randomize fills every parameter with small deterministic pseudo-random
// values. The production artifact comes from offline training; this exists
// for the fixture generator and tests.
func (c *Classifier) Randomize(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for _, p := range c.net.params {
		buf := p.value.Data()
		for i := range buf {
			buf[i] = rng.NormFloat64() * 0.1
		}
	}
}
