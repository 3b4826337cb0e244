package model

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/hemascan/hemascan-api/internal/tensor"
)

// CAMEngine computes Grad-CAM saliency maps against the shared classifier
// graph. Saliency computations are serialized: each one claims the graph's
// capture registration for its duration and releases it on every exit path.
// Plain Infer calls are unaffected and may run concurrently.
type CAMEngine struct {
	mu        sync.Mutex
	clf       *Classifier
	layerName string
}

// NewCAMEngine creates an engine targeting the backbone's capture layer.
func NewCAMEngine(clf *Classifier) *CAMEngine {
	return &CAMEngine{clf: clf, layerName: captureLayer}
}

// Explain returns a saliency map for the given class, upsampled to
// IMG_SIZE x IMG_SIZE with values in [0,1]. Any internal failure yields
// ErrSaliencyUnavailable and leaves the classifier ready for the next call.
func (e *CAMEngine) Explain(t *tensor.Tensor, classIndex int) (*tensor.Tensor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	slot, err := e.clf.net.attachCapture(e.layerName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSaliencyUnavailable, err)
	}
	defer e.clf.net.releaseCapture(slot)

	logits, err := e.clf.logits(t, slot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSaliencyUnavailable, err)
	}
	if classIndex < 0 || classIndex >= len(logits) {
		return nil, fmt.Errorf("%w: class index %d out of range", ErrSaliencyUnavailable, classIndex)
	}
	if slot.activation == nil {
		return nil, fmt.Errorf("%w: capture layer produced no activation", ErrSaliencyUnavailable)
	}

	// Gradient of the target logit with respect to the captured activation.
	seed := tensor.New(len(logits))
	seed.Set(1, classIndex)
	grad, err := e.clf.net.backwardFrom(e.layerName, seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSaliencyUnavailable, err)
	}

	act := slot.activation
	if !tensor.SameShape(grad, act) {
		return nil, fmt.Errorf("%w: gradient shape %v does not match activation %v",
			ErrSaliencyUnavailable, grad.Shape(), act.Shape())
	}

	ch, hf, wf := act.Dim(0), act.Dim(1), act.Dim(2)
	plane := hf * wf
	gbuf := grad.Data()
	abuf := act.Data()

	// Channel weights are the global average of the gradient; the raw map is
	// the ReLU of the weighted activation sum.
	raw := tensor.New(hf, wf)
	rbuf := raw.Data()
	for c := 0; c < ch; c++ {
		w := floats.Sum(gbuf[c*plane:(c+1)*plane]) / float64(plane)
		if w == 0 {
			continue
		}
		arow := abuf[c*plane : (c+1)*plane]
		for i := range rbuf {
			rbuf[i] += w * arow[i]
		}
	}
	for i, v := range rbuf {
		if v < 0 {
			rbuf[i] = 0
		}
	}
	if !raw.AllFinite() {
		return nil, fmt.Errorf("%w: non-finite saliency values", ErrSaliencyUnavailable)
	}

	size := e.clf.cfg.ImgSize
	up := upsampleBilinear(raw, size, size)

	min, max := up.MinMax()
	if max > min {
		ubuf := up.Data()
		span := max - min
		for i := range ubuf {
			ubuf[i] = (ubuf[i] - min) / span
		}
	} else {
		// Uniform activation: a flat mid-intensity map instead of a divide
		// by zero.
		up.Fill(0.5)
	}
	return up, nil
}

// upsampleBilinear resizes a 2-D map with bilinear interpolation using
// half-pixel center alignment.
func upsampleBilinear(src *tensor.Tensor, outH, outW int) *tensor.Tensor {
	h, w := src.Dim(0), src.Dim(1)
	out := tensor.New(outH, outW)

	scaleY := float64(h) / float64(outH)
	scaleX := float64(w) / float64(outW)

	for y := 0; y < outH; y++ {
		sy := (float64(y)+0.5)*scaleY - 0.5
		if sy < 0 {
			sy = 0
		}
		y0 := int(sy)
		if y0 > h-1 {
			y0 = h - 1
		}
		y1 := y0 + 1
		if y1 > h-1 {
			y1 = h - 1
		}
		fy := sy - float64(y0)

		for x := 0; x < outW; x++ {
			sx := (float64(x)+0.5)*scaleX - 0.5
			if sx < 0 {
				sx = 0
			}
			x0 := int(sx)
			if x0 > w-1 {
				x0 = w - 1
			}
			x1 := x0 + 1
			if x1 > w-1 {
				x1 = w - 1
			}
			fx := sx - float64(x0)

			top := src.At(y0, x0)*(1-fx) + src.At(y0, x1)*fx
			bottom := src.At(y1, x0)*(1-fx) + src.At(y1, x1)*fx
			out.Set(top*(1-fy)+bottom*fy, y, x)
		}
	}
	return out
}
