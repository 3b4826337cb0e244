package model

import (
	"fmt"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"

	"github.com/hemascan/hemascan-api/internal/tensor"
)

type layer interface {
	Name() string
	Forward(in *tensor.Tensor) (*tensor.Tensor, error)
}

// backwardLayer propagates the gradient of a scalar output back through the
// layer. Only the head layers past the saliency capture point implement it.
type backwardLayer interface {
	layer
	Backward(grad *tensor.Tensor) (*tensor.Tensor, error)
}

type param struct {
	name  string
	value *tensor.Tensor
}

// captureSlot records one layer's output activation during a forward pass.
// A slot is claimed for the duration of a single saliency computation and
// never shared between in-flight computations.
type captureSlot struct {
	layerName  string
	activation *tensor.Tensor
}

type network struct {
	layers  []layer
	params  []param
	capture atomic.Pointer[captureSlot]
}

// attachCapture claims the network's capture registration for layerName.
// It fails if the layer does not exist or another computation holds the
// registration.
func (n *network) attachCapture(layerName string) (*captureSlot, error) {
	found := false
	for _, l := range n.layers {
		if l.Name() == layerName {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("capture layer %q not found in graph", layerName)
	}

	slot := &captureSlot{layerName: layerName}
	if !n.capture.CompareAndSwap(nil, slot) {
		return nil, fmt.Errorf("capture registration already held")
	}
	return slot, nil
}

// releaseCapture returns the registration. It is a no-op if slot does not
// hold it, so it is safe on every exit path.
func (n *network) releaseCapture(slot *captureSlot) {
	n.capture.CompareAndSwap(slot, nil)
}

// forward runs the graph on in. When slot is non-nil, the matching layer's
// output is recorded into it. Layers allocate their outputs per call, so
// concurrent forward passes never share intermediate state.
func (n *network) forward(in *tensor.Tensor, slot *captureSlot) (*tensor.Tensor, error) {
	x := in
	var err error
	for _, l := range n.layers {
		x, err = l.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", l.Name(), err)
		}
		if slot != nil && l.Name() == slot.layerName {
			slot.activation = x
		}
	}
	return x, nil
}

// backwardFrom propagates grad from the network output back to the output of
// the named layer.
func (n *network) backwardFrom(layerName string, grad *tensor.Tensor) (*tensor.Tensor, error) {
	idx := -1
	for i, l := range n.layers {
		if l.Name() == layerName {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("layer %q not found in graph", layerName)
	}

	g := grad
	var err error
	for i := len(n.layers) - 1; i > idx; i-- {
		bl, ok := n.layers[i].(backwardLayer)
		if !ok {
			return nil, fmt.Errorf("layer %s does not support backward", n.layers[i].Name())
		}
		g, err = bl.Backward(g)
		if err != nil {
			return nil, fmt.Errorf("layer %s backward: %w", n.layers[i].Name(), err)
		}
	}
	return g, nil
}

// conv2d is a stride-1 convolution with square kernels and zero padding,
// computed as an im2col matrix product.
type conv2d struct {
	name   string
	inC    int
	outC   int
	k      int
	pad    int
	weight *tensor.Tensor // (outC, inC, k, k)
	bias   *tensor.Tensor // (outC)
}

func newConv2d(name string, inC, outC int) *conv2d {
	return &conv2d{
		name:   name,
		inC:    inC,
		outC:   outC,
		k:      3,
		pad:    1,
		weight: tensor.New(outC, inC, 3, 3),
		bias:   tensor.New(outC),
	}
}

func (c *conv2d) Name() string { return c.name }

func (c *conv2d) Forward(in *tensor.Tensor) (*tensor.Tensor, error) {
	shape := in.Shape()
	if len(shape) != 3 || shape[0] != c.inC {
		return nil, fmt.Errorf("expected (%d,H,W) input, got %v", c.inC, shape)
	}
	h, w := shape[1], shape[2]

	cols := mat.NewDense(c.inC*c.k*c.k, h*w, nil)
	for ci := 0; ci < c.inC; ci++ {
		for ky := 0; ky < c.k; ky++ {
			for kx := 0; kx < c.k; kx++ {
				row := (ci*c.k+ky)*c.k + kx
				for y := 0; y < h; y++ {
					sy := y + ky - c.pad
					if sy < 0 || sy >= h {
						continue
					}
					for x := 0; x < w; x++ {
						sx := x + kx - c.pad
						if sx < 0 || sx >= w {
							continue
						}
						cols.Set(row, y*w+x, in.At(ci, sy, sx))
					}
				}
			}
		}
	}

	out := tensor.New(c.outC, h, w)
	wm := mat.NewDense(c.outC, c.inC*c.k*c.k, c.weight.Data())
	om := mat.NewDense(c.outC, h*w, out.Data())
	om.Mul(wm, cols)

	buf := out.Data()
	plane := h * w
	for co := 0; co < c.outC; co++ {
		b := c.bias.At(co)
		if b == 0 {
			continue
		}
		row := buf[co*plane : (co+1)*plane]
		for i := range row {
			row[i] += b
		}
	}
	return out, nil
}

type reluLayer struct {
	name string
}

func (r *reluLayer) Name() string { return r.name }

func (r *reluLayer) Forward(in *tensor.Tensor) (*tensor.Tensor, error) {
	out := in.Clone()
	buf := out.Data()
	for i, v := range buf {
		if v < 0 {
			buf[i] = 0
		}
	}
	return out, nil
}

type maxPool2d struct {
	name string
	size int
}

func (p *maxPool2d) Name() string { return p.name }

func (p *maxPool2d) Forward(in *tensor.Tensor) (*tensor.Tensor, error) {
	shape := in.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("expected (C,H,W) input, got %v", shape)
	}
	ch, h, w := shape[0], shape[1], shape[2]
	oh, ow := h/p.size, w/p.size
	if oh < 1 || ow < 1 {
		return nil, fmt.Errorf("input %dx%d too small for pool size %d", h, w, p.size)
	}

	out := tensor.New(ch, oh, ow)
	for c := 0; c < ch; c++ {
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				best := in.At(c, y*p.size, x*p.size)
				for ky := 0; ky < p.size; ky++ {
					for kx := 0; kx < p.size; kx++ {
						if v := in.At(c, y*p.size+ky, x*p.size+kx); v > best {
							best = v
						}
					}
				}
				out.Set(best, c, y, x)
			}
		}
	}
	return out, nil
}

// globalAvgPool reduces (C,H,W) to (C). The spatial size is fixed at graph
// construction so the backward pass needs no per-call state.
type globalAvgPool struct {
	name string
	h, w int
}

func (g *globalAvgPool) Name() string { return g.name }

func (g *globalAvgPool) Forward(in *tensor.Tensor) (*tensor.Tensor, error) {
	shape := in.Shape()
	if len(shape) != 3 || shape[1] != g.h || shape[2] != g.w {
		return nil, fmt.Errorf("expected (C,%d,%d) input, got %v", g.h, g.w, shape)
	}
	ch := shape[0]
	plane := g.h * g.w
	buf := in.Data()

	out := tensor.New(ch)
	for c := 0; c < ch; c++ {
		sum := 0.0
		for _, v := range buf[c*plane : (c+1)*plane] {
			sum += v
		}
		out.Set(sum/float64(plane), c)
	}
	return out, nil
}

func (g *globalAvgPool) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	shape := grad.Shape()
	if len(shape) != 1 {
		return nil, fmt.Errorf("expected (C) gradient, got %v", shape)
	}
	ch := shape[0]
	plane := float64(g.h * g.w)

	out := tensor.New(ch, g.h, g.w)
	buf := out.Data()
	for c := 0; c < ch; c++ {
		v := grad.At(c) / plane
		row := buf[c*g.h*g.w : (c+1)*g.h*g.w]
		for i := range row {
			row[i] = v
		}
	}
	return out, nil
}

type dense struct {
	name   string
	in     int
	out    int
	weight *tensor.Tensor // (out, in)
	bias   *tensor.Tensor // (out)
}

func newDense(name string, in, out int) *dense {
	return &dense{
		name:   name,
		in:     in,
		out:    out,
		weight: tensor.New(out, in),
		bias:   tensor.New(out),
	}
}

func (d *dense) Name() string { return d.name }

func (d *dense) Forward(in *tensor.Tensor) (*tensor.Tensor, error) {
	shape := in.Shape()
	if len(shape) != 1 || shape[0] != d.in {
		return nil, fmt.Errorf("expected (%d) input, got %v", d.in, shape)
	}

	out := tensor.New(d.out)
	wm := mat.NewDense(d.out, d.in, d.weight.Data())
	xv := mat.NewVecDense(d.in, in.Data())
	yv := mat.NewVecDense(d.out, out.Data())
	yv.MulVec(wm, xv)

	buf := out.Data()
	for i := 0; i < d.out; i++ {
		buf[i] += d.bias.At(i)
	}
	return out, nil
}

func (d *dense) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	shape := grad.Shape()
	if len(shape) != 1 || shape[0] != d.out {
		return nil, fmt.Errorf("expected (%d) gradient, got %v", d.out, shape)
	}

	out := tensor.New(d.in)
	wm := mat.NewDense(d.out, d.in, d.weight.Data())
	gv := mat.NewVecDense(d.out, grad.Data())
	ov := mat.NewVecDense(d.in, out.Data())
	ov.MulVec(wm.T(), gv)
	return out, nil
}
