package nn

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Layer is one differentiable stage of a Sequential model.
type Layer interface {
	Forward(x *Tensor) (*Tensor, error)
	// Backward takes dL/dout, accumulates parameter gradients and
	// returns dL/din. It must follow a Forward on the same batch.
	Backward(grad *Tensor) (*Tensor, error)
	Params() []*Param
}

// Linear is a fully connected layer y = xWᵀ + b.
type Linear struct {
	In, Out int
	W, B    *Param

	workers int
	input   *Tensor
}

// NewLinear creates a He-initialised dense layer. rng drives the
// initialisation so models built from the same seed are identical.
func NewLinear(name string, in, out int, rng *rand.Rand, workers int) *Linear {
	l := &Linear{
		In:      in,
		Out:     out,
		W:       newParam(name+".weight", out, in),
		B:       newParam(name+".bias", out),
		workers: workers,
	}
	std := math.Sqrt(2 / float64(in))
	for i := range l.W.Value {
		l.W.Value[i] = float32(rng.NormFloat64() * std)
	}
	return l
}

func (l *Linear) Forward(x *Tensor) (*Tensor, error) {
	if x.Cols() != l.In {
		return nil, fmt.Errorf("nn: %s expects %d inputs, got %d", l.W.Name, l.In, x.Cols())
	}
	l.input = x
	rows := x.Rows()
	y := NewTensor(rows, l.Out)
	w, b := l.W.Value, l.B.Value

	parallelFor(l.workers, rows, func(lo, hi int) {
		for r := lo; r < hi; r++ {
			xr := x.Row(r)
			yr := y.Row(r)
			for o := range l.Out {
				yr[o] = b[o] + dot(w[o*l.In:(o+1)*l.In], xr)
			}
		}
	})
	return y, nil
}

func (l *Linear) Backward(grad *Tensor) (*Tensor, error) {
	if l.input == nil {
		return nil, fmt.Errorf("nn: %s backward before forward", l.W.Name)
	}
	if grad.Cols() != l.Out || grad.Rows() != l.input.Rows() {
		return nil, fmt.Errorf("nn: %s gradient shape %v does not match output", l.W.Name, grad.Shape)
	}
	x := l.input
	rows := x.Rows()
	w, dw, db := l.W.Value, l.W.Grad, l.B.Grad

	// Each output unit owns its weight row, so units split cleanly
	parallelFor(l.workers, l.Out, func(lo, hi int) {
		for o := lo; o < hi; o++ {
			dwo := dw[o*l.In : (o+1)*l.In]
			for r := range rows {
				g := grad.Data[r*l.Out+o]
				if g == 0 {
					continue
				}
				db[o] += g
				axpy(g, x.Row(r), dwo)
			}
		}
	})

	dx := NewTensor(rows, l.In)
	parallelFor(l.workers, rows, func(lo, hi int) {
		for r := lo; r < hi; r++ {
			dxr := dx.Row(r)
			gr := grad.Row(r)
			for o, g := range gr {
				if g != 0 {
					axpy(g, w[o*l.In:(o+1)*l.In], dxr)
				}
			}
		}
	})
	return dx, nil
}

func (l *Linear) Params() []*Param { return []*Param{l.W, l.B} }

// ReLU clamps negative activations to zero.
type ReLU struct {
	mask []bool
}

func (a *ReLU) Forward(x *Tensor) (*Tensor, error) {
	y := x.Clone()
	a.mask = make([]bool, len(y.Data))
	for i, v := range y.Data {
		if v > 0 {
			a.mask[i] = true
		} else {
			y.Data[i] = 0
		}
	}
	return y, nil
}

func (a *ReLU) Backward(grad *Tensor) (*Tensor, error) {
	if len(grad.Data) != len(a.mask) {
		return nil, fmt.Errorf("nn: relu gradient has %d values, want %d", len(grad.Data), len(a.mask))
	}
	dx := grad.Clone()
	for i, on := range a.mask {
		if !on {
			dx.Data[i] = 0
		}
	}
	return dx, nil
}

func (a *ReLU) Params() []*Param { return nil }

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// axpy computes y += alpha*x.
func axpy(alpha float32, x, y []float32) {
	for i := range x {
		y[i] += alpha * x[i]
	}
}
