package nn

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

// Model is the network the trainer drives.
type Model interface {
	// Name identifies the architecture; checkpoints record it.
	Name() string
	Forward(x *Tensor) (*Tensor, error)
	// Backward propagates dL/dout through the last Forward and
	// accumulates gradients into Params.
	Backward(grad *Tensor) error
	Params() []*Param
	// SetTraining switches between training and evaluation mode.
	SetTraining(training bool)
}

// Sequential chains layers.
type Sequential struct {
	name     string
	layers   []Layer
	training bool
}

// NewSequential builds a model from layers.
func NewSequential(name string, layers ...Layer) *Sequential {
	return &Sequential{name: name, layers: layers, training: true}
}

func (s *Sequential) Name() string { return s.name }

func (s *Sequential) Forward(x *Tensor) (*Tensor, error) {
	var err error
	for i, l := range s.layers {
		if x, err = l.Forward(x); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return x, nil
}

func (s *Sequential) Backward(grad *Tensor) error {
	var err error
	for i := len(s.layers) - 1; i >= 0; i-- {
		if grad, err = s.layers[i].Backward(grad); err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return nil
}

func (s *Sequential) Params() []*Param {
	var ps []*Param
	for _, l := range s.layers {
		ps = append(ps, l.Params()...)
	}
	return ps
}

func (s *Sequential) SetTraining(training bool) { s.training = training }

// Training reports the current mode.
func (s *Sequential) Training() bool { return s.training }

// NewMLP builds Linear+ReLU blocks of the given hidden widths followed by
// a Linear output layer. With no hidden layers it is a linear model.
func NewMLP(in int, hidden []int, out int, seed uint64, workers int) *Sequential {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	dims := make([]string, 0, len(hidden)+2)
	dims = append(dims, strconv.Itoa(in))

	var layers []Layer
	prev := in
	for i, h := range hidden {
		layers = append(layers, NewLinear(fmt.Sprintf("fc%d", i), prev, h, rng, workers), &ReLU{})
		dims = append(dims, strconv.Itoa(h))
		prev = h
	}
	layers = append(layers, NewLinear("out", prev, out, rng, workers))
	dims = append(dims, strconv.Itoa(out))

	kind := "mlp"
	if len(hidden) == 0 {
		kind = "linear"
	}
	return NewSequential(kind+"-"+strings.Join(dims, "-"), layers...)
}

// ZeroGrad clears the gradients of params.
func ZeroGrad(params []*Param) {
	for _, p := range params {
		clear(p.Grad)
	}
}
