package nn

import (
	"fmt"
	"math"
	"strings"
)

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	ZeroGrad()
	Step() error
	SetLearningRate(lr float64)
	LearningRate() float64
}

// OptimizerFactory builds a fresh optimizer, with empty state, over params.
type OptimizerFactory func(params []*Param, lr float64) Optimizer

// OptimizerByName maps the configured optimizer name to a factory.
func OptimizerByName(name string, momentum float64) (OptimizerFactory, error) {
	switch strings.ToLower(name) {
	case "", "adam":
		return func(params []*Param, lr float64) Optimizer { return NewAdam(params, lr) }, nil
	case "sgd":
		return func(params []*Param, lr float64) Optimizer { return NewSGD(params, lr, momentum) }, nil
	default:
		return nil, fmt.Errorf("nn: unknown optimizer %q", name)
	}
}

// Adam hyperparameters.
const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-8
)

// Adam implements the Adam optimizer with bias-corrected moments.
type Adam struct {
	params []*Param
	lr     float64
	step   int
	m, v   [][]float32
}

// NewAdam returns an Adam optimizer over params.
func NewAdam(params []*Param, lr float64) *Adam {
	a := &Adam{params: params, lr: lr}
	for _, p := range params {
		a.m = append(a.m, make([]float32, p.Size()))
		a.v = append(a.v, make([]float32, p.Size()))
	}
	return a
}

func (a *Adam) ZeroGrad() { ZeroGrad(a.params) }

func (a *Adam) Step() error {
	a.step++
	c1 := 1 - math.Pow(adamBeta1, float64(a.step))
	c2 := 1 - math.Pow(adamBeta2, float64(a.step))
	stepSize := a.lr * math.Sqrt(c2) / c1

	for i, p := range a.params {
		m, v := a.m[i], a.v[i]
		for j, g := range p.Grad {
			if math.IsNaN(float64(g)) {
				return fmt.Errorf("nn: NaN gradient in %s", p.Name)
			}
			m[j] = adamBeta1*m[j] + (1-adamBeta1)*g
			v[j] = adamBeta2*v[j] + (1-adamBeta2)*g*g
			p.Value[j] -= float32(stepSize * float64(m[j]) / (math.Sqrt(float64(v[j])) + adamEpsilon))
		}
	}
	return nil
}

func (a *Adam) SetLearningRate(lr float64) { a.lr = lr }
func (a *Adam) LearningRate() float64      { return a.lr }

// Steps is the number of updates applied so far.
func (a *Adam) Steps() int { return a.step }

// SGD is stochastic gradient descent with classical momentum.
type SGD struct {
	params   []*Param
	lr       float64
	momentum float64
	velocity [][]float32
}

// NewSGD returns an SGD optimizer. momentum 0 disables the velocity term.
func NewSGD(params []*Param, lr, momentum float64) *SGD {
	s := &SGD{params: params, lr: lr, momentum: momentum}
	for _, p := range params {
		s.velocity = append(s.velocity, make([]float32, p.Size()))
	}
	return s
}

func (s *SGD) ZeroGrad() { ZeroGrad(s.params) }

func (s *SGD) Step() error {
	mu, lr := float32(s.momentum), float32(s.lr)
	for i, p := range s.params {
		vel := s.velocity[i]
		for j, g := range p.Grad {
			if math.IsNaN(float64(g)) {
				return fmt.Errorf("nn: NaN gradient in %s", p.Name)
			}
			vel[j] = mu*vel[j] + g
			p.Value[j] -= lr * vel[j]
		}
	}
	return nil
}

func (s *SGD) SetLearningRate(lr float64) { s.lr = lr }
func (s *SGD) LearningRate() float64      { return s.lr }
