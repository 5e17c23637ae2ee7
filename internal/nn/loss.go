package nn

import (
	"fmt"
	"math"
	"strings"
)

// Loss scores a batch of predictions against targets.
type Loss interface {
	Name() string
	// Forward returns the reduced loss and dL/dpred.
	Forward(pred, target *Tensor) (float64, *Tensor, error)
}

// LossByName maps a configured loss name to its implementation.
func LossByName(name string) (Loss, error) {
	switch strings.ToLower(name) {
	case "", "smoothl1", "huber":
		return SmoothL1{Beta: 1}, nil
	case "mse":
		return MSE{}, nil
	case "crossentropy", "ce":
		return CrossEntropy{}, nil
	default:
		return nil, fmt.Errorf("nn: unknown loss %q", name)
	}
}

// SmoothL1 is the Huber loss with transition point Beta, averaged over
// every element.
type SmoothL1 struct {
	Beta float64
}

func (SmoothL1) Name() string { return "smoothl1" }

func (l SmoothL1) Forward(pred, target *Tensor) (float64, *Tensor, error) {
	if err := sameShape(pred, target); err != nil {
		return 0, nil, err
	}
	beta := l.Beta
	if beta <= 0 {
		beta = 1
	}
	n := float64(len(pred.Data))
	grad := NewTensor(pred.Shape...)

	var sum float64
	for i, p := range pred.Data {
		d := float64(p - target.Data[i])
		if math.Abs(d) < beta {
			sum += 0.5 * d * d / beta
			grad.Data[i] = float32(d / beta / n)
		} else {
			sum += math.Abs(d) - 0.5*beta
			grad.Data[i] = float32(math.Copysign(1, d) / n)
		}
	}
	return sum / n, grad, nil
}

// MSE is the mean squared error over every element.
type MSE struct{}

func (MSE) Name() string { return "mse" }

func (MSE) Forward(pred, target *Tensor) (float64, *Tensor, error) {
	if err := sameShape(pred, target); err != nil {
		return 0, nil, err
	}
	n := float64(len(pred.Data))
	grad := NewTensor(pred.Shape...)

	var sum float64
	for i, p := range pred.Data {
		d := float64(p - target.Data[i])
		sum += d * d
		grad.Data[i] = float32(2 * d / n)
	}
	return sum / n, grad, nil
}

// CrossEntropy applies softmax to logits and takes the negative log
// likelihood, averaged over the batch. Targets are either probability rows
// of the same width as pred, usually one-hot, or a single class index per row.
type CrossEntropy struct{}

func (CrossEntropy) Name() string { return "crossentropy" }

func (CrossEntropy) Forward(pred, target *Tensor) (float64, *Tensor, error) {
	rows, classes := pred.Rows(), pred.Cols()
	if target.Rows() != rows {
		return 0, nil, fmt.Errorf("nn: %d targets for %d predictions", target.Rows(), rows)
	}
	indexed := target.Cols() == 1 && classes > 1
	if !indexed && target.Cols() != classes {
		return 0, nil, fmt.Errorf("nn: target width %d does not match %d classes", target.Cols(), classes)
	}

	grad := NewTensor(pred.Shape...)
	probs := make([]float64, classes)

	var sum float64
	for r := range rows {
		softmax(pred.Row(r), probs)
		t := targetRow(target, r, classes, indexed)
		if t == nil {
			return 0, nil, fmt.Errorf("nn: class index %g out of range", target.Row(r)[0])
		}
		g := grad.Row(r)
		for c, p := range probs {
			if t[c] > 0 {
				sum -= float64(t[c]) * math.Log(max(p, 1e-12))
			}
			g[c] = float32((p - float64(t[c])) / float64(rows))
		}
	}
	return sum / float64(rows), grad, nil
}

func targetRow(target *Tensor, r, classes int, indexed bool) []float32 {
	if !indexed {
		return target.Row(r)
	}
	idx := int(target.Row(r)[0])
	if idx < 0 || idx >= classes {
		return nil
	}
	t := make([]float32, classes)
	t[idx] = 1
	return t
}

// softmax writes the numerically stable softmax of logits into out.
func softmax(logits []float32, out []float64) {
	m := math.Inf(-1)
	for _, v := range logits {
		m = math.Max(m, float64(v))
	}
	var z float64
	for i, v := range logits {
		out[i] = math.Exp(float64(v) - m)
		z += out[i]
	}
	for i := range out {
		out[i] /= z
	}
}

// Softmax returns class probabilities for a row of logits.
func Softmax(logits []float32) []float64 {
	out := make([]float64, len(logits))
	softmax(logits, out)
	return out
}
