// Package nn holds the small pure-Go models the trainer drives: a row-major
// tensor, dense layers, optimizers and loss functions.
//
// A batch is a 2-D tensor of shape [batch, features]. Images are flattened
// CHW before they reach a model.
package nn

import (
	"fmt"
	"slices"
)

// Tensor is a dense row-major float32 array.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor allocates a zeroed tensor of the given shape.
func NewTensor(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Tensor{Shape: slices.Clone(shape), Data: make([]float32, n)}
}

// FromRows stacks equal-length rows into a [len(rows), cols] tensor.
func FromRows(rows [][]float32) (*Tensor, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("nn: no rows")
	}
	cols := len(rows[0])
	t := NewTensor(len(rows), cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("nn: row %d has %d values, want %d", i, len(r), cols)
		}
		copy(t.Data[i*cols:], r)
	}
	return t, nil
}

// Rows is the batch dimension.
func (t *Tensor) Rows() int { return t.Shape[0] }

// Cols is the number of values per row.
func (t *Tensor) Cols() int {
	if len(t.Shape) < 2 {
		return 1
	}
	return len(t.Data) / t.Shape[0]
}

// Row returns row i as a slice aliasing the tensor data.
func (t *Tensor) Row(i int) []float32 {
	c := t.Cols()
	return t.Data[i*c : (i+1)*c]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{Shape: slices.Clone(t.Shape), Data: slices.Clone(t.Data)}
}

func sameShape(a, b *Tensor) error {
	if len(a.Data) != len(b.Data) || a.Rows() != b.Rows() {
		return fmt.Errorf("nn: shape mismatch %v vs %v", a.Shape, b.Shape)
	}
	return nil
}

// Param is a trainable parameter with its accumulated gradient.
type Param struct {
	Name  string
	Shape []int
	Value []float32
	Grad  []float32
}

func newParam(name string, shape ...int) *Param {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Param{
		Name:  name,
		Shape: slices.Clone(shape),
		Value: make([]float32, n),
		Grad:  make([]float32, n),
	}
}

// Size is the number of values in the parameter.
func (p *Param) Size() int { return len(p.Value) }
