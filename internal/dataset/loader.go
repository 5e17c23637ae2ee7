package dataset

import (
	"fmt"
	"iter"
	"math/rand/v2"

	"github.com/tphakala/carnet-go/internal/nn"
)

// Batch is a stacked group of samples.
type Batch struct {
	Inputs  *nn.Tensor
	Targets *nn.Tensor
	Paths   []string
	Indices []int // dataset indices in batch order
}

// Size is the number of examples in the batch.
func (b Batch) Size() int { return len(b.Indices) }

// Loader groups a dataset into batches. With Shuffle the order is a
// permutation drawn from (Seed, epoch), so an epoch replays identically.
type Loader struct {
	Dataset   Dataset
	BatchSize int
	Shuffle   bool
	Seed      uint64
}

// Len returns the number of batches per epoch; the last may be short.
func (l *Loader) Len() int {
	if l.BatchSize <= 0 {
		return 0
	}
	return (l.Dataset.Len() + l.BatchSize - 1) / l.BatchSize
}

// Order returns the sample order for epoch.
func (l *Loader) Order(epoch int) []int {
	n := l.Dataset.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if l.Shuffle {
		rng := rand.New(rand.NewPCG(l.Seed, uint64(epoch)))
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return order
}

// Batches yields the batches of epoch. Iteration stops after the first error.
func (l *Loader) Batches(epoch int) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		if l.BatchSize <= 0 {
			yield(Batch{}, fmt.Errorf("batch size must be positive, got %d", l.BatchSize))
			return
		}

		order := l.Order(epoch)
		for start := 0; start < len(order); start += l.BatchSize {
			b, err := l.assemble(order[start:min(start+l.BatchSize, len(order))])
			if !yield(b, err) || err != nil {
				return
			}
		}
	}
}

func (l *Loader) assemble(indices []int) (Batch, error) {
	inputs := make([][]float32, len(indices))
	targets := make([][]float32, len(indices))
	paths := make([]string, len(indices))

	for k, idx := range indices {
		s, err := l.Dataset.Sample(idx)
		if err != nil {
			return Batch{}, err
		}
		inputs[k], targets[k], paths[k] = s.Input, s.Target, s.Path
	}

	x, err := nn.FromRows(inputs)
	if err != nil {
		return Batch{}, fmt.Errorf("stack inputs: %w", err)
	}
	y, err := nn.FromRows(targets)
	if err != nil {
		return Batch{}, fmt.Errorf("stack targets: %w", err)
	}

	return Batch{Inputs: x, Targets: y, Paths: paths, Indices: indices}, nil
}
