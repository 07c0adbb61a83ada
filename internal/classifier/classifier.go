// Package classifier implements StatusNet, a small trainable text classifier:
// mean-pooled word embeddings followed by a linear softmax layer.
package classifier

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// Sample is one encoded training example.
type Sample struct {
	IDs   []int
	Label int
}

// Config sizes a new network.
type Config struct {
	VocabSize    int
	EmbeddingDim int
	NumClasses   int
	Seed         int64
}

type StatusNet struct {
	VocabSize    int
	EmbeddingDim int
	Classes      int

	Embedding []float64 // VocabSize x EmbeddingDim, row 0 stays zero (PAD)
	Weights   []float64 // Classes x EmbeddingDim
	Bias      []float64 // Classes
}

func New(cfg Config) (*StatusNet, error) {
	if cfg.VocabSize < 2 || cfg.EmbeddingDim < 1 || cfg.NumClasses < 1 {
		return nil, fmt.Errorf("invalid network size: vocab=%d dim=%d classes=%d",
			cfg.VocabSize, cfg.EmbeddingDim, cfg.NumClasses)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	n := &StatusNet{
		VocabSize:    cfg.VocabSize,
		EmbeddingDim: cfg.EmbeddingDim,
		Classes:      cfg.NumClasses,
		Embedding:    make([]float64, cfg.VocabSize*cfg.EmbeddingDim),
		Weights:      make([]float64, cfg.NumClasses*cfg.EmbeddingDim),
		Bias:         make([]float64, cfg.NumClasses),
	}
	for i := cfg.EmbeddingDim; i < len(n.Embedding); i++ {
		n.Embedding[i] = rng.NormFloat64() * 0.1
	}
	limit := math.Sqrt(6.0 / float64(cfg.EmbeddingDim+cfg.NumClasses))
	for i := range n.Weights {
		n.Weights[i] = (rng.Float64()*2 - 1) * limit
	}
	return n, nil
}

func (n *StatusNet) NumClasses() int {
	return n.Classes
}

// Logits runs a forward pass. Out-of-range ids are treated as padding.
func (n *StatusNet) Logits(ids []int) []float64 {
	logits, _, _ := n.forward(ids)
	return logits
}

// Predict returns the arg-max class and its softmax probability.
func (n *StatusNet) Predict(ids []int) (int, float64) {
	return ArgMax(Softmax(n.Logits(ids)))
}

func (n *StatusNet) forward(ids []int) (logits, hidden []float64, used []int) {
	d := n.EmbeddingDim
	hidden = make([]float64, d)
	used = make([]int, 0, len(ids))
	for _, id := range ids {
		if id <= 0 || id >= n.VocabSize {
			continue
		}
		used = append(used, id)
		floats.Add(hidden, n.Embedding[id*d:(id+1)*d])
	}
	if len(used) > 0 {
		floats.Scale(1/float64(len(used)), hidden)
	}

	logits = make([]float64, n.Classes)
	for c := 0; c < n.Classes; c++ {
		logits[c] = n.Bias[c] + floats.Dot(n.Weights[c*d:(c+1)*d], hidden)
	}
	return logits, hidden, used
}

// Loss is the mean cross-entropy over samples without touching the weights.
func (n *StatusNet) Loss(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	total := 0.0
	for _, s := range samples {
		logits, _, _ := n.forward(s.IDs)
		total += crossEntropy(Softmax(logits), s.Label)
	}
	return total / float64(len(samples))
}

// gradients mirrors the parameter layout; embedding rows are sparse.
type gradients struct {
	embedding map[int][]float64
	weights   []float64
	bias      []float64
}

func (n *StatusNet) backward(samples []Sample) (float64, *gradients) {
	d := n.EmbeddingDim
	g := &gradients{
		embedding: make(map[int][]float64),
		weights:   make([]float64, len(n.Weights)),
		bias:      make([]float64, len(n.Bias)),
	}
	scale := 1 / float64(len(samples))
	total := 0.0

	for _, s := range samples {
		logits, hidden, used := n.forward(s.IDs)
		probs := Softmax(logits)
		total += crossEntropy(probs, s.Label)

		dHidden := make([]float64, d)
		for c, p := range probs {
			dl := p
			if c == s.Label {
				dl -= 1
			}
			dl *= scale
			g.bias[c] += dl
			floats.AddScaled(g.weights[c*d:(c+1)*d], dl, hidden)
			floats.AddScaled(dHidden, dl, n.Weights[c*d:(c+1)*d])
		}

		if len(used) == 0 {
			continue
		}
		inv := 1 / float64(len(used))
		for _, id := range used {
			row, ok := g.embedding[id]
			if !ok {
				row = make([]float64, d)
				g.embedding[id] = row
			}
			floats.AddScaled(row, inv, dHidden)
		}
	}
	return total * scale, g
}

// clip rescales g so that its global L2 norm is at most maxNorm.
func (g *gradients) clip(maxNorm float64, includeEmbedding bool) {
	sq := math.Pow(floats.Norm(g.weights, 2), 2) + math.Pow(floats.Norm(g.bias, 2), 2)
	if includeEmbedding {
		for _, row := range g.embedding {
			sq += math.Pow(floats.Norm(row, 2), 2)
		}
	}
	norm := math.Sqrt(sq)
	if norm <= maxNorm || norm == 0 {
		return
	}
	f := maxNorm / norm
	floats.Scale(f, g.weights)
	floats.Scale(f, g.bias)
	for _, row := range g.embedding {
		floats.Scale(f, row)
	}
}

// Validate checks that the parameter slices match the declared sizes.
func (n *StatusNet) Validate() error {
	switch {
	case n.VocabSize < 2 || n.EmbeddingDim < 1 || n.Classes < 1:
		return errors.New("invalid network dimensions")
	case len(n.Embedding) != n.VocabSize*n.EmbeddingDim:
		return fmt.Errorf("embedding has %d values, want %d", len(n.Embedding), n.VocabSize*n.EmbeddingDim)
	case len(n.Weights) != n.Classes*n.EmbeddingDim:
		return fmt.Errorf("weights have %d values, want %d", len(n.Weights), n.Classes*n.EmbeddingDim)
	case len(n.Bias) != n.Classes:
		return fmt.Errorf("bias has %d values, want %d", len(n.Bias), n.Classes)
	}
	return nil
}

// Save writes the network state in gob format.
func (n *StatusNet) Save(w io.Writer) error {
	return gob.NewEncoder(w).Encode(n)
}

// Load reads a network written by Save.
func Load(r io.Reader) (*StatusNet, error) {
	var n StatusNet
	if err := gob.NewDecoder(r).Decode(&n); err != nil {
		return nil, err
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return &n, nil
}

// Softmax is numerically stable for large logits.
func Softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	lse := floats.LogSumExp(logits)
	for i, l := range logits {
		out[i] = math.Exp(l - lse)
	}
	return out
}

// ArgMax returns the index and value of the largest element; ties go to the lowest index.
func ArgMax(xs []float64) (int, float64) {
	if len(xs) == 0 {
		return -1, math.Inf(-1)
	}
	best := floats.MaxIdx(xs)
	return best, xs[best]
}

func crossEntropy(probs []float64, label int) float64 {
	if label < 0 || label >= len(probs) {
		return 0
	}
	return -math.Log(math.Max(probs[label], 1e-12))
}
