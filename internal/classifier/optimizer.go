package classifier

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-8

	// MaxGradNorm bounds the global gradient norm of every step.
	MaxGradNorm = 1.0
)

// Adam updates a StatusNet in place. Embedding rows use lazy moments: only the
// rows present in a batch are touched.
type Adam struct {
	lr              float64
	freezeEmbedding bool
	step            int

	mEmb, vEmb []float64
	mW, vW     []float64
	mB, vB     []float64
}

// NewAdam builds an optimizer for net. With freezeEmbedding the embedding
// table is excluded from the optimized parameters.
func NewAdam(net *StatusNet, lr float64, freezeEmbedding bool) *Adam {
	a := &Adam{
		lr:              lr,
		freezeEmbedding: freezeEmbedding,
		mW:              make([]float64, len(net.Weights)),
		vW:              make([]float64, len(net.Weights)),
		mB:              make([]float64, len(net.Bias)),
		vB:              make([]float64, len(net.Bias)),
	}
	if !freezeEmbedding {
		a.mEmb = make([]float64, len(net.Embedding))
		a.vEmb = make([]float64, len(net.Embedding))
	}
	return a
}

// Step runs forward, backward, clipping and one parameter update over batch
// and returns the batch loss measured before the update.
func (a *Adam) Step(net *StatusNet, batch []Sample) float64 {
	if len(batch) == 0 {
		return 0
	}
	loss, g := net.backward(batch)
	if a.freezeEmbedding {
		g.embedding = nil
	}
	g.clip(MaxGradNorm, !a.freezeEmbedding)

	a.step++
	c1 := 1 - math.Pow(adamBeta1, float64(a.step))
	c2 := 1 - math.Pow(adamBeta2, float64(a.step))

	a.update(net.Weights, g.weights, a.mW, a.vW, c1, c2)
	a.update(net.Bias, g.bias, a.mB, a.vB, c1, c2)

	d := net.EmbeddingDim
	for id, row := range g.embedding {
		lo, hi := id*d, (id+1)*d
		a.update(net.Embedding[lo:hi], row, a.mEmb[lo:hi], a.vEmb[lo:hi], c1, c2)
	}
	return loss
}

func (a *Adam) update(params, grads, m, v []float64, c1, c2 float64) {
	sq := make([]float64, len(grads))
	floats.MulTo(sq, grads, grads)

	floats.Scale(adamBeta1, m)
	floats.AddScaled(m, 1-adamBeta1, grads)
	floats.Scale(adamBeta2, v)
	floats.AddScaled(v, 1-adamBeta2, sq)

	for i := range params {
		params[i] -= a.lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + adamEpsilon)
	}
}
