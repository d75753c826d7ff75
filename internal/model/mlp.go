package model

import (
	"math"
	"math/rand"
)

// layer is a dense layer with Adam moment buffers.
type layer struct {
	in, out int
	w       []float64 // out x in, row-major
	b       []float64

	mw, vw []float64
	mb, vb []float64
}

func newLayer(in, out int, rng *rand.Rand) *layer {
	l := &layer{
		in:  in,
		out: out,
		w:   make([]float64, in*out),
		b:   make([]float64, out),
		mw:  make([]float64, in*out),
		vw:  make([]float64, in*out),
		mb:  make([]float64, out),
		vb:  make([]float64, out),
	}
	// Glorot uniform
	limit := math.Sqrt(6 / float64(in+out))
	for i := range l.w {
		l.w[i] = (rng.Float64()*2 - 1) * limit
	}
	return l
}

func (l *layer) forward(x, z []float64) {
	for o := 0; o < l.out; o++ {
		sum := l.b[o]
		row := l.w[o*l.in : (o+1)*l.in]
		for i, xi := range x {
			sum += row[i] * xi
		}
		z[o] = sum
	}
}

// network is a feed-forward regressor: ReLU hidden layers, linear output,
// inverted dropout after the first hidden layer while training.
type network struct {
	layers  []*layer
	dropout float64
}

func newNetwork(sizes []int, dropout float64, rng *rand.Rand) *network {
	n := &network{dropout: dropout}
	for i := 0; i+1 < len(sizes); i++ {
		n.layers = append(n.layers, newLayer(sizes[i], sizes[i+1], rng))
	}
	return n
}

// predict runs an inference pass. Dropout is disabled.
func (n *network) predict(x []float64) float64 {
	a := x
	for li, l := range n.layers {
		z := make([]float64, l.out)
		l.forward(a, z)
		if li < len(n.layers)-1 {
			relu(z)
		}
		a = z
	}
	return a[0]
}

// adam holds optimizer hyperparameters and the step counter.
type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
}

func newAdam(lr float64) *adam {
	return &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-7}
}

func (o *adam) step(params, grads, m, v []float64, c1, c2 float64) {
	for i, g := range grads {
		m[i] = o.beta1*m[i] + (1-o.beta1)*g
		v[i] = o.beta2*v[i] + (1-o.beta2)*g*g
		mHat := m[i] / c1
		vHat := v[i] / c2
		params[i] -= o.lr * mHat / (math.Sqrt(vHat) + o.eps)
	}
}

// trainBatch runs one forward/backward pass over a batch with mean squared
// error loss and applies an Adam update. It returns the batch loss.
func (n *network) trainBatch(xs [][]float64, ys []float64, opt *adam, rng *rand.Rand) float64 {
	L := len(n.layers)
	gw := make([][]float64, L)
	gb := make([][]float64, L)
	for i, l := range n.layers {
		gw[i] = make([]float64, len(l.w))
		gb[i] = make([]float64, len(l.b))
	}

	batch := float64(len(xs))
	var loss float64

	for s, x := range xs {
		// acts[i] is the input to layer i; zs[i] its pre-activation.
		acts := make([][]float64, L+1)
		zs := make([][]float64, L)
		acts[0] = x
		var mask []float64

		for i, l := range n.layers {
			z := make([]float64, l.out)
			l.forward(acts[i], z)
			zs[i] = z
			a := make([]float64, l.out)
			copy(a, z)
			if i < L-1 {
				relu(a)
			}
			if i == 0 && L > 1 && n.dropout > 0 {
				mask = dropoutMask(l.out, n.dropout, rng)
				for j := range a {
					a[j] *= mask[j]
				}
			}
			acts[i+1] = a
		}

		diff := acts[L][0] - ys[s]
		loss += diff * diff

		delta := []float64{2 * diff / batch}
		for i := L - 1; i >= 0; i-- {
			l := n.layers[i]
			in := acts[i]
			for o := 0; o < l.out; o++ {
				gb[i][o] += delta[o]
				row := gw[i][o*l.in : (o+1)*l.in]
				for k, ak := range in {
					row[k] += delta[o] * ak
				}
			}
			if i == 0 {
				break
			}
			prev := make([]float64, l.in)
			for o := 0; o < l.out; o++ {
				row := l.w[o*l.in : (o+1)*l.in]
				for k := range prev {
					prev[k] += row[k] * delta[o]
				}
			}
			if i == 1 && mask != nil {
				for k := range prev {
					prev[k] *= mask[k]
				}
			}
			for k := range prev {
				if zs[i-1][k] <= 0 {
					prev[k] = 0
				}
			}
			delta = prev
		}
	}

	opt.t++
	c1 := 1 - math.Pow(opt.beta1, float64(opt.t))
	c2 := 1 - math.Pow(opt.beta2, float64(opt.t))
	for i, l := range n.layers {
		opt.step(l.w, gw[i], l.mw, l.vw, c1, c2)
		opt.step(l.b, gb[i], l.mb, l.vb, c1, c2)
	}

	return loss / batch
}

func relu(v []float64) {
	for i, x := range v {
		if x < 0 {
			v[i] = 0
		}
	}
}

func dropoutMask(n int, rate float64, rng *rand.Rand) []float64 {
	mask := make([]float64, n)
	keep := 1 / (1 - rate)
	for i := range mask {
		if rng.Float64() >= rate {
			mask[i] = keep
		}
	}
	return mask
}
