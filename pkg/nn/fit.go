package nn

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
)

// History records the mean training loss of every epoch.
type History struct {
	Loss []float64 `json:"loss"`
}

// Final returns the loss of the last epoch.
func (h History) Final() float64 {
	if len(h.Loss) == 0 {
		return math.NaN()
	}
	return h.Loss[len(h.Loss)-1]
}

// Fit trains the network on samples X with targets y using shuffled
// mini-batches. Gradients of a batch are computed concurrently and applied
// once. The context is checked between batches.
func (n *Network) Fit(ctx context.Context, X [][]float64, y []float64) (History, error) {
	var hist History
	if len(X) == 0 || len(X) != len(y) {
		return hist, fmt.Errorf("%w: %d samples, %d targets", ErrShape, len(X), len(y))
	}
	for i, s := range X {
		if len(s) != n.Input.Size() {
			return hist, fmt.Errorf("%w: sample %d has %d values, want %d", ErrShape, i, len(s), n.Input.Size())
		}
	}

	rng := rand.New(rand.NewSource(n.Topology.Seed))
	bs := n.Topology.BatchSize
	for epoch := 0; epoch < n.Topology.Epochs; epoch++ {
		order := rng.Perm(len(X))
		batchLoss := make([]float64, 0, len(order)/bs+1)
		weights := make([]float64, 0, cap(batchLoss))

		for start := 0; start < len(order); start += bs {
			if err := ctx.Err(); err != nil {
				return hist, err
			}
			end := start + bs
			if end > len(order) {
				end = len(order)
			}
			batch := order[start:end]
			seeds := make([]int64, len(batch))
			for i := range seeds {
				seeds[i] = rng.Int63()
			}

			loss, grads, err := n.batchGradients(ctx, X, y, batch, seeds)
			if err != nil {
				return hist, err
			}
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				return hist, fmt.Errorf("%w: epoch %d loss %v", ErrDiverged, epoch+1, loss)
			}
			n.Optimizer.Apply(n.Params(), grads)
			batchLoss = append(batchLoss, loss)
			weights = append(weights, float64(len(batch)))
		}

		mean, err := weightedMean(batchLoss, weights)
		if err != nil {
			return hist, err
		}
		hist.Loss = append(hist.Loss, mean)
	}
	return hist, nil
}

// batchGradients returns the batch MSE and its gradient averaged over the batch.
func (n *Network) batchGradients(ctx context.Context, X [][]float64, y []float64, batch []int, seeds []int64) (float64, [][]float64, error) {
	workers := n.Topology.workers()
	if workers > len(batch) {
		workers = len(batch)
	}
	partialGrads := make([][][]float64, workers)
	partialLoss := make([]float64, workers)

	g, gctx := errgroup.WithContext(ctx)
	chunk := (len(batch) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo, hi := w*chunk, (w+1)*chunk
		if hi > len(batch) {
			hi = len(batch)
		}
		if lo >= hi {
			continue
		}
		w := w
		g.Go(func() error {
			grads := n.zeroGrads()
			var sum float64
			for k := lo; k < hi; k++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				idx := batch[k]
				pred, tp := n.forward(X[idx], rand.New(rand.NewSource(seeds[k])))
				diff := pred - y[idx]
				sum += diff * diff
				n.backward(tp, 2*diff, grads)
			}
			partialGrads[w] = grads
			partialLoss[w] = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, nil, err
	}

	total := n.zeroGrads()
	var lossSum float64
	for w, grads := range partialGrads {
		if grads == nil {
			continue
		}
		lossSum += partialLoss[w]
		for i := range total {
			for k, v := range grads[i] {
				total[i][k] += v
			}
		}
	}
	scale := 1 / float64(len(batch))
	for i := range total {
		for k := range total[i] {
			total[i][k] *= scale
		}
	}
	return lossSum * scale, total, nil
}

func weightedMean(values, weights []float64) (float64, error) {
	products := make(stats.Float64Data, len(values))
	for i := range values {
		products[i] = values[i] * weights[i]
	}
	num, err := stats.Sum(products)
	if err != nil {
		return 0, err
	}
	den, err := stats.Sum(weights)
	if err != nil {
		return 0, err
	}
	return num / den, nil
}
