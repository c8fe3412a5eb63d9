package ensemble

import (
	"encoding/json"
	"math"
	"os"

	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/features"
	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// Layer is one dense layer.  Weights is indexed [output][input].
type Layer struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`
}

// Network is a feed-forward regression network exported as JSON.
type Network struct {
	Name   string  `json:"name"`
	Layers []Layer `json:"layers"`
}

// LoadNetwork reads a network from path and checks the layer shapes chain.
func LoadNetwork(path string) (*Network, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeModelNotAvailable, "cannot read network").WithDetail(path)
	}
	var n Network
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeModelLoadFailed, "malformed network").WithDetail(path)
	}
	if err := n.validate(); err != nil {
		return nil, err.WithDetail(path)
	}
	return &n, nil
}

func (n *Network) validate() *errors.AppError {
	if len(n.Layers) == 0 {
		return errors.New(errors.ErrCodeModelLoadFailed, "network has no layers")
	}
	in := -1
	for i, l := range n.Layers {
		if len(l.Weights) == 0 || len(l.Weights) != len(l.Bias) {
			return errors.Newf(errors.ErrCodeModelLoadFailed, "layer %d has %d outputs and %d biases", i, len(l.Weights), len(l.Bias))
		}
		width := len(l.Weights[0])
		for _, w := range l.Weights {
			if len(w) != width {
				return errors.Newf(errors.ErrCodeModelLoadFailed, "layer %d weight matrix is ragged", i)
			}
		}
		if in >= 0 && width != in {
			return errors.Newf(errors.ErrCodeModelLoadFailed, "layer %d expects %d inputs, previous layer yields %d", i, width, in)
		}
		if _, ok := activations[l.Activation]; !ok {
			return errors.Newf(errors.ErrCodeModelLoadFailed, "layer %d has unknown activation %q", i, l.Activation)
		}
		in = len(l.Weights)
	}
	if in != 1 {
		return errors.Newf(errors.ErrCodeModelLoadFailed, "network output width is %d, want 1", in)
	}
	return nil
}

// InputWidth is the number of features the first layer consumes.
func (n *Network) InputWidth() int { return len(n.Layers[0].Weights[0]) }

// Predict runs every row of t through the network.
func (n *Network) Predict(t *features.Table) ([]float64, error) {
	if t.Width() != n.InputWidth() {
		return nil, errors.Newf(errors.ErrCodeInferenceFailed,
			"network %s expects %d inputs, table has %d columns", n.Name, n.InputWidth(), t.Width())
	}
	out := make([]float64, t.Rows)
	for r := 0; r < t.Rows; r++ {
		y := n.forward(t.Row(r))
		if math.IsNaN(y) || math.IsInf(y, 0) {
			return nil, errors.Newf(errors.ErrCodeInferenceFailed,
				"network %s produced a non-finite prediction for row %d", n.Name, r)
		}
		out[r] = y
	}
	return out, nil
}

func (n *Network) forward(input []float64) float64 {
	current := input
	for _, l := range n.Layers {
		act := activations[l.Activation]
		next := make([]float64, len(l.Weights))
		for j, w := range l.Weights {
			sum := l.Bias[j]
			for k, x := range current {
				sum += w[k] * x
			}
			next[j] = act(sum)
		}
		current = next
	}
	return current[0]
}

var activations = map[string]func(float64) float64{
	"":       identity,
	"linear": identity,
	"relu":   relu,
	"sigmoid": func(x float64) float64 {
		return 1.0 / (1.0 + math.Exp(-x))
	},
	"tanh": math.Tanh,
	"elu": func(x float64) float64 {
		if x > 0 {
			return x
		}
		return math.Exp(x) - 1
	},
}

func identity(x float64) float64 { return x }

func relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}
