package classifier

import (
	"errors"
	"fmt"
	"math"
)

// Scaler standardises features as (x - mean) / scale.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Tree is one decision tree in flattened array form. A node whose left
// child is -1 is a leaf; Value holds its per-class weights.
type Tree struct {
	Left      []int       `json:"children_left"`
	Right     []int       `json:"children_right"`
	Feature   []int       `json:"feature"`
	Threshold []float64   `json:"threshold"`
	Value     [][]float64 `json:"value"`
}

// Forest is a tree ensemble whose prediction is the mean of the trees'
// normalised leaf distributions.
type Forest struct {
	Version     string   `json:"version"`
	Classes     []string `json:"classes"`
	NumFeatures int      `json:"n_features"`
	Scaler      *Scaler  `json:"scaler,omitempty"`
	Trees       []Tree   `json:"trees"`
	Accuracy    float64  `json:"accuracy,omitempty"`
}

var ErrInvalidModel = errors.New("invalid model")

// Validate checks array shapes and child indices so inference cannot
// index out of range or loop.
func (f *Forest) Validate() error {
	if len(f.Classes) == 0 || len(f.Trees) == 0 || f.NumFeatures <= 0 {
		return fmt.Errorf("%w: needs classes, trees and n_features", ErrInvalidModel)
	}
	if s := f.Scaler; s != nil && (len(s.Mean) != f.NumFeatures || len(s.Scale) != f.NumFeatures) {
		return fmt.Errorf("%w: scaler has %d/%d values for %d features", ErrInvalidModel, len(s.Mean), len(s.Scale), f.NumFeatures)
	}
	for i, t := range f.Trees {
		n := len(t.Left)
		if n == 0 || len(t.Right) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.Value) != n {
			return fmt.Errorf("%w: tree %d arrays differ in length", ErrInvalidModel, i)
		}
		for node := 0; node < n; node++ {
			l, r := t.Left[node], t.Right[node]
			if l == -1 {
				if len(t.Value[node]) != len(f.Classes) {
					return fmt.Errorf("%w: tree %d leaf %d has %d values", ErrInvalidModel, i, node, len(t.Value[node]))
				}
				continue
			}
			// children always follow their parent
			if l <= node || r <= node || l >= n || r >= n {
				return fmt.Errorf("%w: tree %d node %d has bad children", ErrInvalidModel, i, node)
			}
			if t.Feature[node] < 0 || t.Feature[node] >= f.NumFeatures {
				return fmt.Errorf("%w: tree %d node %d splits on feature %d", ErrInvalidModel, i, node, t.Feature[node])
			}
		}
	}
	return nil
}

// Proba returns the class distribution for x. NaN inputs are treated as 0.
func (f *Forest) Proba(x []float64) ([]float64, error) {
	if len(x) != f.NumFeatures {
		return nil, fmt.Errorf("%w: got %d features, want %d", ErrInvalidModel, len(x), f.NumFeatures)
	}
	in := make([]float64, len(x))
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		if f.Scaler != nil {
			if s := f.Scaler.Scale[i]; s != 0 {
				v = (v - f.Scaler.Mean[i]) / s
			} else {
				v -= f.Scaler.Mean[i]
			}
		}
		in[i] = v
	}

	out := make([]float64, len(f.Classes))
	for _, t := range f.Trees {
		node := 0
		for t.Left[node] != -1 {
			if in[t.Feature[node]] <= t.Threshold[node] {
				node = t.Left[node]
			} else {
				node = t.Right[node]
			}
		}
		leaf := t.Value[node]
		var sum float64
		for _, v := range leaf {
			sum += v
		}
		if sum <= 0 {
			continue
		}
		for c, v := range leaf {
			out[c] += v / sum
		}
	}
	for c := range out {
		out[c] /= float64(len(f.Trees))
	}
	return out, nil
}
