package classifier

import (
	"fmt"
	"math"
)

// Layer kinds understood by Network.
const (
	LayerConv2D  = "conv2d"
	LayerReLU    = "relu"
	LayerMaxPool = "maxpool2d"
	LayerFlatten = "flatten"
	LayerLinear  = "linear"
	LayerDropout = "dropout"
)

// Layer is one step of a sequential network. Conv weights are laid out
// [out][in][k][k]; linear weights [out][in].
type Layer struct {
	Type        string    `json:"type"`
	InChannels  int       `json:"in_channels,omitempty"`
	OutChannels int       `json:"out_channels,omitempty"`
	Kernel      int       `json:"kernel_size,omitempty"`
	Padding     int       `json:"padding,omitempty"`
	InFeatures  int       `json:"in_features,omitempty"`
	OutFeatures int       `json:"out_features,omitempty"`
	Weight      []float32 `json:"weight,omitempty"`
	Bias        []float32 `json:"bias,omitempty"`
}

// Network is a small sequential image classifier.
type Network struct {
	Version   string   `json:"version"`
	Labels    []string `json:"labels"`
	InputSize int      `json:"input_size"`
	Channels  int      `json:"channels"`
	Layers    []Layer  `json:"layers"`
}

// tensor is CHW while spatial, and a flat vector (h = w = 1) after flatten.
type tensor struct {
	c, h, w int
	data    []float32
}

func (t tensor) at(c, y, x int) float32 { return t.data[(c*t.h+y)*t.w+x] }

// Validate walks the layer list with the declared input shape and checks
// every weight array against the shape flowing into it.
func (n *Network) Validate() error {
	if len(n.Labels) == 0 || n.InputSize <= 0 || n.Channels <= 0 {
		return fmt.Errorf("%w: needs labels, input_size and channels", ErrInvalidModel)
	}
	c, h, w := n.Channels, n.InputSize, n.InputSize
	flat := false
	for i, l := range n.Layers {
		switch l.Type {
		case LayerConv2D:
			if flat || l.InChannels != c || l.Kernel <= 0 {
				return fmt.Errorf("%w: layer %d conv expects %d channels", ErrInvalidModel, i, c)
			}
			if len(l.Weight) != l.OutChannels*l.InChannels*l.Kernel*l.Kernel || len(l.Bias) != l.OutChannels {
				return fmt.Errorf("%w: layer %d conv weight size", ErrInvalidModel, i)
			}
			c = l.OutChannels
			h = h + 2*l.Padding - l.Kernel + 1
			w = w + 2*l.Padding - l.Kernel + 1
			if h <= 0 || w <= 0 {
				return fmt.Errorf("%w: layer %d collapses the input", ErrInvalidModel, i)
			}
		case LayerMaxPool:
			if flat {
				return fmt.Errorf("%w: layer %d pools a flat tensor", ErrInvalidModel, i)
			}
			h, w = h/2, w/2
		case LayerFlatten:
			c, h, w = c*h*w, 1, 1
			flat = true
		case LayerLinear:
			if !flat || l.InFeatures != c {
				return fmt.Errorf("%w: layer %d linear expects %d inputs, got %d", ErrInvalidModel, i, l.InFeatures, c)
			}
			if len(l.Weight) != l.OutFeatures*l.InFeatures || len(l.Bias) != l.OutFeatures {
				return fmt.Errorf("%w: layer %d linear weight size", ErrInvalidModel, i)
			}
			c = l.OutFeatures
		case LayerReLU, LayerDropout:
		default:
			return fmt.Errorf("%w: layer %d has unknown type %q", ErrInvalidModel, i, l.Type)
		}
	}
	if !flat || c != len(n.Labels) {
		return fmt.Errorf("%w: network ends with %d outputs for %d labels", ErrInvalidModel, c, len(n.Labels))
	}
	return nil
}

// Forward returns softmax probabilities for a CHW input.
func (n *Network) Forward(channels, height, width int, data []float32) ([]float64, error) {
	if channels != n.Channels || height != n.InputSize || width != n.InputSize || len(data) != channels*height*width {
		return nil, fmt.Errorf("%w: input %dx%dx%d, want %dx%dx%d",
			ErrInvalidModel, channels, height, width, n.Channels, n.InputSize, n.InputSize)
	}
	t := tensor{c: channels, h: height, w: width, data: data}
	for _, l := range n.Layers {
		switch l.Type {
		case LayerConv2D:
			t = conv2d(t, l)
		case LayerReLU:
			out := make([]float32, len(t.data))
			for i, v := range t.data {
				out[i] = max(v, 0)
			}
			t.data = out
		case LayerMaxPool:
			t = maxPool2(t)
		case LayerFlatten:
			t = tensor{c: len(t.data), h: 1, w: 1, data: t.data}
		case LayerLinear:
			t = linear(t, l)
		}
	}
	return softmax(t.data), nil
}

func conv2d(in tensor, l Layer) tensor {
	k, p := l.Kernel, l.Padding
	oh := in.h + 2*p - k + 1
	ow := in.w + 2*p - k + 1
	out := tensor{c: l.OutChannels, h: oh, w: ow, data: make([]float32, l.OutChannels*oh*ow)}

	for oc := 0; oc < l.OutChannels; oc++ {
		plane := out.data[oc*oh*ow : (oc+1)*oh*ow]
		for i := range plane {
			plane[i] = l.Bias[oc]
		}
		for ic := 0; ic < l.InChannels; ic++ {
			kern := l.Weight[(oc*l.InChannels+ic)*k*k : (oc*l.InChannels+ic+1)*k*k]
			for ky := 0; ky < k; ky++ {
				for kx := 0; kx < k; kx++ {
					wt := kern[ky*k+kx]
					if wt == 0 {
						continue
					}
					for y := 0; y < oh; y++ {
						iy := y + ky - p
						if iy < 0 || iy >= in.h {
							continue
						}
						row := in.data[(ic*in.h+iy)*in.w : (ic*in.h+iy+1)*in.w]
						dst := plane[y*ow : (y+1)*ow]
						for x := 0; x < ow; x++ {
							ix := x + kx - p
							if ix < 0 || ix >= in.w {
								continue
							}
							dst[x] += wt * row[ix]
						}
					}
				}
			}
		}
	}
	return out
}

// maxPool2 is a 2x2 stride-2 pool; odd trailing rows and columns are dropped.
func maxPool2(in tensor) tensor {
	oh, ow := in.h/2, in.w/2
	out := tensor{c: in.c, h: oh, w: ow, data: make([]float32, in.c*oh*ow)}
	for c := 0; c < in.c; c++ {
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				m := in.at(c, 2*y, 2*x)
				m = max(m, in.at(c, 2*y, 2*x+1), in.at(c, 2*y+1, 2*x), in.at(c, 2*y+1, 2*x+1))
				out.data[(c*oh+y)*ow+x] = m
			}
		}
	}
	return out
}

func linear(in tensor, l Layer) tensor {
	out := make([]float32, l.OutFeatures)
	for o := 0; o < l.OutFeatures; o++ {
		row := l.Weight[o*l.InFeatures : (o+1)*l.InFeatures]
		sum := l.Bias[o]
		for i, v := range in.data {
			sum += row[i] * v
		}
		out[o] = sum
	}
	return tensor{c: l.OutFeatures, h: 1, w: 1, data: out}
}

func softmax(logits []float32) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	peak := math.Inf(-1)
	for _, v := range logits {
		peak = math.Max(peak, float64(v))
	}
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(float64(v) - peak)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
