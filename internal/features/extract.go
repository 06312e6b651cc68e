package features

import (
	"fmt"
	"math"
)

// NumFeatures is the length of the classifier input vector.
const NumFeatures = 57

const (
	numMFCC    = 20
	numMelMFCC = 128
	rolloffPct = 0.85
	topDB      = 80
)

// FeatureNames lists the vector layout, in order.
var FeatureNames = func() [NumFeatures]string {
	var n [NumFeatures]string
	base := []string{
		"chroma_stft", "rms", "spectral_centroid", "spectral_bandwidth",
		"rolloff", "zero_crossing_rate", "harmony", "perceptr",
	}
	i := 0
	for _, b := range base {
		n[i], n[i+1] = b+"_mean", b+"_var"
		i += 2
	}
	n[i] = "tempo"
	i++
	for c := 1; c <= numMFCC; c++ {
		n[i], n[i+1] = fmt.Sprintf("mfcc%d_mean", c), fmt.Sprintf("mfcc%d_var", c)
		i += 2
	}
	return n
}()

// Vector is one feature row in FeatureNames order.
type Vector [NumFeatures]float64

// Extract computes the feature vector of a mono buffer at SampleRate.
// Non-finite values are replaced with zero.
func Extract(buf Buffer) (Vector, error) {
	var v Vector
	if len(buf.Samples) == 0 {
		return v, ErrEmptyAudio
	}
	if len(buf.Samples) < NFFT {
		return v, ErrTooShort
	}
	sr := buf.SampleRate
	if sr <= 0 {
		sr = SampleRate
	}

	spec := STFT(buf.Samples, sr, NFFT, HopLength)
	mag := spec.Magnitude()
	power := spec.Power()
	freqs := spec.Freqs()

	i := 0
	put := func(xs []float64) {
		v[i], v[i+1] = meanVar(xs)
		i += 2
	}

	put(flatten(chroma(power, freqs)))
	put(rms(buf.Samples))

	centroid := spectralCentroid(mag, freqs)
	put(centroid)
	put(spectralBandwidth(mag, freqs, centroid))
	put(spectralRolloff(mag, freqs, rolloffPct))
	put(zeroCrossingRate(buf.Samples))

	harm, perc := HPSS(spec, len(buf.Samples))
	put(harm)
	put(perc)

	melPower := applyBank(melFilterBank(numMelMFCC, NFFT, sr, MelSlaney), power)
	melDB := powerToDB(melPower, topDB)
	v[i] = Tempo(melDB, sr, HopLength)
	i++

	for _, coef := range mfcc(melDB, numMFCC) {
		put(coef)
	}

	for k, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			v[k] = 0
		}
	}
	return v, nil
}

// meanVar is the mean and population variance.
func meanVar(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, ss / float64(len(xs))
}

func flatten(m [][]float64) []float64 {
	var out []float64
	for _, row := range m {
		out = append(out, row...)
	}
	return out
}

// chroma folds the power spectrum into 12 pitch classes per frame, each
// frame normalised by its maximum.
func chroma(power [][]float64, freqs []float64) [][]float64 {
	class := make([]int, len(freqs))
	for k, f := range freqs {
		if f <= 0 {
			class[k] = -1
			continue
		}
		midi := 12*math.Log2(f/440.0) + 69
		class[k] = ((int(math.Round(midi)) % 12) + 12) % 12
	}

	out := make([][]float64, len(power))
	for t, frame := range power {
		row := make([]float64, 12)
		for k, p := range frame {
			if class[k] >= 0 {
				row[class[k]] += p
			}
		}
		var peak float64
		for _, c := range row {
			peak = math.Max(peak, c)
		}
		if peak > 0 {
			for c := range row {
				row[c] /= peak
			}
		}
		out[t] = row
	}
	return out
}

func rms(x []float64) []float64 {
	frames := frameSignal(x, NFFT, HopLength)
	out := make([]float64, len(frames))
	for t, f := range frames {
		var ss float64
		for _, s := range f {
			ss += s * s
		}
		out[t] = math.Sqrt(ss / float64(len(f)))
	}
	return out
}

func zeroCrossingRate(x []float64) []float64 {
	frames := frameSignal(x, NFFT, HopLength)
	out := make([]float64, len(frames))
	for t, f := range frames {
		crossings := 0
		for k := 1; k < len(f); k++ {
			if math.Signbit(f[k]) != math.Signbit(f[k-1]) {
				crossings++
			}
		}
		out[t] = float64(crossings) / float64(len(f))
	}
	return out
}

func spectralCentroid(mag [][]float64, freqs []float64) []float64 {
	out := make([]float64, len(mag))
	for t, frame := range mag {
		var num, den float64
		for k, m := range frame {
			num += freqs[k] * m
			den += m
		}
		if den > 0 {
			out[t] = num / den
		}
	}
	return out
}

func spectralBandwidth(mag [][]float64, freqs, centroid []float64) []float64 {
	out := make([]float64, len(mag))
	for t, frame := range mag {
		var num, den float64
		for k, m := range frame {
			d := freqs[k] - centroid[t]
			num += m * d * d
			den += m
		}
		if den > 0 {
			out[t] = math.Sqrt(num / den)
		}
	}
	return out
}

func spectralRolloff(mag [][]float64, freqs []float64, pct float64) []float64 {
	out := make([]float64, len(mag))
	for t, frame := range mag {
		var total float64
		for _, m := range frame {
			total += m
		}
		threshold := pct * total
		var cum float64
		for k, m := range frame {
			cum += m
			if cum >= threshold {
				out[t] = freqs[k]
				break
			}
		}
	}
	return out
}

// mfcc applies an orthonormal DCT-II to each dB mel frame and returns
// [coef][frames].
func mfcc(melDB [][]float64, n int) [][]float64 {
	if len(melDB) == 0 {
		return make([][]float64, n)
	}
	nMels := len(melDB)
	frames := len(melDB[0])
	out := make([][]float64, n)
	for c := 0; c < n; c++ {
		scale := math.Sqrt(2 / float64(nMels))
		if c == 0 {
			scale = math.Sqrt(1 / float64(nMels))
		}
		row := make([]float64, frames)
		for t := 0; t < frames; t++ {
			var sum float64
			for m := 0; m < nMels; m++ {
				sum += melDB[m][t] * math.Cos(math.Pi*float64(c)*(float64(m)+0.5)/float64(nMels))
			}
			row[t] = sum * scale
		}
		out[c] = row
	}
	return out
}
