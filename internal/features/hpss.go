package features

import (
	"slices"
)

const hpssKernel = 31

// HPSS splits the signal into harmonic and percussive parts by median
// filtering the magnitude spectrogram across time and across frequency,
// then soft-masking the complex STFT. Both outputs have length samples.
func HPSS(spec *Spectrogram, length int) (harmonic, percussive []float64) {
	frames := len(spec.Frames)
	if frames == 0 {
		return make([]float64, length), make([]float64, length)
	}
	bins := len(spec.Frames[0])
	mag := spec.Magnitude()

	h := make([][]float64, frames)
	p := make([][]float64, frames)
	for t := range h {
		h[t] = make([]float64, bins)
		p[t] = medianFilter(mag[t], hpssKernel)
	}
	series := make([]float64, frames)
	for k := 0; k < bins; k++ {
		for t := 0; t < frames; t++ {
			series[t] = mag[t][k]
		}
		filtered := medianFilter(series, hpssKernel)
		for t := 0; t < frames; t++ {
			h[t][k] = filtered[t]
		}
	}

	hf := make([][]complex128, frames)
	pf := make([][]complex128, frames)
	for t := 0; t < frames; t++ {
		hf[t] = make([]complex128, bins)
		pf[t] = make([]complex128, bins)
		for k := 0; k < bins; k++ {
			hh, pp := h[t][k]*h[t][k], p[t][k]*p[t][k]
			total := hh + pp
			if total <= 0 {
				continue
			}
			x := spec.Frames[t][k]
			hf[t][k] = x * complex(hh/total, 0)
			pf[t][k] = x * complex(pp/total, 0)
		}
	}
	return ISTFT(hf, spec.NFFT, spec.Hop, length), ISTFT(pf, spec.NFFT, spec.Hop, length)
}

// medianFilter applies a centred median with half-sample symmetric edges.
func medianFilter(x []float64, size int) []float64 {
	n := len(x)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	half := size / 2
	win := make([]float64, size)
	for i := range x {
		for j := -half; j <= half; j++ {
			win[j+half] = x[symmetric(i+j, n)]
		}
		slices.Sort(win)
		out[i] = win[half]
	}
	return out
}

func symmetric(i, n int) int {
	for i < 0 || i >= n {
		if i < 0 {
			i = -i - 1
		}
		if i >= n {
			i = 2*n - i - 1
		}
	}
	return i
}
