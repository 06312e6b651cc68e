package features

import "math"

// MelScale selects the Hz↔mel conversion.
type MelScale int

const (
	// MelSlaney is linear below 1 kHz and logarithmic above, with area
	// normalised filters.
	MelSlaney MelScale = iota
	// MelHTK is 2595·log10(1 + f/700) with unnormalised filters.
	MelHTK
)

const (
	slaneyMinLogHz  = 1000.0
	slaneyLinStep   = 200.0 / 3
	slaneyMinLogMel = slaneyMinLogHz / slaneyLinStep
)

var slaneyLogStep = math.Log(6.4) / 27.0

func hzToMel(hz float64, scale MelScale) float64 {
	if scale == MelHTK {
		return 2595.0 * math.Log10(1.0+hz/700.0)
	}
	if hz < slaneyMinLogHz {
		return hz / slaneyLinStep
	}
	return slaneyMinLogMel + math.Log(hz/slaneyMinLogHz)/slaneyLogStep
}

func melToHz(mel float64, scale MelScale) float64 {
	if scale == MelHTK {
		return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
	}
	if mel < slaneyMinLogMel {
		return mel * slaneyLinStep
	}
	return slaneyMinLogHz * math.Exp(slaneyLogStep*(mel-slaneyMinLogMel))
}

// melFilterBank returns [numMels][nFFT/2+1] triangular filters spaced evenly
// on the mel scale between 0 Hz and Nyquist.
func melFilterBank(numMels, nFFT, sampleRate int, scale MelScale) [][]float64 {
	freqs := binFreqs(nFFT, sampleRate)
	lowMel := hzToMel(0, scale)
	highMel := hzToMel(float64(sampleRate)/2, scale)

	// numMels + 2 equally spaced mel points
	hz := make([]float64, numMels+2)
	step := (highMel - lowMel) / float64(numMels+1)
	for i := range hz {
		hz[i] = melToHz(lowMel+float64(i)*step, scale)
	}

	bank := make([][]float64, numMels)
	for m := 0; m < numMels; m++ {
		filter := make([]float64, len(freqs))
		lo, ctr, hi := hz[m], hz[m+1], hz[m+2]
		for k, f := range freqs {
			lower := (f - lo) / (ctr - lo)
			upper := (hi - f) / (hi - ctr)
			w := math.Max(0, math.Min(lower, upper))
			if scale == MelSlaney {
				w *= 2 / (hi - lo)
			}
			filter[k] = w
		}
		bank[m] = filter
	}
	return bank
}

// applyBank projects each power frame onto the filter bank: [mels][frames].
func applyBank(bank [][]float64, power [][]float64) [][]float64 {
	out := make([][]float64, len(bank))
	for m, filter := range bank {
		row := make([]float64, len(power))
		for t, frame := range power {
			var sum float64
			for k, w := range filter {
				if w != 0 {
					sum += w * frame[k]
				}
			}
			row[t] = sum
		}
		out[m] = row
	}
	return out
}

// powerToDB converts power to decibels relative to 1.0. When topDB > 0 the
// result is clipped to max-topDB.
func powerToDB(s [][]float64, topDB float64) [][]float64 {
	const amin = 1e-10
	out := make([][]float64, len(s))
	maxDB := math.Inf(-1)
	for i, row := range s {
		r := make([]float64, len(row))
		for j, v := range row {
			r[j] = 10 * math.Log10(math.Max(amin, v))
			maxDB = math.Max(maxDB, r[j])
		}
		out[i] = r
	}
	if topDB > 0 {
		floor := maxDB - topDB
		for _, row := range out {
			for j, v := range row {
				if v < floor {
					row[j] = floor
				}
			}
		}
	}
	return out
}

// MelSpectrogram returns the power mel spectrogram, [numMels][frames].
func MelSpectrogram(spec *Spectrogram, numMels int, scale MelScale) [][]float64 {
	bank := melFilterBank(numMels, spec.NFFT, spec.SampleRate, scale)
	return applyBank(bank, spec.Power())
}
