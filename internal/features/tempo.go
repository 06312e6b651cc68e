package features

import "math"

const (
	minBPM     = 30.0
	maxBPM     = 300.0
	priorBPM   = 120.0
	priorWidth = 1.0 // octaves
)

// OnsetStrength is the mean positive first difference of a dB mel
// spectrogram ([mels][frames]) across mel bands.
func OnsetStrength(melDB [][]float64) []float64 {
	if len(melDB) == 0 || len(melDB[0]) < 2 {
		return nil
	}
	frames := len(melDB[0])
	out := make([]float64, frames)
	for _, band := range melDB {
		for t := 1; t < frames; t++ {
			if d := band[t] - band[t-1]; d > 0 {
				out[t] += d
			}
		}
	}
	for t := range out {
		out[t] /= float64(len(melDB))
	}
	return out
}

// Tempo estimates beats per minute from the onset envelope's
// autocorrelation, weighted by a log-normal prior around 120 BPM. It
// returns 0 when the clip is too short to hold two beats.
func Tempo(melDB [][]float64, sampleRate, hop int) float64 {
	env := OnsetStrength(melDB)
	if len(env) == 0 {
		return 0
	}
	mean, _ := meanVar(env)
	for i := range env {
		env[i] -= mean
	}

	framesPerMin := 60 * float64(sampleRate) / float64(hop)
	minLag := int(math.Floor(framesPerMin / maxBPM))
	maxLag := int(math.Ceil(framesPerMin / minBPM))
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= len(env) {
		maxLag = len(env) - 1
	}
	if maxLag < minLag {
		return 0
	}

	bestLag, bestScore := 0, math.Inf(-1)
	for lag := minLag; lag <= maxLag; lag++ {
		var ac float64
		for t := lag; t < len(env); t++ {
			ac += env[t] * env[t-lag]
		}
		bpm := framesPerMin / float64(lag)
		z := math.Log2(bpm/priorBPM) / priorWidth
		score := ac * math.Exp(-0.5*z*z)
		if score > bestScore {
			bestLag, bestScore = lag, score
		}
	}
	if bestLag == 0 || bestScore <= 0 {
		return 0
	}
	return framesPerMin / float64(bestLag)
}
