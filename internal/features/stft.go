package features

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	NFFT      = 2048
	HopLength = 512
)

// Spectrogram holds the complex STFT, one row per frame with NFFT/2+1 bins.
type Spectrogram struct {
	Frames     [][]complex128
	NFFT       int
	Hop        int
	SampleRate int
}

// STFT computes a centred short-time Fourier transform with a periodic Hann
// window; the signal is reflect-padded by nFFT/2 on both sides.
func STFT(x []float64, sampleRate, nFFT, hop int) *Spectrogram {
	s := &Spectrogram{NFFT: nFFT, Hop: hop, SampleRate: sampleRate}
	xp := reflectPad(x, nFFT/2)
	if len(xp) < nFFT {
		return s
	}

	n := 1 + (len(xp)-nFFT)/hop
	win := hann(nFFT)
	fft := fourier.NewFFT(nFFT)
	buf := make([]float64, nFFT)
	s.Frames = make([][]complex128, n)
	for t := 0; t < n; t++ {
		start := t * hop
		for k := 0; k < nFFT; k++ {
			buf[k] = xp[start+k] * win[k]
		}
		s.Frames[t] = fft.Coefficients(nil, buf)
	}
	return s
}

// ISTFT inverts frames produced by STFT and returns length samples.
func ISTFT(frames [][]complex128, nFFT, hop, length int) []float64 {
	if len(frames) == 0 {
		return make([]float64, length)
	}
	win := hann(nFFT)
	fft := fourier.NewFFT(nFFT)
	total := nFFT + hop*(len(frames)-1)
	y := make([]float64, total)
	wss := make([]float64, total)
	seq := make([]float64, nFFT)
	scale := 1 / float64(nFFT)

	for t, f := range frames {
		fft.Sequence(seq, f)
		start := t * hop
		for k := 0; k < nFFT; k++ {
			y[start+k] += seq[k] * scale * win[k]
			wss[start+k] += win[k] * win[k]
		}
	}
	for i := range y {
		if wss[i] > 1e-10 {
			y[i] /= wss[i]
		}
	}

	pad := nFFT / 2
	out := make([]float64, length)
	if pad < len(y) {
		copy(out, y[pad:])
	}
	return out
}

// Magnitude returns |X| per frame and bin.
func (s *Spectrogram) Magnitude() [][]float64 {
	out := make([][]float64, len(s.Frames))
	for t, f := range s.Frames {
		row := make([]float64, len(f))
		for k, c := range f {
			row[k] = math.Hypot(real(c), imag(c))
		}
		out[t] = row
	}
	return out
}

// Power returns |X|^2 per frame and bin.
func (s *Spectrogram) Power() [][]float64 {
	out := make([][]float64, len(s.Frames))
	for t, f := range s.Frames {
		row := make([]float64, len(f))
		for k, c := range f {
			row[k] = real(c)*real(c) + imag(c)*imag(c)
		}
		out[t] = row
	}
	return out
}

// Freqs is the centre frequency of each bin.
func (s *Spectrogram) Freqs() []float64 {
	return binFreqs(s.NFFT, s.SampleRate)
}

func binFreqs(nFFT, sampleRate int) []float64 {
	out := make([]float64, nFFT/2+1)
	for k := range out {
		out[k] = float64(k) * float64(sampleRate) / float64(nFFT)
	}
	return out
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// reflectPad mirrors pad samples at each end without repeating the edge.
func reflectPad(x []float64, pad int) []float64 {
	n := len(x)
	out := make([]float64, n+2*pad)
	copy(out[pad:], x)
	if n < 2 {
		return out
	}
	period := 2 * (n - 1)
	at := func(j int) float64 {
		j %= period
		if j < 0 {
			j += period
		}
		if j >= n {
			j = period - j
		}
		return x[j]
	}
	for i := 0; i < pad; i++ {
		out[pad-1-i] = at(-(i + 1))
		out[pad+n+i] = at(n + i)
	}
	return out
}

// frameSignal slices the centred signal into frameLen windows every hop,
// matching the STFT frame layout.
func frameSignal(x []float64, frameLen, hop int) [][]float64 {
	xp := reflectPad(x, frameLen/2)
	if len(xp) < frameLen {
		return nil
	}
	n := 1 + (len(xp)-frameLen)/hop
	out := make([][]float64, n)
	for t := range out {
		out[t] = xp[t*hop : t*hop+frameLen]
	}
	return out
}
