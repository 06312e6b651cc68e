package features

import "math"

const (
	ImageMels = 128
	ImageSize = 224
)

// Image is a CHW float tensor.
type Image struct {
	Channels int
	Height   int
	Width    int
	Data     []float32
}

func (im Image) At(c, y, x int) float32 {
	return im.Data[(c*im.Height+y)*im.Width+x]
}

// SpectrogramImage renders a buffer as the CNN input: an HTK mel power
// spectrogram in dB, min-max normalised, bilinearly resized to size×size and
// repeated over three channels.
func SpectrogramImage(buf Buffer, size int) (Image, error) {
	if len(buf.Samples) == 0 {
		return Image{}, ErrEmptyAudio
	}
	if len(buf.Samples) < NFFT {
		return Image{}, ErrTooShort
	}
	sr := buf.SampleRate
	if sr <= 0 {
		sr = SampleRate
	}
	spec := STFT(buf.Samples, sr, NFFT, HopLength)
	db := powerToDB(MelSpectrogram(spec, ImageMels, MelHTK), 0)

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, row := range db {
		for _, v := range row {
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
	}
	for _, row := range db {
		for j, v := range row {
			row[j] = (v - lo) / (hi - lo + 1e-8)
		}
	}

	plane := resizeBilinear(db, size, size)
	im := Image{Channels: 3, Height: size, Width: size, Data: make([]float32, 3*size*size)}
	for c := 0; c < 3; c++ {
		copy(im.Data[c*size*size:], plane)
	}
	return im, nil
}

// resizeBilinear samples src at pixel centres (align_corners=false) and
// returns an outH×outW row-major plane.
func resizeBilinear(src [][]float64, outH, outW int) []float32 {
	inH := len(src)
	inW := len(src[0])
	out := make([]float32, outH*outW)
	sy := float64(inH) / float64(outH)
	sx := float64(inW) / float64(outW)
	for y := 0; y < outH; y++ {
		fy := math.Max(0, (float64(y)+0.5)*sy-0.5)
		y0 := min(int(fy), inH-1)
		y1 := min(y0+1, inH-1)
		wy := fy - float64(y0)
		for x := 0; x < outW; x++ {
			fx := math.Max(0, (float64(x)+0.5)*sx-0.5)
			x0 := min(int(fx), inW-1)
			x1 := min(x0+1, inW-1)
			wx := fx - float64(x0)
			top := src[y0][x0]*(1-wx) + src[y0][x1]*wx
			bot := src[y1][x0]*(1-wx) + src[y1][x1]*wx
			out[y*outW+x] = float32(top*(1-wy) + bot*wy)
		}
	}
	return out
}
