package features

import (
	"math"
	"reflect"
	"testing"
)

func sine(freq, amp float64, seconds float64) Buffer {
	n := int(seconds * SampleRate)
	x := make([]float64, n)
	for i := range x {
		x[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/SampleRate)
	}
	return Buffer{Samples: x, SampleRate: SampleRate}
}

func TestReflectPad(t *testing.T) {
	got := reflectPad([]float64{1, 2, 3, 4}, 2)
	want := []float64{3, 2, 1, 2, 3, 4, 3, 2}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("reflectPad = %v, want %v", got, want)
	}
}

func TestSTFTRoundTrip(t *testing.T) {
	buf := sine(440, 0.5, 1)
	spec := STFT(buf.Samples, SampleRate, NFFT, HopLength)
	if len(spec.Frames) != 1+len(buf.Samples)/HopLength {
		t.Errorf("frames = %d", len(spec.Frames))
	}
	if len(spec.Frames[0]) != NFFT/2+1 {
		t.Errorf("bins = %d", len(spec.Frames[0]))
	}

	y := ISTFT(spec.Frames, NFFT, HopLength, len(buf.Samples))
	var worst float64
	for i := range y {
		worst = math.Max(worst, math.Abs(y[i]-buf.Samples[i]))
	}
	if worst > 1e-6 {
		t.Errorf("reconstruction error %g", worst)
	}
}

func TestExtractSine(t *testing.T) {
	v, err := Extract(sine(440, 0.5, 2))
	if err != nil {
		t.Fatal(err)
	}
	idx := func(name string) int {
		for i, n := range FeatureNames {
			if n == name {
				return i
			}
		}
		t.Fatalf("no feature %s", name)
		return -1
	}

	tests := []struct {
		name      string
		want, tol float64
	}{
		{"spectral_centroid_mean", 440, 100},
		{"rms_mean", 0.5 / math.Sqrt2, 0.01},
		{"zero_crossing_rate_mean", 2 * 440.0 / SampleRate, 0.005},
	}
	for _, tt := range tests {
		if got := v[idx(tt.name)]; math.Abs(got-tt.want) > tt.tol {
			t.Errorf("%s = %v, want %v±%v", tt.name, got, tt.want, tt.tol)
		}
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			t.Errorf("%s is not finite", FeatureNames[i])
		}
	}
}

func TestExtractRejectsShortInput(t *testing.T) {
	if _, err := Extract(Buffer{}); err != ErrEmptyAudio {
		t.Errorf("empty: %v", err)
	}
	if _, err := Extract(Buffer{Samples: make([]float64, 100), SampleRate: SampleRate}); err != ErrTooShort {
		t.Errorf("short: %v", err)
	}
}

func TestChromaPeaksOnPitchClass(t *testing.T) {
	buf := sine(440, 0.5, 1)
	spec := STFT(buf.Samples, SampleRate, NFFT, HopLength)
	c := chroma(spec.Power(), spec.Freqs())
	mid := c[len(c)/2]
	if mid[9] != 1 {
		t.Errorf("A should be the strongest class, got %v", mid)
	}
}

func TestTempoClickTrack(t *testing.T) {
	const interval = 22 * HopLength
	x := make([]float64, 10*SampleRate)
	for i := 0; i < len(x); i += interval {
		x[i] = 1
	}
	spec := STFT(x, SampleRate, NFFT, HopLength)
	melDB := powerToDB(MelSpectrogram(spec, 128, MelSlaney), topDB)

	want := 60 * float64(SampleRate) / float64(interval)
	if got := Tempo(melDB, SampleRate, HopLength); math.Abs(got-want) > 1 {
		t.Errorf("tempo = %v, want %v", got, want)
	}
}

func TestMelScales(t *testing.T) {
	for _, scale := range []MelScale{MelSlaney, MelHTK} {
		for _, hz := range []float64{0, 200, 1000, 4000, 11025} {
			if back := melToHz(hzToMel(hz, scale), scale); math.Abs(back-hz) > 1e-6 {
				t.Errorf("scale %d: %v -> %v", scale, hz, back)
			}
		}
	}
}

func TestSpectrogramImage(t *testing.T) {
	im, err := SpectrogramImage(sine(220, 0.3, 1), ImageSize)
	if err != nil {
		t.Fatal(err)
	}
	if im.Channels != 3 || im.Height != ImageSize || im.Width != ImageSize {
		t.Fatalf("shape = %dx%dx%d", im.Channels, im.Height, im.Width)
	}
	for y := 0; y < ImageSize; y += 37 {
		for x := 0; x < ImageSize; x += 41 {
			v := im.At(0, y, x)
			if v < 0 || v > 1 {
				t.Errorf("pixel (%d,%d) = %v out of range", y, x, v)
			}
			if im.At(1, y, x) != v || im.At(2, y, x) != v {
				t.Errorf("channels differ at (%d,%d)", y, x)
			}
		}
	}
}

func TestFeatureNames(t *testing.T) {
	checks := map[int]string{0: "chroma_stft_mean", 15: "perceptr_var", 16: "tempo", 17: "mfcc1_mean", 56: "mfcc20_var"}
	for i, want := range checks {
		if FeatureNames[i] != want {
			t.Errorf("FeatureNames[%d] = %s, want %s", i, FeatureNames[i], want)
		}
	}
}
