package feature

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Bands is the number of bark bands in a loudness frame.
const Bands = 24

// specific loudness exponent (Zwicker)
const loudnessExponent = 0.23

// Frame holds the specific loudness of each bark band, all values >= 0.
type Frame []float64

// Baseline is the frame reported before any audio was analysed.
func Baseline() Frame {
	return make(Frame, Bands)
}

// Clone returns a copy of f that the caller may keep.
func (f Frame) Clone() Frame {
	out := make(Frame, len(f))
	copy(out, f)
	return out
}

// bark converts a frequency in Hz to the bark scale.
func bark(hz float64) float64 {
	return 13*math.Atan(hz/1315.8) + 3.5*math.Atan(math.Pow(hz/7518, 2))
}

// barkLimits returns the Bands+1 spectrum bin boundaries of the bark bands
// for a buffer of size samples at rate. Band i covers bins
// [limits[i], limits[i+1]).
func barkLimits(size, rate int) []int {
	bins := size / 2
	scale := make([]float64, bins)
	for i := range scale {
		scale[i] = bark(float64(i) * float64(rate) / float64(size))
	}

	limits := make([]int, Bands+1)
	width := scale[bins-1] / Bands
	end := width
	band := 1
	for i := 0; i < bins; i++ {
		for scale[i] > end && band < Bands {
			limits[band] = i
			band++
			end = float64(band) * width
		}
	}
	limits[Bands] = bins - 1
	return limits
}

// analyser computes loudness frames for one buffer size. It is not safe for
// concurrent use.
type analyser struct {
	size   int
	rate   int
	fft    *fourier.FFT
	window []float64
	limits []int

	in    []float64
	coeff []complex128
}

func newAnalyser(size int) *analyser {
	coef := make([]float64, size)
	for i := range coef {
		coef[i] = 1
	}
	return &analyser{
		size:   size,
		fft:    fourier.NewFFT(size),
		window: window.Hann(coef),
		in:     make([]float64, size),
		coeff:  make([]complex128, size/2+1),
	}
}

// setSampleRate recomputes the band table when the rate changes.
func (a *analyser) setSampleRate(rate int) {
	if rate == a.rate && a.limits != nil {
		return
	}
	a.rate = rate
	a.limits = barkLimits(a.size, rate)
}

// analyse writes the loudness of buf (len == size) into dst.
func (a *analyser) analyse(buf []float32, dst Frame) {
	for i, s := range buf {
		a.in[i] = float64(s) * a.window[i]
	}
	a.coeff = a.fft.Coefficients(a.coeff, a.in)

	for b := 0; b < Bands; b++ {
		var sum float64
		for j := a.limits[b]; j < a.limits[b+1]; j++ {
			sum += cmplx.Abs(a.coeff[j])
		}
		dst[b] = math.Pow(sum, loudnessExponent)
	}
}
