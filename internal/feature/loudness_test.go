package feature

import (
	"math"
	"testing"
)

func TestBarkLimits(t *testing.T) {
	limits := barkLimits(512, 16000)

	if len(limits) != Bands+1 {
		t.Fatalf("len(limits) = %d, want %d", len(limits), Bands+1)
	}
	if limits[0] != 0 {
		t.Errorf("limits[0] = %d, want 0", limits[0])
	}
	if limits[Bands] != 255 {
		t.Errorf("limits[%d] = %d, want 255", Bands, limits[Bands])
	}
	for i := 1; i < len(limits); i++ {
		if limits[i] < limits[i-1] {
			t.Errorf("limits not monotonic at %d: %v", i, limits)
		}
	}
}

func TestAnalyseSilence(t *testing.T) {
	a := newAnalyser(512)
	a.setSampleRate(16000)

	frame := make(Frame, Bands)
	a.analyse(make([]float32, 512), frame)

	for i, v := range frame {
		if v != 0 {
			t.Errorf("band %d = %v for silence, want 0", i, v)
		}
	}
}

func TestAnalyseSinePeaksInItsBand(t *testing.T) {
	const (
		size = 512
		rate = 16000
		hz   = 1000.0
	)
	a := newAnalyser(size)
	a.setSampleRate(rate)

	buf := make([]float32, size)
	for i := range buf {
		buf[i] = float32(math.Sin(2 * math.Pi * hz * float64(i) / rate))
	}
	frame := make(Frame, Bands)
	a.analyse(buf, frame)

	peak := 0
	for i, v := range frame {
		if v < 0 || math.IsNaN(v) {
			t.Fatalf("band %d = %v, want a non-negative number", i, v)
		}
		if v > frame[peak] {
			peak = i
		}
	}

	bin := int(hz * size / rate)
	if bin < a.limits[peak] || bin >= a.limits[peak+1] {
		t.Errorf("loudest band %d covers bins [%d,%d), want it to contain bin %d",
			peak, a.limits[peak], a.limits[peak+1], bin)
	}
}

func TestSetSampleRateRebuildsTable(t *testing.T) {
	a := newAnalyser(512)
	a.setSampleRate(16000)
	at16k := append([]int(nil), a.limits...)

	a.setSampleRate(48000)
	same := true
	for i := range at16k {
		if at16k[i] != a.limits[i] {
			same = false
		}
	}
	if same {
		t.Error("band table unchanged after sample rate change")
	}
}
