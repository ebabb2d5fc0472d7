package audio

import "testing"

func TestDownmixInterleavedMono(t *testing.T) {
	input := []float32{0.1, 0.2, 0.3, 0.4}
	got := downmixInterleaved(input, 1, len(input))

	if len(got) != len(input) {
		t.Fatalf("expected %d samples, got %d", len(input), len(got))
	}
	for i := range input {
		if got[i] != input[i] {
			t.Fatalf("expected element %d to be %f, got %f", i, input[i], got[i])
		}
	}

	if &got[0] == &input[0] {
		t.Fatal("expected mono result to be copied into a new slice")
	}
}

func TestDownmixInterleavedStereo(t *testing.T) {
	frames := 4
	input := []float32{
		0.0, 1.0,
		0.5, 0.5,
		1.0, 0.0,
		-0.5, 0.5,
	}

	expected := []float32{
		0.5, 0.5, 0.5, 0.0,
	}

	got := downmixInterleaved(input, 2, frames)
	if len(got) != len(expected) {
		t.Fatalf("expected %d frames, got %d", len(expected), len(got))
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("frame %d mismatch: expected %f, got %f", i, expected[i], got[i])
		}
	}
}

func TestDownmixInterleavedMoreChannels(t *testing.T) {
	frames := 2
	input := []float32{
		1, 3, 5,
		2, 4, 6,
	}

	expected := []float32{3, 4}

	got := downmixInterleaved(input, 3, frames)
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("frame %d mismatch: expected %f, got %f", i, expected[i], got[i])
		}
	}
}

func TestDisabledTrackDeliversSilence(t *testing.T) {
	s := &hwStream{id: "s", sampleRate: 16000}
	s.track = newTrack("s/audio", nil)

	var last []float32
	detach := s.Tap(func(samples []float32) {
		last = append(last[:0], samples...)
	})
	defer detach()

	s.deliver([]float32{0.5, -0.5})
	if last[0] != 0.5 {
		t.Fatalf("expected live samples, got %v", last)
	}

	s.track.SetEnabled(false)
	s.deliver([]float32{0.5, -0.5})
	for i, v := range last {
		if v != 0 {
			t.Fatalf("sample %d: expected silence while disabled, got %f", i, v)
		}
	}

	s.track.SetEnabled(true)
	if err := s.track.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	s.deliver([]float32{0.9})
	if last[0] == 0.9 {
		t.Fatal("ended track must not deliver samples")
	}
}

func TestTrackStopRunsReleaseOnce(t *testing.T) {
	calls := 0
	tr := newTrack("t", func() error {
		calls++
		return nil
	})

	tr.Stop()
	tr.Stop()

	if calls != 1 {
		t.Fatalf("expected release once, got %d", calls)
	}
	if !tr.Ended() {
		t.Fatal("track should be ended after Stop")
	}
}

func TestTapDetach(t *testing.T) {
	var ts tapSet
	count := 0
	detach := ts.add(func([]float32) { count++ })

	ts.emit(nil)
	detach()
	detach()
	ts.emit(nil)

	if count != 1 {
		t.Fatalf("expected 1 delivery, got %d", count)
	}
}
