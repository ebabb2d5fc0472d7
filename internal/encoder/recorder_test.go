package encoder

import (
	"sync"
	"testing"
	"time"

	"github.com/petems/micstream/internal/audio/audiotest"
	"github.com/rs/zerolog"
)

type chunkSink struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (c *chunkSink) add(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, b)
}

func (c *chunkSink) all() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.chunks...)
}

func TestNewRecorderRejectsFormat(t *testing.T) {
	s := audiotest.NewStream("s1", 16000, 1)
	if _, err := NewRecorder(s, "audio/ogg", zerolog.Nop()); err == nil {
		t.Error("NewRecorder() should reject audio/ogg")
	}
	if _, err := NewRecorder(nil, FormatPCM, zerolog.Nop()); err == nil {
		t.Error("NewRecorder() should reject a nil stream")
	}
}

func TestRecorderEmitsOnInterval(t *testing.T) {
	s := audiotest.NewStream("s1", 16000, 1)
	r, err := NewRecorder(s, FormatPCM, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	sink := &chunkSink{}
	r.OnData(sink.add)

	if err := r.Start(10 * time.Millisecond); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer r.Stop()

	s.Push(make([]float32, 160))

	deadline := time.Now().Add(time.Second)
	for len(sink.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	chunks := sink.all()
	if len(chunks) == 0 {
		t.Fatal("no chunk emitted")
	}
	if len(chunks[0]) != 320 {
		t.Errorf("chunk has %d bytes, want 320", len(chunks[0]))
	}
}

func TestRecorderStopFlushesFinalChunk(t *testing.T) {
	s := audiotest.NewStream("s1", 16000, 1)
	r, err := NewRecorder(s, FormatPCM, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	sink := &chunkSink{}
	r.OnData(sink.add)
	if err := r.Start(time.Hour); err != nil {
		t.Fatal(err)
	}

	s.Push(make([]float32, 100))
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	chunks := sink.all()
	if len(chunks) != 1 || len(chunks[0]) != 200 {
		t.Fatalf("got chunks %v, want a single 200 byte chunk", len(chunks))
	}
	if s.Taps() != 0 {
		t.Error("Stop() left the stream tap attached")
	}

	s.Push(make([]float32, 100))
	if err := r.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if len(sink.all()) != 1 {
		t.Error("samples after Stop were emitted")
	}
	if err := r.Start(time.Hour); err == nil {
		t.Error("Start() after Stop should fail")
	}
}

func TestRecorderPauseDropsSamples(t *testing.T) {
	s := audiotest.NewStream("s1", 16000, 1)
	r, err := NewRecorder(s, FormatPCM, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	sink := &chunkSink{}
	r.OnData(sink.add)
	if err := r.Start(time.Hour); err != nil {
		t.Fatal(err)
	}

	r.Pause()
	if !r.Paused() {
		t.Fatal("Paused() = false")
	}
	s.Push(make([]float32, 100))
	r.Resume()
	s.Push(make([]float32, 50))

	if err := r.Stop(); err != nil {
		t.Fatal(err)
	}
	chunks := sink.all()
	if len(chunks) != 1 || len(chunks[0]) != 100 {
		t.Errorf("want one chunk with the 50 unpaused samples, got %d chunks", len(chunks))
	}
}

func TestRecorderDetachedCallbackDropsChunks(t *testing.T) {
	s := audiotest.NewStream("s1", 16000, 1)
	r, err := NewRecorder(s, FormatWAV, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	sink := &chunkSink{}
	r.OnData(sink.add)
	if err := r.Start(time.Hour); err != nil {
		t.Fatal(err)
	}

	s.Push(make([]float32, 100))
	r.OnData(nil)
	if err := r.Stop(); err != nil {
		t.Fatal(err)
	}
	if len(sink.all()) != 0 {
		t.Error("chunk delivered after OnData(nil)")
	}
}
