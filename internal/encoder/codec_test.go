package encoder

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/go-audio/wav"
)

func TestEncodePCM(t *testing.T) {
	data := encodePCM([]float32{0, 1, -1, 2, 0.5})
	if len(data) != 10 {
		t.Fatalf("len = %d, want 10", len(data))
	}

	want := []int16{0, 32767, -32768, 32767, 16383}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(data[2*i:]))
		if got != w {
			t.Errorf("sample %d = %d, want %d", i, got, w)
		}
	}
}

func TestEncodeWAVRoundTrip(t *testing.T) {
	samples := make([]float32, 1600)
	for i := range samples {
		samples[i] = 0.25
	}

	data, err := encodeChunk(FormatWAV, 16000, samples)
	if err != nil {
		t.Fatalf("encodeChunk() error = %v", err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		t.Fatalf("chunk does not start with RIFF header: %q", data[:4])
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		t.Fatal("decoder rejected the chunk")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer() error = %v", err)
	}
	if dec.SampleRate != 16000 || dec.NumChans != 1 || dec.BitDepth != 16 {
		t.Errorf("header = %d Hz, %d ch, %d bit", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	if len(buf.Data) != len(samples) {
		t.Errorf("decoded %d samples, want %d", len(buf.Data), len(samples))
	}
	if buf.Data[0] != int(toInt16(0.25)) {
		t.Errorf("first sample = %d, want %d", buf.Data[0], toInt16(0.25))
	}
}

func TestEncodeUnknownFormat(t *testing.T) {
	if _, err := encodeChunk("audio/ogg", 16000, []float32{0}); err == nil {
		t.Error("encodeChunk() should fail for an unsupported format")
	}
}

func TestSeekBuffer(t *testing.T) {
	b := &seekBuffer{}
	b.Write([]byte("hello world"))
	if _, err := b.Seek(0, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	b.Write([]byte("HELLO"))
	if _, err := b.Seek(0, io.SeekEnd); err != nil {
		t.Fatal(err)
	}
	b.Write([]byte("!"))

	if got := string(b.Bytes()); got != "HELLO world!" {
		t.Errorf("Bytes() = %q", got)
	}
	if _, err := b.Seek(-1, io.SeekStart); err == nil {
		t.Error("negative seek should fail")
	}
}
