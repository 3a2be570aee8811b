package audiobuf

import (
	"bytes"
	"testing"
)

func TestFrameSamplesAndBytes(t *testing.T) {
	if got := FrameSamples(24000, 20); got != 480 {
		t.Errorf("FrameSamples() = %d, want 480", got)
	}
	if got := FrameBytes(24000, 20); got != 960 {
		t.Errorf("FrameBytes() = %d, want 960", got)
	}
}

func TestSplitFramesExactMultiple(t *testing.T) {
	pcm := make([]byte, 20)
	frames := SplitFrames(pcm, 10)
	if len(frames) != 2 {
		t.Fatalf("len(frames) = %d, want 2", len(frames))
	}
}

func TestSplitFramesPadsFinalPartialFrame(t *testing.T) {
	pcm := make([]byte, 15)
	for i := range pcm {
		pcm[i] = 0xFF
	}
	frames := SplitFrames(pcm, 10)
	if len(frames) != 2 {
		t.Fatalf("len(frames) = %d, want 2", len(frames))
	}
	if len(frames[1]) != 10 {
		t.Fatalf("len(frames[1]) = %d, want 10", len(frames[1]))
	}
	want := append(append([]byte{}, pcm[10:]...), 0x00, 0x00, 0x00, 0x00, 0x00)
	if !bytes.Equal(frames[1], want) {
		t.Errorf("frames[1] = %v, want %v (zero-padded)", frames[1], want)
	}
}

func TestSplitFramesEmptyInput(t *testing.T) {
	if frames := SplitFrames(nil, 10); frames != nil {
		t.Errorf("expected nil frames for empty input, got %v", frames)
	}
}

func TestInt16BytesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	encoded := Int16ToBytes(samples)
	decoded := BytesToInt16(encoded)
	if len(decoded) != len(samples) {
		t.Fatalf("len(decoded) = %d, want %d", len(decoded), len(samples))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Errorf("decoded[%d] = %d, want %d", i, decoded[i], samples[i])
		}
	}
}

func TestBytesToInt16DropsTrailingOddByte(t *testing.T) {
	decoded := BytesToInt16([]byte{0x01, 0x00, 0xFF})
	if len(decoded) != 1 {
		t.Fatalf("len(decoded) = %d, want 1", len(decoded))
	}
}
