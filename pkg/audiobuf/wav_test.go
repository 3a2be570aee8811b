package audiobuf

import (
	"bytes"
	"testing"
)

func TestWavBufferHasRiffWaveHeader(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	wav := WavBuffer(pcm, 24000, 1)

	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Errorf("expected RIFF prefix")
	}
	if !bytes.Contains(wav, []byte("WAVE")) {
		t.Errorf("expected WAVE format identifier")
	}
	if want := 44 + len(pcm); len(wav) != want {
		t.Errorf("len(wav) = %d, want %d", len(wav), want)
	}
}

func TestWavBufferDefaultsZeroChannelsToMono(t *testing.T) {
	wav := WavBuffer([]byte{0x00, 0x00}, 16000, 0)
	if len(wav) != 46 {
		t.Errorf("len(wav) = %d, want 46", len(wav))
	}
}
