package audiobuf

import "encoding/binary"

// FrameSamples returns the number of int16 samples a frame of durationMs
// milliseconds holds at sampleRate, for a single channel.
func FrameSamples(sampleRate, durationMs int) int {
	return sampleRate * durationMs / 1000
}

// FrameBytes returns the byte length of a PCM16 frame of durationMs
// milliseconds at sampleRate, for a single channel.
func FrameBytes(sampleRate, durationMs int) int {
	return FrameSamples(sampleRate, durationMs) * 2
}

// SplitFrames splits pcm (little-endian PCM16) into consecutive frames of
// frameBytes length. The final partial frame, if any, is zero-padded to
// frameBytes so every returned slice is a fixed-size frame suitable for
// feeding directly into a fixed-size encoder or RTP packetizer.
func SplitFrames(pcm []byte, frameBytes int) [][]byte {
	if frameBytes <= 0 || len(pcm) == 0 {
		return nil
	}
	var frames [][]byte
	for offset := 0; offset < len(pcm); offset += frameBytes {
		end := offset + frameBytes
		if end > len(pcm) {
			frame := make([]byte, frameBytes)
			copy(frame, pcm[offset:])
			frames = append(frames, frame)
			break
		}
		frames = append(frames, pcm[offset:end])
	}
	return frames
}

// Int16ToBytes encodes PCM16 samples as little-endian bytes.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 decodes little-endian PCM16 bytes into samples. Any trailing
// odd byte is dropped.
func BytesToInt16(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}
