// Package audio provides the PCM plumbing shared by the recording pipeline:
// RIFF/WAV encoding and decoding, sample-rate and channel conversion, energy
// measurement, and an Ogg/Opus file writer for generated speech.
//
// Everything operates on interleaved 16-bit signed little-endian PCM held in
// byte slices, the representation the ASR and TTS backends exchange. Helpers
// are pure functions; none of them touch the filesystem or the network.
package audio

import "math"

// bitsPerSample is fixed at 16 for all PCM handled by this package.
const bitsPerSample = 16

// Format describes the sample rate and channel count of a PCM buffer.
type Format struct {
	SampleRate int
	Channels   int
}

// DurationSec returns the play length in seconds of a PCM buffer with the
// given format. Invalid formats yield 0.
func DurationSec(pcm []byte, f Format) float64 {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(pcm) / 2 / f.Channels
	return float64(samples) / float64(f.SampleRate)
}

// Int16sToBytes converts int16 PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16s converts little-endian bytes to int16 PCM samples.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

// BytesToFloat32s converts little-endian 16-bit PCM to float32 samples in
// [-1, 1], the input representation of in-process whisper contexts.
func BytesToFloat32s(b []byte) []float32 {
	out := make([]float32, len(b)/2)
	for i := range out {
		s := int16(b[i*2]) | int16(b[i*2+1])<<8
		out[i] = float32(s) / 32768
	}
	return out
}

// RMS returns the root-mean-square energy of a 16-bit PCM buffer in sample
// units (0 to 32767). Buffers shorter than one sample yield 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
