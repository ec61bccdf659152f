package audio_test

import (
	"testing"

	"github.com/aulavox/aulavox/pkg/audio"
)

func TestToMonoAveragesChannels(t *testing.T) {
	stereo := audio.Int16sToBytes([]int16{100, 200, -50, 50})

	mono := audio.BytesToInt16s(audio.ToMono(stereo, 2))

	want := []int16{150, 0}
	if len(mono) != len(want) {
		t.Fatalf("len = %d, want %d", len(mono), len(want))
	}
	for i := range want {
		if mono[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, mono[i], want[i])
		}
	}
}

func TestToMonoPassesThroughMono(t *testing.T) {
	pcm := audio.Int16sToBytes([]int16{1, 2, 3})
	if got := audio.ToMono(pcm, 1); &got[0] != &pcm[0] {
		t.Errorf("mono input was copied instead of returned as-is")
	}
}

func TestMonoToStereoDuplicatesSamples(t *testing.T) {
	mono := audio.Int16sToBytes([]int16{123, -456})

	stereo := audio.BytesToInt16s(audio.MonoToStereo(mono))

	want := []int16{123, 123, -456, -456}
	if len(stereo) != len(want) {
		t.Fatalf("len = %d, want %d", len(stereo), len(want))
	}
	for i := range want {
		if stereo[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, stereo[i], want[i])
		}
	}
}

func TestResampleMono16Lengths(t *testing.T) {
	src := make([]byte, 16000*2) // one second at 16 kHz

	up := audio.ResampleMono16(src, 16000, 48000)
	if len(up) != 48000*2 {
		t.Errorf("upsample len = %d, want %d", len(up), 48000*2)
	}

	down := audio.ResampleMono16(src, 16000, 8000)
	if len(down) != 8000*2 {
		t.Errorf("downsample len = %d, want %d", len(down), 8000*2)
	}

	same := audio.ResampleMono16(src, 16000, 16000)
	if &same[0] != &src[0] {
		t.Errorf("same-rate input was copied instead of returned as-is")
	}
}

func TestNormalizeProducesMonoAtTargetRate(t *testing.T) {
	// One second of 44.1 kHz stereo.
	stereo := make([]byte, 44100*2*2)

	out := audio.Normalize(stereo, audio.Format{SampleRate: 44100, Channels: 2}, 16000)

	gotDur := audio.DurationSec(out, audio.Format{SampleRate: 16000, Channels: 1})
	if gotDur < 0.99 || gotDur > 1.01 {
		t.Errorf("normalized duration = %v, want ~1.0", gotDur)
	}
}

func TestBytesToFloat32sRange(t *testing.T) {
	pcm := audio.Int16sToBytes([]int16{0, 32767, -32768})

	f := audio.BytesToFloat32s(pcm)

	if f[0] != 0 {
		t.Errorf("f[0] = %v, want 0", f[0])
	}
	if f[1] <= 0.999 || f[1] > 1 {
		t.Errorf("f[1] = %v, want just below 1", f[1])
	}
	if f[2] != -1 {
		t.Errorf("f[2] = %v, want -1", f[2])
	}
}

func TestRMS(t *testing.T) {
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}

	// Constant amplitude has RMS equal to that amplitude.
	pcm := audio.Int16sToBytes([]int16{1000, -1000, 1000, -1000})
	got := audio.RMS(pcm)
	if got < 999 || got > 1001 {
		t.Errorf("RMS = %v, want ~1000", got)
	}
}
