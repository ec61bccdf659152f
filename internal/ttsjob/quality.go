package ttsjob

import "github.com/aulavox/aulavox/pkg/types"

// Spoken Italian averages around 14 characters per second; the duration
// check compares synthesized length against that expectation.
const charsPerSecond = 14.0

// bytesPerSecond is the plausible output rate per container, used for the
// file-size sanity check. WAV is uncompressed mono at the mix rate; the
// compressed rates follow the encoder bitrates (64 kbps Opus, 128 kbps MP3).
var bytesPerSecond = map[types.AudioFormat]float64{
	types.AudioWAV: mixRate * 2,
	types.AudioOGG: 8000,
	types.AudioMP3: 16000,
}

// qualityScore blends three sanity signals into [0,1]: how well the audio
// length tracks the text length, whether the file size is plausible for the
// container, and how many medical terms the normalizer handled.
func qualityScore(textRunes int, durationSec float64, sizeBytes int64, format types.AudioFormat, termsHandled int) float64 {
	return 0.5*durationRatioScore(textRunes, durationSec) +
		0.2*sizeSanityScore(durationSec, sizeBytes, format) +
		0.3*termScore(termsHandled)
}

// durationRatioScore tiers the ratio of actual to expected speech duration.
// Pauses between segments make a run a little longer than raw speech, so the
// full-score band is asymmetric.
func durationRatioScore(textRunes int, durationSec float64) float64 {
	if textRunes == 0 || durationSec <= 0 {
		return 0
	}
	expected := float64(textRunes) / charsPerSecond
	ratio := durationSec / expected
	switch {
	case ratio >= 0.7 && ratio <= 1.8:
		return 1.0
	case ratio >= 0.5 && ratio <= 2.5:
		return 0.7
	case ratio >= 0.3 && ratio <= 4.0:
		return 0.4
	default:
		return 0.1
	}
}

func sizeSanityScore(durationSec float64, sizeBytes int64, format types.AudioFormat) float64 {
	rate, ok := bytesPerSecond[format]
	if !ok || durationSec <= 0 || sizeBytes <= 0 {
		return 0
	}
	expected := rate * durationSec
	ratio := float64(sizeBytes) / expected
	if ratio >= 0.3 && ratio <= 3.0 {
		return 1.0
	}
	return 0.3
}

// termScore saturates at ten handled terms; a narration touching that much
// terminology is as medically dense as the score rewards.
func termScore(terms int) float64 {
	if terms >= 10 {
		return 1.0
	}
	return float64(terms) / 10
}
