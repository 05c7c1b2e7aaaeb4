package audio

import "math"

// LevelEstimate computes a normalized 0..1 loudness value for a frame of
// PCM16 samples. The value is for visualization only; silence maps to 0 and
// a full-scale signal clamps to 1.
func LevelEstimate(frames []int16) float64 {
	if len(frames) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frames {
		f := float64(s)
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(frames)))
	// Speech rarely approaches full scale; scale up so normal talking
	// registers visibly, then clamp.
	level := rms / 32768.0 * 4
	if level > 1 {
		return 1
	}
	return level
}

// Int16SliceToBytes flattens PCM16 samples into little-endian bytes.
func Int16SliceToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}
