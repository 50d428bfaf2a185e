package capture

import "math"

// Level returns the RMS level of 16-bit little-endian PCM, from 0 to 1.
func Level(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		v := float64(int16(uint16(pcm[i])|uint16(pcm[i+1])<<8)) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// Peak returns the largest absolute sample of 16-bit little-endian PCM,
// from 0 to 1.
func Peak(pcm []byte) float64 {
	var peak float64
	for i := 0; i+1 < len(pcm); i += 2 {
		// float64 first: -32768 has no int16 negation.
		v := math.Abs(float64(int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)))
		if v > peak {
			peak = v
		}
	}
	return peak / 32768
}
