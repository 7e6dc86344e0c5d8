package audio

import (
	"fmt"
	"math"
)

// BytesToInt16sLE reinterprets little-endian PCM bytes as int16 samples.
func BytesToInt16sLE(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("pcm byte stream has odd length %d", len(b))
	}
	samples := make([]int16, len(b)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(b[2*i]) | int16(b[2*i+1])<<8
	}
	return samples, nil
}

// Int16sToBytesLE encodes int16 samples as little-endian PCM bytes.
func Int16sToBytesLE(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		b[2*i] = byte(s)
		b[2*i+1] = byte(uint16(s) >> 8)
	}
	return b
}

// ResampleInt16 converts input from inputRate to outputRate using linear
// interpolation between neighboring samples.
func ResampleInt16(input []int16, inputRate, outputRate int) []int16 {
	if len(input) == 0 || inputRate == outputRate {
		return input
	}
	ratio := float64(inputRate) / float64(outputRate)
	outputLength := int(float64(len(input)) / ratio)
	if outputLength < 1 {
		outputLength = 1
	}
	output := make([]int16, outputLength)
	for i := 0; i < outputLength-1; i++ {
		pos := float64(i) * ratio
		indexBefore := int(pos)
		indexAfter := indexBefore + 1
		if indexAfter >= len(input) {
			indexAfter = len(input) - 1
		}
		frac := pos - float64(indexBefore)
		output[i] = int16((1-frac)*float64(input[indexBefore]) + frac*float64(input[indexAfter]))
	}
	output[outputLength-1] = input[len(input)-1]
	return output
}

// RMS returns the root mean square amplitude of the samples, normalized
// to [0,1] against full scale.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// DBFS converts a normalized amplitude to decibels relative to full scale.
// Zero amplitude maps to -96 dBFS, the floor of 16-bit audio.
func DBFS(amplitude float64) float64 {
	if amplitude <= 0 {
		return -96
	}
	db := 20 * math.Log10(amplitude)
	if db < -96 {
		return -96
	}
	return db
}

// GainForTarget returns the linear gain that brings current dBFS to target.
func GainForTarget(currentDBFS, targetDBFS float64) float64 {
	return math.Pow(10, (targetDBFS-currentDBFS)/20)
}

// ApplyGain scales samples by gain, clipping at the int16 range.
func ApplyGain(samples []int16, gain float64) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s) * gain
		switch {
		case v > math.MaxInt16:
			out[i] = math.MaxInt16
		case v < math.MinInt16:
			out[i] = math.MinInt16
		default:
			out[i] = int16(v)
		}
	}
	return out
}
