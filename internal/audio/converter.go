package audio

import (
	"fmt"
	"math"
)

// Sample rates used across the gateway
const (
	MicSampleRate      = 16000 // PCM16 mono frames streamed by browser clients
	PlaybackSampleRate = 24000 // Default client playback rate for server-side TTS

	playbackPeak = 30000
)

// BytesToSamples converts little-endian 16-bit PCM to samples.
// A trailing odd byte is ignored.
func BytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts samples to little-endian 16-bit PCM
func SamplesToBytes(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, sample := range samples {
		pcm[i*2] = byte(sample)
		pcm[i*2+1] = byte(sample >> 8)
	}
	return pcm
}

// PrepareForPlayback normalizes synthesized PCM16 audio and resamples it to
// the client's playback rate.
func PrepareForPlayback(pcm []byte, inputSampleRate, outputSampleRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("empty PCM data")
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
	}
	if inputSampleRate <= 0 || outputSampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", inputSampleRate, outputSampleRate)
	}

	samples := BytesToSamples(pcm)
	samples = LimitPeak(samples, playbackPeak)
	samples = Resample(samples, inputSampleRate, outputSampleRate)

	return SamplesToBytes(samples), nil
}

// Duration returns how long PCM16 mono audio plays at the given rate
func Duration(pcmBytes int, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(pcmBytes/2) / float64(sampleRate)
}

// Resample converts samples between rates by linear interpolation
func Resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	n := len(samples) * outputRate / inputRate
	out := make([]int16, n)
	last := len(samples) - 1
	step := float64(inputRate) / float64(outputRate)

	for i := range out {
		pos := float64(i) * step
		lo := min(int(pos), last)
		hi := min(lo+1, last)
		frac := pos - float64(lo)
		out[i] = int16(float64(samples[lo]) + (float64(samples[hi])-float64(samples[lo]))*frac)
	}
	return out
}

// LimitPeak scales samples down so no sample exceeds peak. Quieter audio
// is returned as is.
func LimitPeak(samples []int16, peak int16) []int16 {
	loudest := 0
	for _, sample := range samples {
		loudest = max(loudest, abs16(sample))
	}
	if loudest <= int(peak) {
		return samples
	}

	gain := float64(peak) / float64(loudest)
	out := make([]int16, len(samples))
	for i, sample := range samples {
		out[i] = int16(float64(sample) * gain)
	}
	return out
}

func abs16(s int16) int {
	if s < 0 {
		return -int(s)
	}
	return int(s)
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
