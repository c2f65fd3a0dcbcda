package audio

import "math"

// TargetSampleRate is the rate the whisper model expects.
const TargetSampleRate = 16000

// Resample converts mono samples at sourceRate to TargetSampleRate using
// linear interpolation. Input within 1 Hz of the target is returned as is.
// sourceRate must be positive and finite; callers validate it.
func Resample(samples []float32, sourceRate float64) []float32 {
	if math.Abs(sourceRate-TargetSampleRate) < 1.0 {
		return samples
	}
	if len(samples) == 0 {
		return []float32{}
	}

	outLen := int(math.Floor(float64(len(samples)) * TargetSampleRate / sourceRate))
	out := make([]float32, outLen)
	step := sourceRate / TargetSampleRate
	last := len(samples) - 1

	for i := range out {
		pos := float64(i) * step
		lo := int(pos)
		if lo > last {
			lo = last
		}
		hi := min(lo+1, last)
		frac := float32(pos - float64(lo))
		out[i] = samples[lo] + (samples[hi]-samples[lo])*frac
	}
	return out
}

// downmix averages interleaved frames into mono.
func downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	mono := make([]float32, frames)
	for f := range mono {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[f*channels+c]
		}
		mono[f] = sum / float32(channels)
	}
	return mono
}

// meanAbs returns the mean absolute amplitude, used for level metering.
func meanAbs(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s))
	}
	return float32(sum / float64(len(samples)))
}
