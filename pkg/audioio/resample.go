package audioio

// Resample converts audio from one sample rate to another using linear
// interpolation. Good enough for speech; the wire rate is 16 kHz and capture
// devices sometimes only offer 44.1/48 kHz.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	newLen := int(float64(len(samples)) / ratio)
	if newLen == 0 {
		return []int16{}
	}

	result := make([]int16, newLen)
	for i := 0; i < newLen; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		if srcIdx >= len(samples)-1 {
			result[i] = samples[len(samples)-1]
		} else {
			s1 := float64(samples[srcIdx])
			s2 := float64(samples[srcIdx+1])
			result[i] = int16(s1 + frac*(s2-s1))
		}
	}
	return result
}

// ResampleBytes resamples raw PCM16 bytes.
func ResampleBytes(data []byte, fromRate, toRate int) []byte {
	return SamplesToBytes(Resample(BytesToSamples(data), fromRate, toRate))
}

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// StereoToMono averages stereo samples to mono.
func StereoToMono(samples []int16) []int16 {
	mono := make([]int16, len(samples)/2)
	for i := range mono {
		left := int32(samples[i*2])
		right := int32(samples[i*2+1])
		mono[i] = int16((left + right) / 2)
	}
	return mono
}

// CalculateRMS calculates the mean square level of samples, normalized to
// 0.0-1.0. Used for capture level diagnostics.
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}

	rms := sum / float64(len(samples))
	return rms / (32767 * 32767)
}
