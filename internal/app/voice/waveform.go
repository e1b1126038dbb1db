package voice

import domainchat "bizlink/internal/domain/chat"

// Envelope reduces a PCM16LE blob to a fixed-length amplitude envelope in
// [0,1], peak-normalized so quiet recordings still render visibly.
func Envelope(audio []byte) []float64 {
	buckets := make([]float64, domainchat.WaveformBuckets)
	samples := len(audio) / 2
	if samples == 0 {
		return buckets
	}
	perBucket := samples / domainchat.WaveformBuckets
	if perBucket == 0 {
		perBucket = 1
	}
	counts := make([]int, domainchat.WaveformBuckets)
	for i := 0; i < samples; i++ {
		bucket := i / perBucket
		if bucket >= domainchat.WaveformBuckets {
			bucket = domainchat.WaveformBuckets - 1
		}
		sample := int16(uint16(audio[2*i]) | uint16(audio[2*i+1])<<8)
		amp := float64(sample)
		if amp < 0 {
			amp = -amp
		}
		buckets[bucket] += amp / 32768
		counts[bucket]++
	}
	peak := 0.0
	for i := range buckets {
		if counts[i] > 0 {
			buckets[i] /= float64(counts[i])
		}
		if buckets[i] > peak {
			peak = buckets[i]
		}
	}
	if peak > 0 {
		for i := range buckets {
			buckets[i] /= peak
		}
	}
	return buckets
}
