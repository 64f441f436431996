// Package audio converts raw synthesis output into 16-bit PCM WAV files.
package audio

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrNoSamples is returned when asked to encode an empty sample buffer.
var ErrNoSamples = errors.New("no audio samples")

const (
	pcmBitsPerSample = 16
	pcmChannels      = 1
	wavHeaderSize    = 44
)

// NormalizePCM16 scales floating-point samples to the full 16-bit range by
// dividing by the peak absolute value. All-zero input is passed through
// unscaled so silence never triggers a division by zero.
func NormalizePCM16(samples []float64) []int16 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}

	pcm := make([]int16, len(samples))
	if peak == 0 {
		return pcm
	}

	for i, s := range samples {
		v := s / peak * math.MaxInt16
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		pcm[i] = int16(v)
	}
	return pcm
}

// Duration returns the clip length in seconds for sampleCount frames at the
// given rate, rounded to two decimal places.
func Duration(sampleCount, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return math.Round(float64(sampleCount)/float64(sampleRate)*100) / 100
}

// EncodeWAV serializes 16-bit mono PCM samples into a RIFF/WAVE container.
func EncodeWAV(pcm []int16, sampleRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, ErrNoSamples
	}

	dataSize := len(pcm) * 2
	buf := make([]byte, wavHeaderSize+dataSize)

	byteRate := sampleRate * pcmChannels * pcmBitsPerSample / 8
	blockAlign := pcmChannels * pcmBitsPerSample / 8

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM format
	binary.LittleEndian.PutUint16(buf[22:24], pcmChannels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], pcmBitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	for i, s := range pcm {
		binary.LittleEndian.PutUint16(buf[wavHeaderSize+i*2:], uint16(s))
	}

	return buf, nil
}
