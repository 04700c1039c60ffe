// Package stream turns a media input into Opus frames: ffmpeg decodes to
// 48 kHz stereo PCM, a Pipeline scales and encodes it frame by frame.
package stream

import "time"

const (
	Channels      = 2
	SampleRate    = 48000
	FrameSize     = 960 // 20ms at 48kHz
	FrameDuration = 20 * time.Millisecond

	frameBytes = FrameSize * Channels * 2
)

// Encoder turns one PCM frame into an Opus packet. *gopus.Encoder satisfies it.
type Encoder interface {
	Encode(pcm []int16, frameSize, maxDataBytes int) ([]byte, error)
}

// ScaleVolume applies volume (0-100) to samples in place.
func ScaleVolume(samples []int16, volume int) {
	if volume >= 100 {
		return
	}
	if volume < 0 {
		volume = 0
	}
	for i, s := range samples {
		samples[i] = int16(int32(s) * int32(volume) / 100)
	}
}
