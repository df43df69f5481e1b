package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// SampleRate is the rate of every frame crossing the control channel and the
// upstream socket.
const SampleRate = 24000

// snapTolerance absorbs float32 representation error so decoding and
// re-encoding any PCM16 value lands on the same integer.
const snapTolerance = 1.0 / 256

var ErrOddFrameLength = errors.New("pcm16 frame has odd byte length")

// Frame is one chunk of mono PCM16 little-endian audio.
type Frame []byte

// EncodeCapture converts normalized float samples to PCM16.
func EncodeCapture(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s)
		if math.IsNaN(v) {
			v = 0
		}
		if v < -1 {
			v = -1
		} else if v > 1 {
			v = 1
		}
		scaled := v * 0x7fff
		if v < 0 {
			scaled = v * 0x8000
		}
		if r := math.Round(scaled); math.Abs(scaled-r) < snapTolerance {
			scaled = r
		}
		out[i] = int16(scaled)
	}
	return out
}

// DecodePlayback converts PCM16 samples back to normalized floats.
func DecodePlayback(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		if s < 0 {
			out[i] = float32(s) / 0x8000
		} else {
			out[i] = float32(s) / 0x7fff
		}
	}
	return out
}

func PCM16ToBytes(pcm []int16) Frame {
	out := make(Frame, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func BytesToPCM16(frame Frame) ([]int16, error) {
	if len(frame)%2 != 0 {
		return nil, fmt.Errorf("%w: %d", ErrOddFrameLength, len(frame))
	}
	out := make([]int16, len(frame)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(frame[i*2:]))
	}
	return out, nil
}

// EncodeFrame is the capture side of the pipeline: floats in, wire bytes out.
func EncodeFrame(samples []float32) Frame {
	return PCM16ToBytes(EncodeCapture(samples))
}

// DecodeFrame is the playback side of the pipeline.
func DecodeFrame(frame Frame) ([]float32, error) {
	pcm, err := BytesToPCM16(frame)
	if err != nil {
		return nil, err
	}
	return DecodePlayback(pcm), nil
}

func TransportEncode(frame Frame) string {
	return base64.StdEncoding.EncodeToString(frame)
}

func TransportDecode(text string) (Frame, error) {
	b, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("decode audio frame: %w", err)
	}
	return Frame(b), nil
}

// DurationMS reports how long a frame plays at SampleRate.
func DurationMS(frame Frame) int {
	return len(frame) / 2 * 1000 / SampleRate
}
