package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestDecodeWAVPCM16MonoRoundTrip(t *testing.T) {
	pcm := []byte{0x00, 0x00, 0xE8, 0x03, 0x18, 0xFC}
	wav, err := EncodeWAVPCM16LE(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len(wav) = %d, want %d", len(wav), 44+len(pcm))
	}
	gotPCM, gotSR, err := DecodeWAVPCM16(wav)
	if err != nil {
		t.Fatalf("DecodeWAVPCM16() error = %v", err)
	}
	if gotSR != 16000 {
		t.Fatalf("sampleRate = %d, want 16000", gotSR)
	}
	if !bytes.Equal(gotPCM, pcm) {
		t.Fatalf("pcm mismatch: got=%v want=%v", gotPCM, pcm)
	}
}

func TestDecodeWAVPCM16StereoDownmix(t *testing.T) {
	// L=1000,R=-1000 -> 0 ; L=3000,R=1000 -> 2000
	stereo := []byte{0xE8, 0x03, 0x18, 0xFC, 0xB8, 0x0B, 0xE8, 0x03}
	hdr := newWAVHeader(len(stereo), 24000)
	hdr.NumChannels = 2
	hdr.BlockAlign = 4
	hdr.ByteRate = 24000 * 4
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		t.Fatalf("write header: %v", err)
	}
	buf.Write(stereo)

	gotPCM, gotSR, err := DecodeWAVPCM16(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeWAVPCM16() error = %v", err)
	}
	if gotSR != 24000 {
		t.Fatalf("sampleRate = %d, want 24000", gotSR)
	}
	s1 := int16(binary.LittleEndian.Uint16(gotPCM[0:2]))
	s2 := int16(binary.LittleEndian.Uint16(gotPCM[2:4]))
	if len(gotPCM) != 4 || s1 != 0 || s2 != 2000 {
		t.Fatalf("downmix = %v, want [0 2000]", gotPCM)
	}
}

func TestDecodeWAVPCM16RejectsNonWAV(t *testing.T) {
	_, _, err := DecodeWAVPCM16([]byte("definitely not a wav file"))
	if !errors.Is(err, ErrUnsupportedWAV) {
		t.Fatalf("error = %v, want ErrUnsupportedWAV", err)
	}
}
