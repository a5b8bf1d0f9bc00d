package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func sineFrame(freq float64, sampleRate, n int, amp float64) []byte {
	raw := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		s := amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(int16(s*32767)))
	}
	return raw
}

func TestComputeLevelsSine(t *testing.T) {
	raw := sineFrame(500, 44100, 4410, 0.5)
	rms, zcr, peak := ComputeLevels(raw)

	if math.Abs(rms-0.354) > 0.01 {
		t.Errorf("rms: got %.4f, want ~0.354", rms)
	}
	if math.Abs(zcr-0.0227) > 0.002 {
		t.Errorf("zcr: got %.4f, want ~0.0227", zcr)
	}
	if math.Abs(peak-0.5) > 0.01 {
		t.Errorf("peak: got %.4f, want ~0.5", peak)
	}
}

func TestComputeLevelsDegenerateFrames(t *testing.T) {
	for _, raw := range [][]byte{nil, {}, {0x01}} {
		rms, zcr, peak := ComputeLevels(raw)
		if rms != 0 || zcr != 0 || peak != 0 {
			t.Errorf("levels for %d bytes: got %f %f %f, want zeros", len(raw), rms, zcr, peak)
		}
	}
}

func TestComputeLevelsSilence(t *testing.T) {
	rms, zcr, peak := ComputeLevels(make([]byte, 256))
	if rms != 0 || zcr != 0 || peak != 0 {
		t.Errorf("silence levels: got %f %f %f, want zeros", rms, zcr, peak)
	}
}
