// Package speech implements the vocal detector: lightweight per-frame
// features (RMS, zero-crossing rate, a tiny Goertzel filterbank) combined
// into a vocalness score, plus a hysteretic vocal/non-vocal decision with an
// off-hold so consonant gaps do not flap the mouth.
//
// Frames are signed 16-bit little-endian mono PCM. The detector is not safe
// for concurrent use; it is confined to the state-machine tick loop.
package speech

import (
	"encoding/binary"
	"math"
	"time"
)

// Config tunes the detector. Zero values are replaced by the defaults below.
type Config struct {
	SampleRate     int
	GoertzelFreqs  []float64
	WeightRMS      float64
	WeightCentroid float64
	WeightZCR      float64
	RMSThreshold   float64
	ZCRThreshold   float64
	OnThreshold    float64
	// OffThreshold is accepted and stored but reserved: clearing is governed
	// by OffHold alone.
	OffThreshold float64
	OffHold      time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 44100
	}
	if len(c.GoertzelFreqs) == 0 {
		c.GoertzelFreqs = []float64{300, 500, 1000}
	}
	if c.WeightRMS == 0 && c.WeightCentroid == 0 && c.WeightZCR == 0 {
		c.WeightRMS, c.WeightCentroid, c.WeightZCR = 0.6, 0.3, 0.1
	}
	if c.RMSThreshold <= 0 {
		c.RMSThreshold = 0.02
	}
	if c.ZCRThreshold <= 0 {
		c.ZCRThreshold = 0.05
	}
	if c.OnThreshold <= 0 {
		c.OnThreshold = 0.45
	}
	if c.OffThreshold <= 0 {
		c.OffThreshold = 0.30
	}
	if c.OffHold <= 0 {
		c.OffHold = 200 * time.Millisecond
	}
	return c
}

// Features are the per-frame measurements. All values are in [0, 1] except
// Centroid, which is normalized by the highest Goertzel frequency and so
// lands in [0, 1] as well.
type Features struct {
	Vocalness float64
	RMS       float64
	ZCR       float64
	Centroid  float64
}

// Result is one detector decision plus the features behind it.
type Result struct {
	Vocal bool
	Features
}

// Detector classifies PCM frames as vocal or not. Zero value is not usable;
// use New().
type Detector struct {
	cfg Config

	hysteresis  bool
	lastAboveTS time.Time

	now func() time.Time
}

// New returns a Detector with cleared hysteresis state.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults(), now: time.Now}
}

// Analyze extracts features from one frame. Empty or odd-length frames yield
// all-zero features.
func (d *Detector) Analyze(raw []byte) Features {
	samples := decodePCM16(raw)
	if len(samples) == 0 {
		return Features{}
	}

	rms := rms(samples)
	zcr := halfZCR(samples)

	// Spectral centroid over the Goertzel bank, normalized by the top
	// frequency so it lands in [0, 1].
	var magSum, weighted, maxFreq float64
	for _, f := range d.cfg.GoertzelFreqs {
		mag := Goertzel(samples, d.cfg.SampleRate, f)
		magSum += mag
		weighted += f * mag
		if f > maxFreq {
			maxFreq = f
		}
	}
	centroid := 0.0
	if magSum > 0 && maxFreq > 0 {
		centroid = weighted / magSum / maxFreq
	}

	rmsTerm := math.Min(1, rms/(4*d.cfg.RMSThreshold))
	zcrTerm := math.Min(1, zcr/(4*d.cfg.ZCRThreshold))
	vocalness := d.cfg.WeightRMS*rmsTerm + d.cfg.WeightCentroid*centroid + d.cfg.WeightZCR*zcrTerm
	vocalness = math.Max(0, math.Min(1, vocalness))

	return Features{Vocalness: vocalness, RMS: rms, ZCR: zcr, Centroid: centroid}
}

// IsVocal runs the decision rule on one frame and updates the hysteresis
// state. A frame is a candidate when it has energy above the RMS threshold,
// a vocalness at or above the on-threshold, and is either sibilant (high
// centroid) or voiced (low ZCR). The vocal flag clears only after OffHold of
// continuous non-candidate frames.
//
// Frames that decode to nothing leave the hysteresis state untouched; they
// carry no evidence either way.
func (d *Detector) IsVocal(raw []byte) Result {
	info := d.Analyze(raw)
	if len(raw) < 2 || len(raw)%2 != 0 {
		return Result{Vocal: d.hysteresis, Features: info}
	}

	zcrTerm := math.Min(1, info.ZCR/(4*d.cfg.ZCRThreshold))
	voiced := (1 - zcrTerm) > 0.55
	candidate := info.RMS > d.cfg.RMSThreshold &&
		info.Vocalness >= d.cfg.OnThreshold &&
		(info.Centroid > 0.45 || voiced)

	now := d.now()
	if candidate {
		d.hysteresis = true
		d.lastAboveTS = now
	} else if now.Sub(d.lastAboveTS) >= d.cfg.OffHold {
		d.hysteresis = false
	}

	return Result{Vocal: d.hysteresis, Features: info}
}

// decodePCM16 converts little-endian int16 PCM bytes to normalized float64
// samples in [-1, 1). Odd-length buffers are treated as malformed and decode
// to nothing.
func decodePCM16(raw []byte) []float64 {
	if len(raw) < 2 || len(raw)%2 != 0 {
		return nil
	}
	samples := make([]float64, len(raw)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(raw[2*i:]))
		samples[i] = float64(s) / 32768.0
	}
	return samples
}

// rms returns the root-mean-square of the samples.
func rms(samples []float64) float64 {
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// halfZCR counts transitions of the positive-sign indicator between
// consecutive samples, normalized by the number of consecutive pairs
// (sample count minus one). Zero is treated as
// negative, so this is a half-zero-crossing rate; downstream thresholds are
// tuned to it.
func halfZCR(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	transitions := 0
	prev := 0
	if samples[0] > 0 {
		prev = 1
	}
	for _, s := range samples[1:] {
		cur := 0
		if s > 0 {
			cur = 1
		}
		if cur != prev {
			transitions++
		}
		prev = cur
	}
	return float64(transitions) / float64(len(samples)-1)
}

// Goertzel returns the magnitude of a single DFT bin at freq Hz, evaluated
// recursively to avoid a full transform for the handful of bins the centroid
// needs.
func Goertzel(samples []float64, sampleRate int, freq float64) float64 {
	omega := 2 * math.Pi * freq / float64(sampleRate)
	coeff := 2 * math.Cos(omega)
	var s1, s2 float64
	for _, x := range samples {
		s := x + coeff*s1 - s2
		s2 = s1
		s1 = s
	}
	return math.Sqrt(math.Max(0, s2*s2+s1*s1-coeff*s1*s2))
}
