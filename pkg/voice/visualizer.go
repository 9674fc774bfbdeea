package voice

import (
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/voxline/voxline/pkg/audio"
)

// Visualizer defaults. The band spanning 10%-40% of the available
// frequency bins approximates typical speech-relevant frequencies; the
// offset/scale pair maps ambient-room magnitudes onto a usable 0..1
// meter range.
const (
	bandLowFrac  = 0.10
	bandHighFrac = 0.40

	defaultVizOffset = 0.005
	defaultVizScale  = 0.25
)

// Visualizer derives a normalized 0..1 audio-energy value from the most
// recent capture block for on-screen animation. It is read-only with
// respect to the encode/send path: Feed stores a copy of the block, and
// Tick (driven by the render loop while the session is active) computes
// the frequency-domain band average. Publishing stops and the value
// resets to zero the moment the session is inactive.
type Visualizer struct {
	mu      sync.Mutex
	fft     *fourier.FFT
	block   []float64
	value   float64
	active  bool
	offset  float64
	scale   float64
	samples int
}

// NewVisualizer creates a visualizer for the fixed capture block size.
func NewVisualizer() *Visualizer {
	return &Visualizer{
		fft:     fourier.NewFFT(BlockSamples),
		offset:  defaultVizOffset,
		scale:   defaultVizScale,
		samples: BlockSamples,
	}
}

// SetActive enables or disables publishing. Deactivating resets the
// published value to zero immediately.
func (v *Visualizer) SetActive(active bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.active = active
	if !active {
		v.value = 0
		v.block = nil
	}
}

// Feed stores the latest capture block (PCM16LE). Cheap; called from the
// capture path without blocking it.
func (v *Visualizer) Feed(pcm []byte) {
	samples, err := audio.DecodePCM16(pcm)
	if err != nil || len(samples) != v.samples {
		return
	}
	v.mu.Lock()
	v.block = samples
	v.mu.Unlock()
}

// Tick recomputes the published value from the stored block: average
// FFT magnitude over the speech band, normalized through
// clamp((avg-offset)/scale, 0, 1).
func (v *Visualizer) Tick() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.active || v.block == nil {
		v.value = 0
		return 0
	}

	coeffs := v.fft.Coefficients(nil, v.block)
	lo := int(float64(len(coeffs)) * bandLowFrac)
	hi := int(float64(len(coeffs)) * bandHighFrac)
	if hi <= lo {
		hi = lo + 1
	}
	if hi > len(coeffs) {
		hi = len(coeffs)
	}

	var sum float64
	for _, c := range coeffs[lo:hi] {
		sum += cmplx.Abs(c)
	}
	avg := sum / float64(hi-lo) / float64(v.samples/2)

	value := (avg - v.offset) / v.scale
	if value < 0 {
		value = 0
	} else if value > 1 {
		value = 1
	}
	v.value = value
	return value
}

// Value returns the last published value without recomputing.
func (v *Visualizer) Value() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value
}
