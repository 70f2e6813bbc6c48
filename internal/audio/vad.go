package audio

// VADConfig tunes the energy based speech detector
type VADConfig struct {
	EnergyThreshold float64 // frame RMS above this counts as voiced
	SilenceFrames   int     // unvoiced frames that end an utterance
	OnsetFrames     int     // voiced frames in a row that start one
	FrameSize       int     // samples per frame
}

// DefaultVADConfig returns settings for 20 ms frames of 16 kHz microphone audio
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   25, // 500ms
		OnsetFrames:     3,  // 60ms, ignores clicks and pops
		FrameSize:       320,
	}
}

// VADDetector reports where speech starts and ends in a microphone stream.
// It is not safe for concurrent use.
type VADDetector struct {
	config  VADConfig
	voiced  int
	silent  int
	speech  bool
	pending []int16
}

// NewVADDetector creates a detector; zero fields of config take defaults
func NewVADDetector(config *VADConfig) *VADDetector {
	defaults := DefaultVADConfig()
	cfg := *defaults
	if config != nil {
		cfg = *config
		if cfg.EnergyThreshold <= 0 {
			cfg.EnergyThreshold = defaults.EnergyThreshold
		}
		if cfg.SilenceFrames <= 0 {
			cfg.SilenceFrames = defaults.SilenceFrames
		}
		if cfg.OnsetFrames <= 0 {
			cfg.OnsetFrames = defaults.OnsetFrames
		}
		if cfg.FrameSize <= 0 {
			cfg.FrameSize = defaults.FrameSize
		}
	}
	return &VADDetector{config: cfg}
}

// Frame classifies one frame and reports speech onset and offset
func (v *VADDetector) Frame(samples []int16) (started, ended bool) {
	if CalculateRMS(samples) > v.config.EnergyThreshold {
		v.silent = 0
		v.voiced++
		if !v.speech && v.voiced >= v.config.OnsetFrames {
			v.speech = true
			started = true
		}
		return started, false
	}

	v.voiced = 0
	if !v.speech {
		return false, false
	}
	v.silent++
	if v.silent >= v.config.SilenceFrames {
		v.speech = false
		v.silent = 0
		ended = true
	}
	return false, ended
}

// ProcessPCM runs PCM16 audio of any length through the detector. Samples
// that do not fill a frame are kept for the next call.
func (v *VADDetector) ProcessPCM(pcm []byte) (started, ended bool) {
	v.pending = append(v.pending, BytesToSamples(pcm)...)

	size := v.config.FrameSize
	for len(v.pending) >= size {
		s, e := v.Frame(v.pending[:size])
		started = started || s
		ended = ended || e
		v.pending = v.pending[size:]
	}
	if len(v.pending) == 0 {
		v.pending = nil
	}
	return started, ended
}

// InSpeech reports whether the detector is inside an utterance
func (v *VADDetector) InSpeech() bool {
	return v.speech
}

// Reset forgets all state, including partial frames
func (v *VADDetector) Reset() {
	v.voiced = 0
	v.silent = 0
	v.speech = false
	v.pending = nil
}
