package audio

// LevelConfig holds configuration for speech level tracking
type LevelConfig struct {
	Threshold   float64 // RMS threshold for speech detection
	QuietFrames int     // Number of consecutive quiet frames to mark end of speech
}

// DefaultLevelConfig returns a default level meter configuration
func DefaultLevelConfig() *LevelConfig {
	return &LevelConfig{
		Threshold:   0.015, // Float samples are normalized to [-1, 1]
		QuietFrames: 8,
	}
}

// LevelMeter tracks speech activity over a stream of audio frames.
// It only informs logging and metrics: frames are always transmitted
// regardless of level, since the stream is fire-and-forget.
type LevelMeter struct {
	config       *LevelConfig
	quietCounter int
	isSpeaking   bool
	lastRMS      float64
}

// NewLevelMeter creates a new level meter
func NewLevelMeter(config *LevelConfig) *LevelMeter {
	if config == nil {
		config = DefaultLevelConfig()
	}
	return &LevelMeter{
		config:       config,
		quietCounter: 0,
		isSpeaking:   false,
	}
}

// Process processes an audio frame and returns whether speech is detected
// Returns: (isSpeaking, speechStarted, speechEnded)
func (l *LevelMeter) Process(samples []float32) (bool, bool, bool) {
	rms := RMS(samples)
	l.lastRMS = rms

	frameHasSpeech := rms > l.config.Threshold

	var speechStarted, speechEnded bool

	if frameHasSpeech {
		l.quietCounter = 0

		if !l.isSpeaking {
			speechStarted = true
			l.isSpeaking = true
		}
	} else {
		l.quietCounter++

		if l.isSpeaking && l.quietCounter >= l.config.QuietFrames {
			speechEnded = true
			l.isSpeaking = false
			l.quietCounter = 0
		}
	}

	return l.isSpeaking, speechStarted, speechEnded
}

// Reset resets the level meter state
func (l *LevelMeter) Reset() {
	l.quietCounter = 0
	l.isSpeaking = false
	l.lastRMS = 0
}

// IsSpeaking returns whether speech is currently detected
func (l *LevelMeter) IsSpeaking() bool {
	return l.isSpeaking
}

// LastRMS returns the RMS of the most recently processed frame
func (l *LevelMeter) LastRMS() float64 {
	return l.lastRMS
}
