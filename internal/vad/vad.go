// Package vad implements energy-based voice activity detection with ambient
// calibration.
//
// A [Detector] consumes capture frames via [Detector.Feed] and runs a
// detection loop in [Detector.Run]. On startup it samples the ambient noise
// level and derives an adaptive speech threshold; afterwards it emits
// [Event] values for speech starts, completed utterances, and barge-in
// interrupts. Detection is level-based rather than model-based: the capture
// path already delivers normalised RMS levels, and an adaptive threshold
// over those is what the interrupt and end-pointing logic needs.
package vad

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nova-voice/callengine/pkg/audio"
)

// EventType enumerates detector outputs.
type EventType int

const (
	// EventCalibrated fires once when ambient calibration completes.
	EventCalibrated EventType = iota

	// EventCalibrationFailed fires instead of EventCalibrated when the
	// calibration timeout expires before enough ambient samples arrive.
	// The capture path is not delivering signal; callers must treat this
	// as a fatal capture error. Run returns after emitting it.
	EventCalibrationFailed

	// EventSpeechStart fires when the level first crosses the threshold.
	EventSpeechStart

	// EventSpeechEnd fires when a speech burst of at least the minimum
	// duration is followed by sustained silence. The utterance is complete.
	EventSpeechEnd

	// EventTooShort fires instead of EventSpeechEnd when the burst was
	// shorter than the minimum speech duration. Likely a cough or noise.
	EventTooShort

	// EventInterrupt fires when speech starts while playback is active.
	// At most one interrupt fires per speech burst.
	EventInterrupt
)

// String returns the event type's name.
func (t EventType) String() string {
	switch t {
	case EventCalibrated:
		return "calibrated"
	case EventCalibrationFailed:
		return "calibration_failed"
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechEnd:
		return "speech_end"
	case EventTooShort:
		return "too_short"
	case EventInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

// Event is one detector output.
type Event struct {
	Type EventType

	// Level is the RMS level that produced the event.
	Level float64

	// Threshold is the active speech threshold.
	Threshold float64

	// Duration is the speech burst length for EventSpeechEnd and
	// EventTooShort; zero otherwise.
	Duration time.Duration
}

// Config tunes a [Detector]. Zero fields take the documented defaults.
type Config struct {
	// Tick is the detection loop interval. Default: 50ms.
	Tick time.Duration

	// CalibrationTick is the sampling interval during ambient calibration.
	// Default: 100ms.
	CalibrationTick time.Duration

	// CalibrationSamples is how many ambient samples to collect. Default: 20
	// (about two seconds at the default tick).
	CalibrationSamples int

	// CalibrationTimeout bounds calibration; on expiry the floor threshold
	// is used. Default: 5s.
	CalibrationTimeout time.Duration

	// ThresholdMultiplier scales the ambient median into the speech
	// threshold. Default: 2.5.
	ThresholdMultiplier float64

	// ThresholdFloor is the minimum speech threshold regardless of how
	// quiet the room is. Default: 0.12.
	ThresholdFloor float64

	// SilenceDuration is how long the level must stay below threshold for a
	// burst to end. Default: 1s.
	SilenceDuration time.Duration

	// MinSpeechDuration is the shortest burst accepted as an utterance.
	// Default: 1.5s.
	MinSpeechDuration time.Duration

	// UtteranceCooldown is the minimum gap between finalized utterances.
	// A burst ending within the cooldown of the previous EventSpeechEnd is
	// discarded, so noise windows cannot re-finalize back to back.
	// Default: 3s.
	UtteranceCooldown time.Duration

	// InterruptCooldown is the minimum gap between interrupt events.
	// Default: 3s.
	InterruptCooldown time.Duration

	// PlaybackActive reports whether response audio is currently playing.
	// Speech during playback raises EventInterrupt. May be nil.
	PlaybackActive func() bool
}

func (c *Config) applyDefaults() {
	if c.Tick <= 0 {
		c.Tick = 50 * time.Millisecond
	}
	if c.CalibrationTick <= 0 {
		c.CalibrationTick = 100 * time.Millisecond
	}
	if c.CalibrationSamples <= 0 {
		c.CalibrationSamples = 20
	}
	if c.CalibrationTimeout <= 0 {
		c.CalibrationTimeout = 5 * time.Second
	}
	if c.ThresholdMultiplier <= 0 {
		c.ThresholdMultiplier = 2.5
	}
	if c.ThresholdFloor <= 0 {
		c.ThresholdFloor = 0.12
	}
	if c.SilenceDuration <= 0 {
		c.SilenceDuration = time.Second
	}
	if c.MinSpeechDuration <= 0 {
		c.MinSpeechDuration = 1500 * time.Millisecond
	}
	if c.UtteranceCooldown <= 0 {
		c.UtteranceCooldown = 3 * time.Second
	}
	if c.InterruptCooldown <= 0 {
		c.InterruptCooldown = 3 * time.Second
	}
}

// Detector is a calibrating, level-based voice activity detector. Feed and
// Run may be called from different goroutines.
type Detector struct {
	cfg    Config
	events chan Event

	mu        sync.Mutex
	level     float64
	haveLevel bool
	threshold float64
	muted     bool
}

// New creates a Detector. Call [Detector.Run] to start detection.
func New(cfg Config) *Detector {
	cfg.applyDefaults()
	return &Detector{
		cfg:    cfg,
		events: make(chan Event, 16),
	}
}

// Events returns the detector's output channel. It is closed when Run
// returns.
func (d *Detector) Events() <-chan Event { return d.events }

// Feed records the latest capture frame's level. Cheap enough to call for
// every frame.
func (d *Detector) Feed(frame audio.Frame) {
	level := audio.RMSLevel(frame.Data)
	d.mu.Lock()
	d.level = level
	d.haveLevel = true
	d.mu.Unlock()
}

// SetMuted suspends detection while muted; a burst in progress is abandoned.
func (d *Detector) SetMuted(muted bool) {
	d.mu.Lock()
	d.muted = muted
	d.mu.Unlock()
}

// Threshold returns the active speech threshold (zero until calibration
// completes).
func (d *Detector) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}

// Run calibrates against ambient noise, then detects speech until ctx is
// cancelled. A calibration timeout emits EventCalibrationFailed and returns:
// no ambient samples means the capture path is dead, and detecting against
// the floor would leave the session listening to nothing. The events channel
// is closed on return.
func (d *Detector) Run(ctx context.Context) {
	defer close(d.events)

	threshold, ok := d.calibrate(ctx)
	if ctx.Err() != nil {
		return
	}
	if !ok {
		slog.Error("vad calibration timed out, no capture signal")
		d.emit(Event{Type: EventCalibrationFailed, Threshold: threshold})
		return
	}
	d.mu.Lock()
	d.threshold = threshold
	d.mu.Unlock()
	slog.Info("vad calibrated", "threshold", threshold)
	d.emit(Event{Type: EventCalibrated, Threshold: threshold})

	d.detect(ctx, threshold)
}

// calibrate samples the ambient level and returns the derived threshold. The
// second return is false when the timeout expired before enough samples
// arrived.
func (d *Detector) calibrate(ctx context.Context) (float64, bool) {
	samples := make([]float64, 0, d.cfg.CalibrationSamples)
	ticker := time.NewTicker(d.cfg.CalibrationTick)
	defer ticker.Stop()
	deadline := time.NewTimer(d.cfg.CalibrationTimeout)
	defer deadline.Stop()

	for len(samples) < d.cfg.CalibrationSamples {
		select {
		case <-ctx.Done():
			return d.cfg.ThresholdFloor, false
		case <-deadline.C:
			return d.cfg.ThresholdFloor, false
		case <-ticker.C:
			d.mu.Lock()
			level, have := d.level, d.haveLevel
			d.mu.Unlock()
			if have {
				samples = append(samples, level)
			}
		}
	}

	sort.Float64s(samples)
	median := samples[len(samples)/2]
	threshold := median * d.cfg.ThresholdMultiplier
	if threshold < d.cfg.ThresholdFloor {
		threshold = d.cfg.ThresholdFloor
	}
	return threshold, true
}

// detect runs the speech state machine until ctx is cancelled.
func (d *Detector) detect(ctx context.Context, threshold float64) {
	ticker := time.NewTicker(d.cfg.Tick)
	defer ticker.Stop()

	var (
		speaking      bool
		speechStart   time.Time
		lastVoice     time.Time
		lastUtterance time.Time
		interrupted   bool
		lastInterrupt time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		d.mu.Lock()
		level := d.level
		muted := d.muted
		d.mu.Unlock()

		if muted {
			speaking = false
			interrupted = false
			continue
		}

		now := time.Now()
		voiced := level >= threshold

		switch {
		case voiced && !speaking:
			speaking = true
			interrupted = false
			speechStart = now
			lastVoice = now
			d.emit(Event{Type: EventSpeechStart, Level: level, Threshold: threshold})

			if d.cfg.PlaybackActive != nil && d.cfg.PlaybackActive() &&
				now.Sub(lastInterrupt) >= d.cfg.InterruptCooldown {
				interrupted = true
				lastInterrupt = now
				d.emit(Event{Type: EventInterrupt, Level: level, Threshold: threshold})
			}

		case voiced && speaking:
			lastVoice = now
			// A burst that began before playback started can still barge in.
			if !interrupted && d.cfg.PlaybackActive != nil && d.cfg.PlaybackActive() &&
				now.Sub(lastInterrupt) >= d.cfg.InterruptCooldown {
				interrupted = true
				lastInterrupt = now
				d.emit(Event{Type: EventInterrupt, Level: level, Threshold: threshold})
			}

		case !voiced && speaking:
			if now.Sub(lastVoice) < d.cfg.SilenceDuration {
				continue
			}
			speaking = false
			burst := lastVoice.Sub(speechStart)
			if burst < d.cfg.MinSpeechDuration {
				d.emit(Event{Type: EventTooShort, Level: level, Threshold: threshold, Duration: burst})
				continue
			}
			if !lastUtterance.IsZero() && now.Sub(lastUtterance) < d.cfg.UtteranceCooldown {
				slog.Debug("utterance within cooldown of previous, discarding",
					"since", now.Sub(lastUtterance), "cooldown", d.cfg.UtteranceCooldown)
				continue
			}
			lastUtterance = now
			d.emit(Event{Type: EventSpeechEnd, Level: level, Threshold: threshold, Duration: burst})
		}
	}
}

// emit sends without blocking; a full channel drops the event. The consumer
// keeping up matters more than a complete event history.
func (d *Detector) emit(evt Event) {
	select {
	case d.events <- evt:
	default:
		slog.Warn("vad event dropped, consumer not keeping up", "type", evt.Type.String())
	}
}
