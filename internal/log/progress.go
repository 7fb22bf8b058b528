package log

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ProgressIndicator reports progress for a long-running, countable
// operation — a parameter sweep's tasks or a pipeline's per-exchange
// fan-out — to stdout, with an optional spinner and ETA.
type ProgressIndicator struct {
	mu           sync.Mutex
	name         string
	total        int
	current      int
	startTime    time.Time
	lastUpdate   time.Time
	spinner      *Spinner
	showSpinner  bool
	showProgress bool
	showETA      bool
}

// Spinner animates a rotating character on its own goroutine until Stop.
type Spinner struct {
	chars    []string
	current  int
	interval time.Duration
	stop     chan bool
	running  bool
	mu       sync.Mutex
}

// ProgressConfig configures a ProgressIndicator's display.
type ProgressConfig struct {
	ShowSpinner  bool
	ShowProgress bool
	ShowETA      bool
	SpinnerStyle SpinnerStyle
}

// SpinnerStyle selects a Spinner's character set.
type SpinnerStyle string

const (
	SpinnerDots     SpinnerStyle = "dots"
	SpinnerLine     SpinnerStyle = "line"
	SpinnerClock    SpinnerStyle = "clock"
	SpinnerBounce   SpinnerStyle = "bounce"
	SpinnerPipeline SpinnerStyle = "pipeline"
)

// NewProgressIndicator builds a ProgressIndicator for total items and
// starts its spinner, if config enables one.
func NewProgressIndicator(name string, total int, config ProgressConfig) *ProgressIndicator {
	pi := &ProgressIndicator{
		name:         name,
		total:        total,
		startTime:    time.Now(),
		lastUpdate:   time.Now(),
		showSpinner:  config.ShowSpinner,
		showProgress: config.ShowProgress,
		showETA:      config.ShowETA,
	}

	if config.ShowSpinner {
		pi.spinner = NewSpinner(config.SpinnerStyle)
		pi.spinner.Start()
	}

	return pi
}

// NewSpinner builds a Spinner with the given character set.
func NewSpinner(style SpinnerStyle) *Spinner {
	s := &Spinner{
		interval: 100 * time.Millisecond,
		stop:     make(chan bool, 1),
	}

	switch style {
	case SpinnerDots:
		s.chars = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	case SpinnerLine:
		s.chars = []string{"-", "\\", "|", "/"}
	case SpinnerClock:
		s.chars = []string{"🕐", "🕑", "🕒", "🕓", "🕔", "🕕", "🕖", "🕗", "🕘", "🕙", "🕚", "🕛"}
	case SpinnerBounce:
		s.chars = []string{"▁", "▂", "▃", "▄", "▅", "▆", "▇", "█", "▇", "▆", "▅", "▄", "▃", "▁"}
	case SpinnerPipeline:
		s.chars = []string{"⚡", "🔄", "⚙️", "🔧", "⚡"}
		s.interval = 200 * time.Millisecond
	default:
		s.chars = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	}

	return s
}

// Start begins the spinner's animation goroutine, if not already running.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.running = true
	go s.spin()
}

// Stop halts the spinner's animation goroutine.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.running = false
	s.stop <- true
}

func (s *Spinner) spin() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.current = (s.current + 1) % len(s.chars)
			s.mu.Unlock()
		}
	}
}

// Current returns the spinner's current character.
func (s *Spinner) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chars[s.current]
}

// Increment advances progress by one completed item.
func (pi *ProgressIndicator) Increment() {
	pi.Update(pi.current + 1)
}

// Update sets the current item count and redraws the line.
func (pi *ProgressIndicator) Update(current int) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	pi.current = current
	pi.lastUpdate = time.Now()

	if pi.showProgress || pi.showETA {
		pi.printProgress()
	}
}

// UpdateWithMessage sets the current item count and redraws with a
// trailing status message (e.g. the item just completed).
func (pi *ProgressIndicator) UpdateWithMessage(current int, message string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	pi.current = current
	pi.lastUpdate = time.Now()
	pi.printProgressWithMessage(message)
}

// Finish stops the spinner (if any) and prints a completion line.
func (pi *ProgressIndicator) Finish() {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	if pi.spinner != nil {
		pi.spinner.Stop()
	}

	duration := time.Since(pi.startTime)
	fmt.Printf("\r%s: done (%d items, %v)\n", pi.name, pi.total, duration.Round(time.Millisecond))
}

// FinishWithMessage stops the spinner (if any) and prints a completion
// line carrying a custom summary message.
func (pi *ProgressIndicator) FinishWithMessage(message string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	if pi.spinner != nil {
		pi.spinner.Stop()
	}

	duration := time.Since(pi.startTime)
	fmt.Printf("\r%s: %s (%v)\n", pi.name, message, duration.Round(time.Millisecond))
}

// Fail stops the spinner (if any) and prints a failure line.
func (pi *ProgressIndicator) Fail(reason string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	if pi.spinner != nil {
		pi.spinner.Stop()
	}

	duration := time.Since(pi.startTime)
	fmt.Printf("\r%s: failed: %s (%v)\n", pi.name, reason, duration.Round(time.Millisecond))
}

func (pi *ProgressIndicator) printProgress() {
	pi.printProgressWithMessage("")
}

func (pi *ProgressIndicator) printProgressWithMessage(message string) {
	var output strings.Builder

	output.WriteString("\r\033[K")

	if pi.spinner != nil && pi.showSpinner {
		output.WriteString(pi.spinner.Current())
		output.WriteString(" ")
	}

	output.WriteString(pi.name)

	if pi.showProgress && pi.total > 0 {
		percentage := float64(pi.current) / float64(pi.total) * 100
		barWidth := 20
		filled := int(float64(barWidth) * float64(pi.current) / float64(pi.total))

		output.WriteString(" [")
		for i := 0; i < barWidth; i++ {
			if i < filled {
				output.WriteString("█")
			} else {
				output.WriteString("░")
			}
		}
		output.WriteString(fmt.Sprintf("] %d/%d (%.1f%%)", pi.current, pi.total, percentage))
	} else if pi.total > 0 {
		output.WriteString(fmt.Sprintf(" (%d/%d)", pi.current, pi.total))
	}

	if pi.showETA && pi.total > 0 && pi.current > 0 {
		elapsed := time.Since(pi.startTime)
		rate := float64(pi.current) / elapsed.Seconds()
		remaining := pi.total - pi.current
		eta := time.Duration(float64(remaining)/rate) * time.Second

		if eta > time.Hour {
			output.WriteString(fmt.Sprintf(" ETA: %v", eta.Round(time.Minute)))
		} else {
			output.WriteString(fmt.Sprintf(" ETA: %v", eta.Round(time.Second)))
		}
	}

	if message != "" {
		output.WriteString(" - ")
		output.WriteString(message)
	}

	fmt.Print(output.String())
}

// StepLogger tracks named stages of a multi-stage operation — the
// data pipeline's per-exchange fan-out, or an experiment sweep's
// expand/run/checkpoint stages — logging each stage's start/completion
// and a timing summary at the end, through an injected logger rather
// than zerolog's package-level default.
type StepLogger struct {
	log         zerolog.Logger
	steps       []string
	currentStep int
	startTime   time.Time
	stepTimes   []time.Duration
	progress    *ProgressIndicator
}

// NewStepLogger builds a StepLogger for the named steps, reporting
// through log.
func NewStepLogger(log zerolog.Logger, name string, steps []string) *StepLogger {
	config := ProgressConfig{
		ShowSpinner:  true,
		ShowProgress: true,
		ShowETA:      true,
		SpinnerStyle: SpinnerPipeline,
	}

	return &StepLogger{
		log:         log,
		steps:       steps,
		currentStep: -1,
		startTime:   time.Now(),
		stepTimes:   make([]time.Duration, len(steps)),
		progress:    NewProgressIndicator(name, len(steps), config),
	}
}

// StartStep marks stepName as the current stage.
func (sl *StepLogger) StartStep(stepName string) {
	stepIndex := -1
	for i, step := range sl.steps {
		if step == stepName {
			stepIndex = i
			break
		}
	}

	if stepIndex == -1 {
		sl.log.Warn().Str("step", stepName).Msg("unknown sweep step")
		return
	}

	if sl.currentStep >= 0 {
		sl.stepTimes[sl.currentStep] = time.Since(sl.startTime) - sl.getTotalElapsed()
	}

	sl.currentStep = stepIndex
	sl.progress.UpdateWithMessage(stepIndex+1, stepName)

	sl.log.Info().
		Str("step", stepName).
		Int("step_number", stepIndex+1).
		Int("total_steps", len(sl.steps)).
		Msg("starting step")
}

// CompleteStep records the current step's duration.
func (sl *StepLogger) CompleteStep() {
	if sl.currentStep >= 0 {
		stepDuration := time.Since(sl.startTime) - sl.getTotalElapsed()
		sl.stepTimes[sl.currentStep] = stepDuration

		sl.log.Info().
			Str("step", sl.steps[sl.currentStep]).
			Dur("duration", stepDuration).
			Msg("step completed")
	}
}

// Finish completes the current step and logs a per-step timing summary.
func (sl *StepLogger) Finish() {
	sl.CompleteStep()
	totalDuration := time.Since(sl.startTime)

	sl.progress.FinishWithMessage(fmt.Sprintf("all %d steps completed", len(sl.steps)))

	sl.log.Info().Dur("total_duration", totalDuration).Msg("steps finished, timing summary follows")

	for i, step := range sl.steps {
		if i < len(sl.stepTimes) {
			percentage := float64(sl.stepTimes[i]) / float64(totalDuration) * 100
			sl.log.Info().
				Str("step", step).
				Dur("duration", sl.stepTimes[i]).
				Float64("percentage", percentage).
				Msgf("  %d. %s", i+1, step)
		}
	}
}

// Fail marks the current step as failed.
func (sl *StepLogger) Fail(reason string) {
	sl.progress.Fail(reason)

	sl.log.Error().
		Str("failed_step", sl.getCurrentStepName()).
		Int("completed_steps", sl.currentStep).
		Int("total_steps", len(sl.steps)).
		Str("reason", reason).
		Msg("step failed")
}

func (sl *StepLogger) getCurrentStepName() string {
	if sl.currentStep >= 0 && sl.currentStep < len(sl.steps) {
		return sl.steps[sl.currentStep]
	}
	return "unknown"
}

func (sl *StepLogger) getTotalElapsed() time.Duration {
	var total time.Duration
	for i := 0; i < sl.currentStep; i++ {
		if i < len(sl.stepTimes) {
			total += sl.stepTimes[i]
		}
	}
	return total
}

// DefaultProgressConfig shows the spinner, progress bar, and ETA.
func DefaultProgressConfig() ProgressConfig {
	return ProgressConfig{
		ShowSpinner:  true,
		ShowProgress: true,
		ShowETA:      true,
		SpinnerStyle: SpinnerDots,
	}
}

// QuietProgressConfig disables the spinner, bar and ETA; Update stays
// silent, while UpdateWithMessage, Finish, FinishWithMessage and Fail
// still print.
func QuietProgressConfig() ProgressConfig {
	return ProgressConfig{
		ShowSpinner:  false,
		ShowProgress: false,
		ShowETA:      false,
		SpinnerStyle: SpinnerDots,
	}
}
