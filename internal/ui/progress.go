package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"metricdrop/internal/deploy"
	"metricdrop/internal/harness"
)

// ProgressBar shows per-view deploy progress. It implements deploy.Observer.
type ProgressBar struct {
	total     int
	current   int
	startTime time.Time
	mu        sync.Mutex

	successCount int
	failureCount int
	currentView  string
	interactive  bool
}

// NewProgressBar creates a progress bar. On a non-interactive terminal each view is
// printed on its own line instead of redrawing the bar.
func NewProgressBar(total int) *ProgressBar {
	return &ProgressBar{
		total:       total,
		startTime:   time.Now(),
		interactive: supportsColor,
	}
}

// ViewStarted redraws the bar for the view about to be deployed.
func (p *ProgressBar) ViewStarted(index, total int, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total = total
	p.current = index
	p.currentView = name
	if p.interactive {
		p.render()
	}
}

// ViewFinished records the outcome and prints a status line for it.
func (p *ProgressBar) ViewFinished(index, total int, result deploy.ViewResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total = total
	p.current = index
	if p.interactive {
		printf("\r\033[K")
	}

	label := result.Name
	if result.Target.Catalog != "" {
		label = fmt.Sprintf("%s → %s", result.Name, result.Target)
	}

	switch result.Status {
	case deploy.StatusFailed:
		p.failureCount++
		printf("  %s %s\n", ColorError("✗"), label)
		if result.Err != nil {
			printf("    %s\n", ColorError(firstLine(result.Err)))
		}
	case deploy.StatusSkipped:
		p.successCount++
		printf("  %s %s %s\n", ColorInfo("○"), label, ColorDim("(dry run)"))
	default:
		p.successCount++
		printf("  %s %s (%s)\n", ColorSuccess("✓"), label, ColorDim(formatDuration(result.Duration.Seconds())))
	}
	if result.TagWarning != nil {
		printf("    %s %s\n", ColorWarning("⚠"), firstLine(result.TagWarning))
	}

	if p.interactive && p.current < p.total {
		p.render()
	}
}

// Finish prints the totals.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.startTime)
	mark := ColorSuccess("✓")
	if p.failureCount > 0 {
		mark = ColorError("✗")
	}
	printf("\n%s Deployment finished in %s\n", mark, formatDuration(elapsed.Seconds()))
	printf("  %s %d successful\n", ColorSuccess("✓"), p.successCount)
	if p.failureCount > 0 {
		printf("  %s %d failed\n", ColorError("✗"), p.failureCount)
	}
}

func (p *ProgressBar) render() {
	printf("\r\033[K")

	percentage := 0.0
	if p.total > 0 {
		percentage = float64(p.current) / float64(p.total) * 100
	}

	barWidth := 30
	filled := int(percentage / 100 * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	view := p.currentView
	if len(view) > 40 {
		view = "..." + view[len(view)-37:]
	}

	printf("%s %s %.0f%% [%d/%d] %s",
		ColorProgress("►"),
		bar,
		percentage,
		p.current,
		p.total,
		view,
	)
}

// TestPrinter prints one line per finished test. It implements harness.Observer.
type TestPrinter struct {
	mu       sync.Mutex
	lastView string
}

// TestFinished prints the result, grouped under a per-view heading.
func (tp *TestPrinter) TestFinished(result harness.TestResult) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if result.View != tp.lastView {
		printf("\n%s %s\n", ColorBold("▸"), ColorBold(result.View))
		tp.lastView = result.View
	}

	elapsed := ColorDim(formatDuration(result.Elapsed.Seconds()))
	if result.Passed {
		printf("  %s %s (%s)\n", ColorSuccess("✓"), result.Name, elapsed)
		return
	}
	printf("  %s %s (%s)\n", ColorError("✗"), result.Name, elapsed)
	for _, f := range result.Failures {
		printf("    %s\n", ColorError(f))
	}
	if result.Err != nil {
		printf("    %s\n", ColorError(firstLine(result.Err)))
	}
}

// Spinner represents an animated spinner for long operations
type Spinner struct {
	frames  []string
	current int
	message string
	stop    chan struct{}
	stopped bool
	mu      sync.Mutex
}

// NewSpinner creates a new spinner
func NewSpinner(message string) *Spinner {
	return &Spinner{
		frames:  []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		message: message,
		stop:    make(chan struct{}),
	}
}

// Start begins the spinner animation. Without a terminal only the message is printed.
func (s *Spinner) Start() {
	if !supportsColor {
		printf("%s...\n", s.message)
		return
	}

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				if !s.stopped {
					printf("\r%s %s", ColorProgress(s.frames[s.current]), s.message)
					s.current = (s.current + 1) % len(s.frames)
				}
				s.mu.Unlock()
			}
		}
	}()
}

// Stop stops the spinner
func (s *Spinner) Stop(success bool, message string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	close(s.stop)

	if supportsColor {
		printf("\r\033[K")
	}
	if success {
		printf("%s %s\n", ColorSuccess("✓"), message)
	} else {
		printf("%s %s\n", ColorError("✗"), message)
	}
}

// firstLine keeps the headline of multi-line application errors.
func firstLine(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return msg[:i]
	}
	return msg
}
