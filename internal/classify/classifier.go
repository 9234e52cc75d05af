package classify

import (
	"strings"
	"sync"
)

// Truncation limits matching what observers can usefully display.
const (
	// MaxLogMessage is the maximum length of a stored log message.
	MaxLogMessage = 500
	// MaxProgressMessage is the maximum length of a progress message.
	MaxProgressMessage = 200
)

// Result is the structured outcome of classifying one output line.
type Result struct {
	// Line is the original line, trimmed of trailing whitespace.
	Line string

	// Level is the severity assigned to the line.
	Level Level

	// Phase is the classifier's phase after processing this line.
	Phase Phase

	// PhaseChanged is true when this line triggered a phase transition.
	PhaseChanged bool

	// Forward is true when the line should be delivered as a live log
	// event. Every line belongs in the bounded history regardless; only
	// every 3rd line, error/warning lines, and lines carrying a forward
	// marker go out live.
	Forward bool

	// Metrics holds any NAME=<numeric> values extracted from the line,
	// keyed by canonical metric name. Nil when the line carries none.
	Metrics map[string]float64
}

// Classifier is a phase state machine over one trial's output stream.
// Feed lines in emission order; the classifier never blocks and never
// fails — unparseable content degrades to an info log line.
//
// A Classifier is safe for concurrent use, though a single trial's
// stream is read by a single supervising goroutine.
type Classifier struct {
	mu        sync.Mutex
	rules     Rules
	phase     Phase
	lineCount int
}

// New creates a Classifier with the given rules, starting in the given
// phase. Mining trials start in PhasePlanning, backtest trials in
// PhaseBacktesting.
func New(rules Rules, initial Phase) *Classifier {
	return &Classifier{
		rules: rules,
		phase: initial,
	}
}

// Phase returns the current phase.
func (c *Classifier) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Classify processes one output line. The second return value is false
// when the line was dropped: empty lines and lines matching the noise
// denylist are discarded before counting, classification, or storage.
func (c *Classifier) Classify(line string) (Result, bool) {
	line = strings.TrimRight(line, " \t\r\n")
	if line == "" {
		return Result{}, false
	}
	if c.rules.IsNoise(line) {
		return Result{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lineCount++

	res := Result{
		Line:  line,
		Level: c.rules.MatchLevel(line),
		Phase: c.phase,
	}

	if next, ok := c.rules.MatchPhase(line); ok && next != c.phase {
		c.phase = next
		res.Phase = next
		res.PhaseChanged = true
	}

	res.Forward = c.lineCount%3 == 0 ||
		res.Level == LevelError ||
		res.Level == LevelWarning ||
		c.rules.hasForwardMarker(line)

	res.Metrics = ExtractMetrics(line)

	return res, true
}

// Truncate shortens s to at most max runes. Multi-byte output from the
// trial programs is common, so truncation is rune-safe.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
