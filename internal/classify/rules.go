// Package classify turns the free-text output of a trial process into
// structured phase, severity, and metric updates.
//
// Classification is driven by ordered, declarative rule tables rather than
// inline conditionals, so the coupling to the exact wording of the trial
// program's log output is explicit, configurable, and testable in
// isolation. The default tables mirror the wording the mining and
// backtest programs actually emit today; if that wording changes, the
// tables are the single place to update.
package classify

import (
	"regexp"
	"strconv"
	"strings"
)

// Phase is a coarse stage of a trial's progress.
type Phase string

const (
	PhasePlanning    Phase = "planning"
	PhaseEvolving    Phase = "evolving"
	PhaseBacktesting Phase = "backtesting"
	PhaseAnalyzing   Phase = "analyzing"
	PhaseCompleted   Phase = "completed"
)

// Level is the severity assigned to a single output line.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

// PhaseRule maps a line substring to a phase transition.
// Rules are evaluated in order; the first match wins.
type PhaseRule struct {
	Match      string `mapstructure:"match" yaml:"match"`
	IgnoreCase bool   `mapstructure:"ignore_case" yaml:"ignore_case"`
	Phase      Phase  `mapstructure:"phase" yaml:"phase"`
}

// LevelRule maps a line substring to a severity level.
// Rules are evaluated in order; the first match wins; unmatched lines
// are info.
type LevelRule struct {
	Match      string `mapstructure:"match" yaml:"match"`
	IgnoreCase bool   `mapstructure:"ignore_case" yaml:"ignore_case"`
	Level      Level  `mapstructure:"level" yaml:"level"`
}

// Rules is the full declarative rule set for one classifier.
type Rules struct {
	// Noise is a denylist of known-benign substrings. Matching lines are
	// dropped before any further processing: never counted, classified,
	// or stored.
	Noise []string `mapstructure:"noise" yaml:"noise"`

	// Phases drive the phase state machine.
	Phases []PhaseRule `mapstructure:"phases" yaml:"phases"`

	// Levels drive severity classification.
	Levels []LevelRule `mapstructure:"levels" yaml:"levels"`

	// ForwardMarkers are substrings that force a line to be forwarded as
	// a live log event even when the 1-in-3 throttle would skip it.
	// Error and warning lines always bypass the throttle.
	ForwardMarkers []string `mapstructure:"forward_markers" yaml:"forward_markers"`
}

// metricPattern matches NAME=<numeric> metric markers, e.g. "RankIC=0.0016".
var metricPattern = regexp.MustCompile(`([A-Za-z][A-Za-z0-9_]*)=(-?\d+(?:\.\d+)?(?:[eE][-+]?\d+)?)`)

// DefaultRules returns the rule tables matching the current wording of
// the mining and backtest programs. The Chinese markers are the literal
// strings those programs print.
func DefaultRules() Rules {
	return Rules{
		Noise: []string{
			"field data contains nan",          // some instruments have NaN open/close
			"common_infra",                     // executor init chatter
			"PyTorch models are skipped",       // LightGBM-only runs
			"UserWarning: pkg_resources",       // setuptools deprecation noise
			"Training until validation scores", // LightGBM verbose rounds
			"FutureWarning",
			"UserWarning",
			"Did not meet early stopping",
			"num_leaves is set=",
		},
		Phases: []PhaseRule{
			{Match: "factor_propose", Phase: PhaseEvolving},
			{Match: "factor_backtest", Phase: PhaseBacktesting},
			{Match: "backtest", IgnoreCase: true, Phase: PhaseBacktesting},
			{Match: "feedback", Phase: PhaseAnalyzing},
			{Match: "factor_calculate", Phase: PhaseEvolving},
			{Match: "规划", Phase: PhasePlanning},
			{Match: "planning", IgnoreCase: true, Phase: PhasePlanning},
			{Match: "进化完成", Phase: PhaseCompleted},
			{Match: "程序执行完成", Phase: PhaseCompleted},
		},
		Levels: []LevelRule{
			{Match: "ERROR", Level: LevelError},
			{Match: "Error", Level: LevelError},
			{Match: "WARNING", Level: LevelWarning},
			{Match: "Warning", Level: LevelWarning},
			{Match: "完成", Level: LevelSuccess},
			{Match: "success", IgnoreCase: true, Level: LevelSuccess},
			{Match: "✓", Level: LevelSuccess},
		},
		ForwardMarkers: []string{"INFO"},
	}
}

// matchRule reports whether line matches a rule substring, honoring the
// rule's case sensitivity.
func matchRule(line, match string, ignoreCase bool) bool {
	if ignoreCase {
		return strings.Contains(strings.ToLower(line), strings.ToLower(match))
	}
	return strings.Contains(line, match)
}

// IsNoise reports whether the line matches the noise denylist.
func (r Rules) IsNoise(line string) bool {
	for _, p := range r.Noise {
		if strings.Contains(line, p) {
			return true
		}
	}
	return false
}

// MatchPhase returns the phase the line transitions to, if any.
func (r Rules) MatchPhase(line string) (Phase, bool) {
	for _, rule := range r.Phases {
		if matchRule(line, rule.Match, rule.IgnoreCase) {
			return rule.Phase, true
		}
	}
	return "", false
}

// MatchLevel returns the severity for the line, defaulting to info.
func (r Rules) MatchLevel(line string) Level {
	for _, rule := range r.Levels {
		if matchRule(line, rule.Match, rule.IgnoreCase) {
			return rule.Level
		}
	}
	return LevelInfo
}

// hasForwardMarker reports whether the line carries a marker that
// bypasses the delivery throttle.
func (r Rules) hasForwardMarker(line string) bool {
	for _, m := range r.ForwardMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// ExtractMetrics parses all NAME=<numeric> markers in the line and
// returns them keyed by canonical (lowerCamel) metric name. A line with
// no parseable markers returns nil; parse failure is never an error.
func ExtractMetrics(line string) map[string]float64 {
	matches := metricPattern.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return nil
	}

	metrics := make(map[string]float64, len(matches))
	for _, m := range matches {
		value, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		metrics[CanonicalMetricKey(m[1])] = value
	}
	if len(metrics) == 0 {
		return nil
	}
	return metrics
}

// CanonicalMetricKey converts a raw metric name to its lowerCamel form,
// collapsing initialism runs: "RankIC" -> "rankIc", "IC" -> "ic",
// "max_drawdown" -> "maxDrawdown".
func CanonicalMetricKey(name string) string {
	words := splitWords(name)
	if len(words) == 0 {
		return strings.ToLower(name)
	}

	var b strings.Builder
	for i, w := range words {
		lower := strings.ToLower(w)
		if i == 0 {
			b.WriteString(lower)
			continue
		}
		b.WriteString(strings.ToUpper(lower[:1]))
		b.WriteString(lower[1:])
	}
	return b.String()
}

// splitWords splits a metric name on underscores and camel-case
// boundaries. A run of capitals is one word, except that its last
// capital starts the next word when followed by lowercase
// ("HTMLParser" -> "HTML", "Parser").
func splitWords(name string) []string {
	var words []string
	var current []rune

	flush := func() {
		if len(current) > 0 {
			words = append(words, string(current))
			current = nil
		}
	}

	runes := []rune(name)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == '.':
			flush()
		case isUpper(r):
			prevLower := i > 0 && !isUpper(runes[i-1]) && runes[i-1] != '_' && runes[i-1] != '-' && runes[i-1] != '.'
			nextLower := i+1 < len(runes) && !isUpper(runes[i+1]) && runes[i+1] != '_' && runes[i+1] != '-' && runes[i+1] != '.'
			inUpperRun := i > 0 && isUpper(runes[i-1])
			if prevLower || (inUpperRun && nextLower) {
				flush()
			}
			current = append(current, r)
		default:
			current = append(current, r)
		}
	}
	flush()
	return words
}

func isUpper(r rune) bool {
	return r >= 'A' && r <= 'Z'
}
