// Package diag defines the fatal error categories and the non-fatal,
// attributable warnings produced while preparing a panel and running the
// bootstrap. Fatal conditions are returned as *Error; everything else is
// recorded on a Collector and travels with the result.
package diag

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ─── Fatal errors ─────────────────────────────────────────────────────────────

// ErrorKind classifies a fatal error.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindDataSufficiency ErrorKind = "data_sufficiency"
)

// Sentinels for errors.Is.
var (
	ErrValidation      = errors.New("validation error")
	ErrDataSufficiency = errors.New("data sufficiency error")
)

// Error is a fatal, pre- or mid-computation failure that aborts the run.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches the package sentinels by kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrDataSufficiency:
		return e.Kind == KindDataSufficiency
	}
	return false
}

// Validationf builds a validation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// WrapValidation marks cause as a validation failure.
func WrapValidation(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// DataSufficiencyf builds a data sufficiency error.
func DataSufficiencyf(format string, args ...any) *Error {
	return &Error{Kind: KindDataSufficiency, Message: fmt.Sprintf(format, args...)}
}

// ─── Warnings ─────────────────────────────────────────────────────────────────

// WarningKind classifies a non-fatal condition.
type WarningKind string

const (
	WarnDataSufficiency      WarningKind = "data_sufficiency"
	WarnConfiguration        WarningKind = "configuration"
	WarnEventStudyAdjustment WarningKind = "event_study_adjustment"
	WarnCohortSize           WarningKind = "cohort_size"
	WarnMissingOutcome       WarningKind = "missing_outcome"
)

// RunLevel is the Replicate value of warnings not tied to one replicate.
const RunLevel = -1

// Warning is a non-fatal condition attributable to its origin.
// Combination is the canonical combination key, empty when not applicable.
type Warning struct {
	Kind        WarningKind `json:"kind" yaml:"kind"`
	Replicate   int         `json:"replicate" yaml:"replicate"`
	Combination string      `json:"combination,omitempty" yaml:"combination,omitempty"`
	Message     string      `json:"message" yaml:"message"`
}

func (w Warning) String() string {
	s := string(w.Kind)
	if w.Replicate != RunLevel {
		s += fmt.Sprintf(" [rep %d]", w.Replicate)
	}
	if w.Combination != "" {
		s += " [" + w.Combination + "]"
	}
	return s + ": " + w.Message
}

// Collector accumulates warnings from concurrent replicates. Every warning is
// kept; only the log echo is throttled.
type Collector struct {
	mu       sync.Mutex
	warnings []Warning
	echo     map[WarningKind]*rate.Sometimes
	logger   *slog.Logger
}

// NewCollector returns a Collector that echoes to logger (slog.Default if nil).
func NewCollector(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		echo:   make(map[WarningKind]*rate.Sometimes),
		logger: logger,
	}
}

// Add records w.
func (c *Collector) Add(w Warning) {
	c.mu.Lock()
	c.warnings = append(c.warnings, w)
	s, ok := c.echo[w.Kind]
	if !ok {
		s = &rate.Sometimes{First: 5, Interval: 2 * time.Second}
		c.echo[w.Kind] = s
	}
	c.mu.Unlock()

	s.Do(func() {
		args := []any{"kind", w.Kind}
		if w.Replicate != RunLevel {
			args = append(args, "replicate", w.Replicate)
		}
		if w.Combination != "" {
			args = append(args, "combination", w.Combination)
		}
		c.logger.Warn(w.Message, args...)
	})
}

// Warnf records a warning built from a format string.
func (c *Collector) Warnf(kind WarningKind, replicate int, combination, format string, args ...any) {
	c.Add(Warning{Kind: kind, Replicate: replicate, Combination: combination, Message: fmt.Sprintf(format, args...)})
}

// Warnings returns a copy of all warnings, ordered by replicate then
// insertion order within a replicate.
func (c *Collector) Warnings() []Warning {
	c.mu.Lock()
	out := make([]Warning, len(c.warnings))
	copy(out, c.warnings)
	c.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Replicate < out[j].Replicate })
	return out
}

// ForReplicate returns the warnings attributed to replicate j.
func (c *Collector) ForReplicate(j int) []Warning {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Warning
	for _, w := range c.warnings {
		if w.Replicate == j {
			out = append(out, w)
		}
	}
	return out
}

// Count returns the number of warnings of the given kind.
func (c *Collector) Count(kind WarningKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.warnings {
		if w.Kind == kind {
			n++
		}
	}
	return n
}
