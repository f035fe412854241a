// Package util provides shared helpers: probability-list parsing for flags
// and an error aggregate.
package util

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ─── Probability Lists ────────────────────────────────────────────────────────

// ParseFloats parses a comma-separated list of numbers, or a sequence written
// as from:to:by (inclusive of to when it falls on the step).
func ParseFloats(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty list")
	}
	if strings.Contains(s, ":") {
		return parseSeq(s)
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", p)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty list")
	}
	return out, nil
}

func parseSeq(s string) ([]float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid sequence %q: expected from:to:by", s)
	}
	var v [3]float64
	for i, p := range parts {
		x, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid sequence %q: %q is not a number", s, p)
		}
		v[i] = x
	}
	from, to, by := v[0], v[1], v[2]
	if by <= 0 || to < from {
		return nil, fmt.Errorf("invalid sequence %q: need from <= to and by > 0", s)
	}
	n := int(math.Floor((to-from)/by+1e-10)) + 1
	out := make([]float64, n)
	for i := range out {
		// Snap to 12 decimals to drop accumulated step error.
		out[i] = math.Round((from+float64(i)*by)*1e12) / 1e12
	}
	return out, nil
}

// ─── Error Helpers ────────────────────────────────────────────────────────────

// MultiError collects multiple errors and presents them as one.
type MultiError struct {
	Errors []error
}

func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

func (m *MultiError) Err() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}

func (m *MultiError) Error() string {
	msgs := make([]string, len(m.Errors))
	for i, e := range m.Errors {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (m *MultiError) Unwrap() []error { return m.Errors }

