// Package params holds the key-value job parameters shared by sources,
// readers and writers.
package params

import (
	"strconv"
	"strings"
)

// Well-known keys.
const (
	InputFile                 = "input.file"
	OutputFile                = "output.file"
	SkipLines                 = "input.skip_lines"
	Encoding                  = "input.encoding"
	ConsistentLineTerminators = "input.consistent_line_terminators"
	JobID                     = "job.id"
)

// FileScheme is stripped from file locations.
const FileScheme = "file://"

// Params is a bag of job parameters.
type Params map[string]string

// String returns the value for key, or def when absent.
func (p Params) String(key, def string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return def
}

// Int returns the integer value for key, or def when absent or invalid.
func (p Params) Int(key string, def int) int {
	v, ok := p[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// Bool returns the boolean value for key, or def when absent or invalid.
func (p Params) Bool(key string, def bool) bool {
	v, ok := p[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// With returns a copy of p with key set to value.
func (p Params) With(key, value string) Params {
	out := make(Params, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out[key] = value
	return out
}

// StripFileScheme removes a leading file:// from a location.
func StripFileScheme(location string) string {
	return strings.TrimPrefix(location, FileScheme)
}
