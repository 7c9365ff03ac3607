// Package bftconfig loads and validates the three configuration files a
// replica starts from: Parameters, Committee, and Secret (spec §6
// "Configuration files"). Validation follows the teacher's config package
// pattern: collect every problem found rather than stopping at the first,
// so a misconfigured replica gets one complete diagnostic instead of a
// fix-one-rerun-find-the-next loop (spec §7: "Configuration error: fail
// at startup with a specific diagnostic naming the field").
package bftconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Parameters holds the tunables every protocol core and the synchronizer
// read at startup (spec §6).
type Parameters struct {
	TimeoutDelayMs   uint64 `yaml:"timeout_delay_ms"`
	SyncRetryDelayMs uint64 `yaml:"sync_retry_delay_ms"`
	MinBlockDelayMs  uint64 `yaml:"min_block_delay_ms"`
	MaxPayloadSize   uint64 `yaml:"max_payload_size"`
	QueueCapacity    int    `yaml:"queue_capacity"`
}

// Default mirrors the teacher's baked-in defaults for a single-datacenter
// committee, used when no Parameters file is given (spec §6: "run ...
// [--parameters P]" — the flag is optional).
func Default() Parameters {
	return Parameters{
		TimeoutDelayMs:   5000,
		SyncRetryDelayMs: 2000,
		MinBlockDelayMs:  500,
		MaxPayloadSize:   500_000,
		QueueCapacity:    1000,
	}
}

func (p Parameters) TimeoutDelay() time.Duration {
	return time.Duration(p.TimeoutDelayMs) * time.Millisecond
}

func (p Parameters) SyncRetryDelay() time.Duration {
	return time.Duration(p.SyncRetryDelayMs) * time.Millisecond
}

func (p Parameters) MinBlockDelay() time.Duration {
	return time.Duration(p.MinBlockDelayMs) * time.Millisecond
}

// LoadParameters reads a YAML Parameters file.
func LoadParameters(path string) (Parameters, error) {
	p := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("bftconfig: read parameters file: %w", err)
	}
	if err := yaml.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("bftconfig: parse parameters file: %w", err)
	}
	if res := p.Validate(); !res.OK() {
		return p, res
	}
	return p, nil
}

// Validate checks every field independently and returns every violation
// found, not just the first.
func (p Parameters) Validate() ValidationResult {
	var res ValidationResult
	if p.TimeoutDelayMs == 0 {
		res.add("timeout_delay_ms", "must be positive")
	}
	if p.SyncRetryDelayMs == 0 {
		res.add("sync_retry_delay_ms", "must be positive")
	}
	if p.MaxPayloadSize == 0 {
		res.add("max_payload_size", "must be positive")
	}
	if p.QueueCapacity < 1 {
		res.add("queue_capacity", "must be at least 1")
	}
	return res
}

// ValidationError names the single offending field and the problem with
// it (spec §7: "fail at startup with a specific diagnostic naming the
// field").
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Reason) }

// ValidationResult accumulates every ValidationError found while checking
// a config file, grounded on the teacher's config/validator.go pattern of
// collecting all problems before reporting.
type ValidationResult struct {
	Errors []ValidationError
}

func (r *ValidationResult) add(field, reason string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Reason: reason})
}

func (r ValidationResult) OK() bool { return len(r.Errors) == 0 }

func (r ValidationResult) Error() string {
	if len(r.Errors) == 0 {
		return ""
	}
	msg := fmt.Sprintf("%d configuration error(s):", len(r.Errors))
	for _, e := range r.Errors {
		msg += "\n  - " + e.Error()
	}
	return msg
}
