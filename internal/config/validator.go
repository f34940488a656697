package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // config key, e.g. "locator.retries"
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the accepted log levels.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks c and returns every problem found.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if c.Server.Addr == "" {
		errs = append(errs, ValidationError{"server.addr", c.Server.Addr, "must not be empty"})
	}
	if c.Server.Heartbeat <= 0 {
		errs = append(errs, ValidationError{"server.heartbeat", c.Server.Heartbeat, "must be positive"})
	}
	if c.Storage.Path == "" {
		errs = append(errs, ValidationError{"storage.path", c.Storage.Path, "must not be empty"})
	}

	if c.Orchestrator.SafetyCap < 1 {
		errs = append(errs, ValidationError{"orchestrator.safety_cap", c.Orchestrator.SafetyCap, "must be at least 1"})
	}
	if _, err := cron.ParseStandard(c.Orchestrator.KeepAlive); err != nil {
		errs = append(errs, ValidationError{"orchestrator.keepalive", c.Orchestrator.KeepAlive, "invalid schedule: " + err.Error()})
	}
	if c.Orchestrator.PreloadReadyRetries < 1 {
		errs = append(errs, ValidationError{"orchestrator.preload_ready_retries", c.Orchestrator.PreloadReadyRetries, "must be at least 1"})
	}

	errs = append(errs, c.Locator.validate("locator")...)
	errs = append(errs, c.Ready.validate("ready")...)

	t := c.Timing
	for key, d := range map[string]time.Duration{
		"timing.poll":           t.Poll,
		"timing.start_timeout":  t.StartTimeout,
		"timing.finish_timeout": t.FinishTimeout,
		"timing.stable_window":  t.StableWindow,
		"timing.stable_timeout": t.StableTimeout,
	} {
		if d <= 0 {
			errs = append(errs, ValidationError{key, d, "must be positive"})
		}
	}
	if t.StableWindow > t.StableTimeout {
		errs = append(errs, ValidationError{"timing.stable_window", t.StableWindow, "must not exceed timing.stable_timeout"})
	}

	if !slices.Contains(ValidLogLevels(), c.Log.Level) {
		errs = append(errs, ValidationError{"log.level", c.Log.Level, "must be one of " + strings.Join(ValidLogLevels(), ", ")})
	}

	slices.SortFunc(errs, func(a, b ValidationError) int { return strings.Compare(a.Field, b.Field) })
	return errs
}

func (p PollConfig) validate(prefix string) []ValidationError {
	var errs []ValidationError
	if p.Retries < 1 {
		errs = append(errs, ValidationError{prefix + ".retries", p.Retries, "must be at least 1"})
	}
	if p.Interval <= 0 {
		errs = append(errs, ValidationError{prefix + ".interval", p.Interval, "must be positive"})
	}
	return errs
}
