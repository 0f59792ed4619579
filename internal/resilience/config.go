package resilience

import (
	"time"
)

// ProbeRetrySettings carries the operator-facing retry knobs for provider
// probe calls, spelled the way the config file spells them (backoffs in
// milliseconds). Unset knobs fall back to DefaultRetryConfig.
type ProbeRetrySettings struct {
	MaxAttempts      int
	InitialBackoffMs int
	MaxBackoffMs     int
	Multiplier       float64
	JitterFraction   float64
}

// Build resolves the settings into a RetryConfig.
func (s ProbeRetrySettings) Build() RetryConfig {
	cfg := DefaultRetryConfig()
	if s.MaxAttempts > 0 {
		cfg.MaxAttempts = s.MaxAttempts
	}
	if s.InitialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(s.InitialBackoffMs) * time.Millisecond
	}
	if s.MaxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(s.MaxBackoffMs) * time.Millisecond
	}
	if s.Multiplier > 0 {
		cfg.Multiplier = s.Multiplier
	}
	// Zero is meaningful here: it disables jitter entirely.
	if s.JitterFraction >= 0 {
		cfg.JitterFraction = s.JitterFraction
	}
	return cfg
}

// BreakerSettings carries the operator-facing circuit breaker knobs for the
// per-provider breakers. Unset knobs fall back to DefaultCircuitBreakerConfig.
type BreakerSettings struct {
	FailureThreshold int
	ResetTimeoutSecs int
}

// Build resolves the settings into a CircuitBreakerConfig.
func (s BreakerSettings) Build() CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if s.FailureThreshold > 0 {
		cfg.FailureThreshold = s.FailureThreshold
	}
	if s.ResetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(s.ResetTimeoutSecs) * time.Second
	}
	return cfg
}
