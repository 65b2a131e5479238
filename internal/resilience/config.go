package resilience

import "time"

// RetryFromSettings builds a RetryConfig from configuration values. Zero or
// negative values keep the defaults.
func RetryFromSettings(maxAttempts int, initialBackoff, maxBackoff time.Duration) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoff > 0 {
		cfg.InitialBackoff = initialBackoff
	}
	if maxBackoff > 0 {
		cfg.MaxBackoff = maxBackoff
	}
	return cfg
}

// CircuitFromSettings builds a CircuitBreakerConfig from configuration
// values. A non-positive threshold disables the breaker and yields ok=false.
func CircuitFromSettings(failureThreshold int, resetTimeout time.Duration) (cfg CircuitBreakerConfig, ok bool) {
	if failureThreshold <= 0 {
		return CircuitBreakerConfig{}, false
	}
	cfg = DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = failureThreshold
	if resetTimeout > 0 {
		cfg.ResetTimeout = resetTimeout
	}
	return cfg, true
}
