package identity

import "time"

// IsWithinThresholdPeriod checks if the given time is within the threshold
func IsWithinThresholdPeriod(t time.Time, pattern string) (bool, error) {
	return IsWithinThresholdPeriodAt(time.Now(), t, pattern)
}

// IsWithinThresholdPeriodAt is the clock injectable variant
func IsWithinThresholdPeriodAt(now, t time.Time, pattern string) (bool, error) {
	duration, err := time.ParseDuration(pattern)
	if err != nil {
		return false, err
	}

	threshold := now.Add(-duration)
	if t.After(threshold) {
		return true, nil
	}

	return false, nil
}

// IsOutsideThresholdPeriod is the negation of IsWithinThresholdPeriod
func IsOutsideThresholdPeriod(t time.Time, pattern string) (bool, error) {
	valid, err := IsWithinThresholdPeriod(t, pattern)
	if err != nil {
		return false, err
	}

	return !valid, nil
}

// ThrottleRemaining returns how long until the window elapses since last,
// zero when the window is already open
func ThrottleRemaining(now, last time.Time, window time.Duration) time.Duration {
	elapsed := now.Sub(last)
	if elapsed >= window {
		return 0
	}
	return window - elapsed
}
