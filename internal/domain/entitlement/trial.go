package entitlement

import "time"

// TrialWindow returns the start and end of a trial beginning at now
func TrialWindow(now time.Time, duration time.Duration) (time.Time, time.Time) {
	if duration <= 0 {
		duration = DefaultTrialDuration
	}
	return now, now.Add(duration)
}

// EvaluateTrialEligibility applies the trial preconditions in order.
// The first failing check wins: lifetime usage, then a currently valid grant.
func EvaluateTrialEligibility(usedBefore bool, active *Record, now time.Time) error {
	if usedBefore {
		return ErrTrialAlreadyUsed
	}
	if active.IsValidAt(now) {
		return ErrAlreadyEntitled
	}
	return nil
}
