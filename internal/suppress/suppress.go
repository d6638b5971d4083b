// Package suppress implements the consecutive-failure alerting policy.
package suppress

// Decide folds one run's exit code into the consecutive-failure count and
// reports whether the run's output and exit status should be swallowed.
//
// A zero exit resets the count and is always surfaced. A non-zero exit
// increments it and is suppressed while the new count is still below the
// threshold. A threshold of zero disables suppression entirely: failures
// surface immediately, though the count still tracks them.
//
// Suppression deliberately masks real failures below the threshold: the
// wrapper exits zero and prints nothing, so a single flaky run does not
// page anyone. Callers must persist newCount on every run.
func Decide(exitCode, previous, threshold int) (newCount int, suppress bool) {
	if exitCode == 0 {
		return 0, false
	}
	newCount = previous + 1
	if threshold > 0 && newCount < threshold {
		return newCount, true
	}
	return newCount, false
}
