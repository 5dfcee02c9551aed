package hal

import "time"

// resetTimer re-arms t for d, draining a pending fire first so the next
// receive on t.C sees only the new deadline.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		drainTimer(t)
	}
	t.Reset(max(d, 0))
}

func drainTimer(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}
