package decode

import "testing"

func TestStateMachineGraph(t *testing.T) {
	cases := []struct {
		from State
		ev   Event
		want State
		ok   bool
	}{
		{Opening, EventOpenOK, Draining, true},
		{Opening, EventOpenFail, Broken, true},
		{Draining, EventFrameOK, Playing, true},
		{Draining, EventRetry, Playing, true},
		{Draining, EventEOF, Ended, true},
		{Draining, EventFatal, Broken, true},
		{Playing, EventFrameOK, Playing, true},
		{Playing, EventRetry, Playing, true},
		{Playing, EventEOF, Ended, true},
		{Playing, EventFatal, Broken, true},
		{Ended, EventFrameOK, Ended, false},
		{Broken, EventFrameOK, Broken, false},
	}

	for _, c := range cases {
		got, ok := c.from.Next(c.ev)
		if got != c.want || ok != c.ok {
			t.Errorf("%s.Next(%v) = (%s, %v), want (%s, %v)", c.from, c.ev, got, ok, c.want, c.ok)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	if !Ended.IsTerminal() || !Broken.IsTerminal() {
		t.Fatal("Ended and Broken must be terminal")
	}
	if Opening.IsTerminal() || Draining.IsTerminal() || Playing.IsTerminal() {
		t.Fatal("Opening/Draining/Playing must not be terminal")
	}
}

// TestHardwareFallbackBoundary exercises the §8 boundary table on the
// fallback counter: 2 consecutive failures do not call for the software
// fallback, 3 do. The counter lives outside the state machine proper.
func TestHardwareFallbackBoundary(t *testing.T) {
	d := &decoderFallback{maxAttempts: 3}

	d.recordAttempt(false) // failure 1
	d.recordAttempt(false) // failure 2
	if d.shouldFallBack() {
		t.Fatal("2 consecutive failures must not trigger fallback")
	}
	d.recordAttempt(false) // failure 3
	if !d.shouldFallBack() {
		t.Fatal("3 consecutive failures must trigger fallback")
	}
}

func TestHardwareFallbackResetsOnSuccess(t *testing.T) {
	d := &decoderFallback{maxAttempts: 3}
	d.recordAttempt(false)
	d.recordAttempt(false)
	d.recordAttempt(true) // a good frame resets the streak
	if d.consecutiveFailures != 0 {
		t.Fatalf("success must reset consecutive failure count, got %d", d.consecutiveFailures)
	}
}
