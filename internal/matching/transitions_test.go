package matching_test

import (
	"testing"

	"onetime/matching-service/internal/matching"
)

// ── ParseStatus ────────────────────────────────────────────────────────────

func TestParseStatus_ValidValues(t *testing.T) {
	valid := []string{"PENDING", "ACCEPTED", "REJECTED", "EXPIRED"}
	for _, s := range valid {
		got, err := matching.ParseStatus(s)
		if err != nil {
			t.Errorf("ParseStatus(%q) returned unexpected error: %v", s, err)
		}
		if string(got) != s {
			t.Errorf("ParseStatus(%q) = %q, want %q", s, got, s)
		}
	}
}

func TestParseStatus_Invalid(t *testing.T) {
	for _, s := range []string{"", "UNKNOWN", "pending", " PENDING", "PENDING "} {
		if _, err := matching.ParseStatus(s); err == nil {
			t.Errorf("ParseStatus(%q) expected error, got nil", s)
		}
	}
}

// ── IsTransitionAllowed ────────────────────────────────────────────────────

func TestIsTransitionAllowed_FromPending(t *testing.T) {
	for _, to := range []matching.SessionStatus{
		matching.StatusAccepted,
		matching.StatusRejected,
		matching.StatusExpired,
	} {
		if !matching.IsTransitionAllowed(matching.StatusPending, to) {
			t.Errorf("IsTransitionAllowed(PENDING → %s) should be true", to)
		}
	}
}

func TestIsTransitionAllowed_PendingToPending(t *testing.T) {
	if matching.IsTransitionAllowed(matching.StatusPending, matching.StatusPending) {
		t.Error("IsTransitionAllowed(PENDING → PENDING) should be false")
	}
}

// No transition leaves a terminal state, whatever the target.
func TestIsTransitionAllowed_TerminalStatesHaveNoOutgoing(t *testing.T) {
	all := []matching.SessionStatus{
		matching.StatusPending,
		matching.StatusAccepted,
		matching.StatusRejected,
		matching.StatusExpired,
	}
	terminals := []matching.SessionStatus{
		matching.StatusAccepted,
		matching.StatusRejected,
		matching.StatusExpired,
	}
	for _, from := range terminals {
		if !matching.IsTerminal(from) {
			t.Errorf("IsTerminal(%s) should be true", from)
		}
		for _, to := range all {
			if matching.IsTransitionAllowed(from, to) {
				t.Errorf("IsTransitionAllowed(%s → %s) should be false", from, to)
			}
		}
	}
	if matching.IsTerminal(matching.StatusPending) {
		t.Error("IsTerminal(PENDING) should be false")
	}
}

func TestIsTransitionAllowed_UnknownStatus(t *testing.T) {
	if matching.IsTransitionAllowed("GHOST", matching.StatusAccepted) {
		t.Error("unknown source status must not allow any transition")
	}
}

// ── ParseResponse ──────────────────────────────────────────────────────────

func TestParseResponse(t *testing.T) {
	cases := []struct {
		in      string
		want    matching.Response
		wantErr bool
	}{
		{"accept", matching.ResponseAccept, false},
		{"reject", matching.ResponseReject, false},
		{"ACCEPT", "", true},
		{"yes", "", true},
		{"", "", true},
	}
	for _, c := range cases {
		got, err := matching.ParseResponse(c.in)
		if (err != nil) != c.wantErr {
			t.Errorf("ParseResponse(%q) error = %v, wantErr %v", c.in, err, c.wantErr)
			continue
		}
		if got != c.want {
			t.Errorf("ParseResponse(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
