package rulebook

import "testing"

func TestInfo_KnownStatuses(t *testing.T) {
	if !Info(StatusDead).IsTerminal {
		t.Error("dead should be terminal")
	}
	if !Info(StatusPending).IsActive {
		t.Error("pending should be active")
	}
	if Info(StatusSent).IsActive {
		t.Error("sent should not be active")
	}
}

func TestCanTransition(t *testing.T) {
	if !CanTransition(StatusPending, StatusScheduled) {
		t.Error("pending -> scheduled should be allowed")
	}
	if CanTransition(StatusDead, StatusPending) {
		t.Error("dead -> pending should not be allowed without resurrect")
	}
}

func TestGetActiveStatuses_MatchesI1(t *testing.T) {
	active := GetActiveStatuses()
	want := map[Status]bool{
		StatusPending: true, StatusQueued: true, StatusScheduled: true,
		StatusRescheduled: true, StatusDeferred: true,
	}
	if len(active) != len(want) {
		t.Fatalf("expected %d active statuses, got %d", len(want), len(active))
	}
	for _, s := range active {
		if !want[s] {
			t.Errorf("unexpected active status %s", s)
		}
	}
}

func TestGetFailureStatuses_IncludesSoftAndHard(t *testing.T) {
	failures := GetFailureStatuses()
	found := map[Status]bool{}
	for _, s := range failures {
		found[s] = true
	}
	for _, s := range []Status{StatusSoftBounce, StatusHardBounce, StatusBlocked, StatusSpam, StatusInvalid, StatusError, StatusFailed} {
		if !found[s] {
			t.Errorf("expected %s in failure statuses", s)
		}
	}
}

func TestIsTerminal_Paused(t *testing.T) {
	if IsTerminal(StatusPaused) {
		t.Error("paused should not be terminal, it can resume")
	}
}
