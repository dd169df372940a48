package models

import (
	"testing"
	"time"
)

func TestActivityIdentity(t *testing.T) {
	scheduledOn := time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)
	got := ActivityIdentity("plan-1", "act-1", scheduledOn)
	want := "plan-1:act-1:2026-03-15T09:30:00"
	if got != want {
		t.Errorf("expected identity %q, got %q", want, got)
	}

	// Same logical occurrence always yields the same identity.
	if again := ActivityIdentity("plan-1", "act-1", scheduledOn); again != got {
		t.Errorf("identity not stable: %q vs %q", got, again)
	}
}

func TestScheduledActivityStatus(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-2 * time.Hour)
	recent := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name     string
		activity ScheduledActivity
		want     ActivityStatus
	}{
		{
			name:     "future occurrence is scheduled",
			activity: ScheduledActivity{LocalScheduledOn: future},
			want:     StatusScheduled,
		},
		{
			name:     "past occurrence without expiry is available",
			activity: ScheduledActivity{LocalScheduledOn: past},
			want:     StatusAvailable,
		},
		{
			name:     "started activity is started",
			activity: ScheduledActivity{LocalScheduledOn: past, StartedOn: &recent},
			want:     StatusStarted,
		},
		{
			name:     "started and finished activity is finished",
			activity: ScheduledActivity{LocalScheduledOn: past, StartedOn: &recent, FinishedOn: &recent},
			want:     StatusFinished,
		},
		{
			name:     "finished without start is deleted",
			activity: ScheduledActivity{LocalScheduledOn: past, FinishedOn: &recent},
			want:     StatusDeleted,
		},
		{
			name:     "lapsed unstarted activity is expired",
			activity: ScheduledActivity{LocalScheduledOn: past, LocalExpiresOn: &recent},
			want:     StatusExpired,
		},
		{
			name:     "started activity never expires",
			activity: ScheduledActivity{LocalScheduledOn: past, LocalExpiresOn: &recent, StartedOn: &past},
			want:     StatusStarted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.activity.Status(now); got != tt.want {
				t.Errorf("expected status %q, got %q", tt.want, got)
			}
		})
	}
}

func TestScheduledActivityCopy(t *testing.T) {
	started := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	original := &ScheduledActivity{
		GUID:             "plan-1:act-1:2026-03-15T09:00:00",
		LocalScheduledOn: started.Add(-time.Hour),
		StartedOn:        &started,
	}

	cp := original.Copy()
	if cp.GUID != original.GUID || !cp.StartedOn.Equal(*original.StartedOn) {
		t.Fatal("copy does not match original")
	}

	// Mutating the copy's lifecycle must not leak into the original.
	finished := started.Add(time.Hour)
	cp.FinishedOn = &finished
	*cp.StartedOn = started.Add(30 * time.Minute)
	if original.FinishedOn != nil {
		t.Error("FinishedOn leaked into original")
	}
	if !original.StartedOn.Equal(started) {
		t.Error("StartedOn mutation leaked into original")
	}
}
