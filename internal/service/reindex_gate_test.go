package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeRecorder struct {
	attempts map[string]int64
	err      error
}

func (f *fakeRecorder) LastAttempt(ctx context.Context, videoID string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.attempts[videoID], nil
}

func (f *fakeRecorder) Record(ctx context.Context, videoID string, at int64) error {
	if f.err != nil {
		return f.err
	}
	f.attempts[videoID] = at
	return nil
}

func TestReindexGate(t *testing.T) {
	base := time.Unix(1_000_000, 0)

	testCases := []struct {
		name          string
		elapsed       time.Duration
		wantRemaining int64
	}{
		{name: "immediately after", elapsed: 0, wantRemaining: 300},
		{name: "mid cooldown", elapsed: 100 * time.Second, wantRemaining: 200},
		{name: "one second early", elapsed: 299 * time.Second, wantRemaining: 1},
		{name: "exactly at boundary", elapsed: 300 * time.Second, wantRemaining: 0},
		{name: "after cooldown", elapsed: 301 * time.Second, wantRemaining: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			recorder := &fakeRecorder{attempts: map[string]int64{"vid1": base.Unix()}}
			now := base.Add(tc.elapsed)
			gate := NewReindexGate(recorder, 300*time.Second).WithClock(func() time.Time { return now })

			err := gate.Check(context.Background(), "vid1")

			if tc.wantRemaining > 0 {
				var cooldown *CooldownError
				if !errors.As(err, &cooldown) {
					t.Fatalf("Check = %v, want CooldownError", err)
				}
				if cooldown.Remaining != tc.wantRemaining {
					t.Errorf("Remaining = %d, want %d", cooldown.Remaining, tc.wantRemaining)
				}
				// A rejected attempt must not refresh the recorded time.
				if recorder.attempts["vid1"] != base.Unix() {
					t.Error("rejected attempt overwrote the recorded time")
				}
			} else {
				if err != nil {
					t.Fatalf("Check = %v, want allowed", err)
				}
				if recorder.attempts["vid1"] != now.Unix() {
					t.Errorf("allowed attempt recorded %d, want %d", recorder.attempts["vid1"], now.Unix())
				}
			}
		})
	}
}

func TestReindexGateFirstAttemptAllowed(t *testing.T) {
	recorder := &fakeRecorder{attempts: map[string]int64{}}
	now := time.Unix(2_000_000, 0)
	gate := NewReindexGate(recorder, 300*time.Second).WithClock(func() time.Time { return now })

	if err := gate.Check(context.Background(), "fresh"); err != nil {
		t.Fatalf("first Check = %v, want allowed", err)
	}
	if recorder.attempts["fresh"] != now.Unix() {
		t.Errorf("attempt not recorded, got %d", recorder.attempts["fresh"])
	}
}

func TestReindexGatePerVideo(t *testing.T) {
	base := time.Unix(1_000_000, 0)
	recorder := &fakeRecorder{attempts: map[string]int64{"busy": base.Unix()}}
	gate := NewReindexGate(recorder, 300*time.Second).WithClock(func() time.Time { return base.Add(10 * time.Second) })

	if err := gate.Check(context.Background(), "busy"); err == nil {
		t.Error("busy video allowed during cooldown")
	}
	if err := gate.Check(context.Background(), "idle"); err != nil {
		t.Errorf("idle video rejected: %v", err)
	}
}

func TestReindexGateRecorderError(t *testing.T) {
	gate := NewReindexGate(&fakeRecorder{err: errors.New("db down")}, 300*time.Second)

	err := gate.Check(context.Background(), "vid1")
	if err == nil {
		t.Fatal("Check succeeded with failing recorder")
	}
	var cooldown *CooldownError
	if errors.As(err, &cooldown) {
		t.Error("storage failure reported as cooldown")
	}
}
