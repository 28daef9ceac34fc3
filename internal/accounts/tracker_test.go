package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/yuegongzi/copilot-api/internal/copilot"
)

func TestTracker_ObserveSuccessRecordsQuota(t *testing.T) {
	tracker := NewTracker(TrackerConfig{}, nil)
	defer tracker.Close()
	ctx := context.Background()

	remaining := 42
	reset := time.Now().Add(time.Hour).Truncate(time.Second)
	tracker.ObserveSuccess(ctx, "a1", copilot.RateLimitInfo{Remaining: &remaining, ResetAt: &reset})

	state := tracker.State(ctx, "a1")
	if state.Remaining == nil || *state.Remaining != 42 {
		t.Errorf("remaining = %v", state.Remaining)
	}
	if state.ResetAt == nil || !state.ResetAt.Equal(reset) {
		t.Errorf("reset = %v", state.ResetAt)
	}
	if state.CoolingDown(time.Now()) {
		t.Error("success must not start a cooldown")
	}
}

func TestTracker_ObserveRateLimitedUsesResetAt(t *testing.T) {
	tracker := NewTracker(TrackerConfig{}, nil)
	defer tracker.Close()
	ctx := context.Background()

	reset := time.Now().Add(30 * time.Minute)
	tracker.ObserveRateLimited(ctx, "a1", copilot.RateLimitInfo{ResetAt: &reset})

	state := tracker.State(ctx, "a1")
	if !state.CoolingDown(time.Now()) {
		t.Fatal("account should be cooling down")
	}
	if !state.CooldownUntil.Equal(reset) {
		t.Errorf("cooldown until = %v, want %v", state.CooldownUntil, reset)
	}
	if state.Remaining == nil || *state.Remaining != 0 {
		t.Errorf("remaining = %v, want 0", state.Remaining)
	}
}

func TestTracker_ObserveRateLimitedDefaultCooldown(t *testing.T) {
	tracker := NewTracker(TrackerConfig{DefaultCooldown: 10 * time.Minute}, nil)
	defer tracker.Close()
	ctx := context.Background()

	before := time.Now()
	tracker.ObserveRateLimited(ctx, "a1", copilot.RateLimitInfo{})

	state := tracker.State(ctx, "a1")
	min := before.Add(9 * time.Minute)
	if state.CooldownUntil.Before(min) {
		t.Errorf("cooldown until = %v, want at least %v", state.CooldownUntil, min)
	}
}

func TestTracker_LaterTimestampWins(t *testing.T) {
	tracker := NewTracker(TrackerConfig{}, nil)
	defer tracker.Close()
	ctx := context.Background()

	reset := time.Now().Add(10 * time.Minute)
	retry := 40 * time.Minute
	tracker.ObserveRateLimited(ctx, "a1", copilot.RateLimitInfo{ResetAt: &reset, RetryAfter: &retry})

	state := tracker.State(ctx, "a1")
	if !state.CooldownUntil.After(reset) {
		t.Errorf("cooldown until = %v, want after %v (retry-after is later)", state.CooldownUntil, reset)
	}
}

func TestTracker_CooldownNeverShrinks(t *testing.T) {
	tracker := NewTracker(TrackerConfig{}, nil)
	defer tracker.Close()
	ctx := context.Background()

	far := time.Now().Add(time.Hour)
	tracker.ObserveRateLimited(ctx, "a1", copilot.RateLimitInfo{ResetAt: &far})
	near := time.Now().Add(time.Minute)
	tracker.ObserveRateLimited(ctx, "a1", copilot.RateLimitInfo{ResetAt: &near})

	state := tracker.State(ctx, "a1")
	if !state.CooldownUntil.Equal(far) {
		t.Errorf("cooldown until = %v, want %v", state.CooldownUntil, far)
	}

	// A success afterwards must not clear the active cooldown either.
	remaining := 5
	tracker.ObserveSuccess(ctx, "a1", copilot.RateLimitInfo{Remaining: &remaining})
	state = tracker.State(ctx, "a1")
	if !state.CooldownUntil.Equal(far) {
		t.Errorf("cooldown after success = %v, want %v", state.CooldownUntil, far)
	}
}

func TestTracker_Penalize(t *testing.T) {
	tracker := NewTracker(TrackerConfig{}, nil)
	defer tracker.Close()
	ctx := context.Background()

	tracker.Penalize(ctx, "a1", time.Minute)
	if !tracker.State(ctx, "a1").CoolingDown(time.Now()) {
		t.Error("penalized account should be cooling down")
	}
}

func TestTracker_Reset(t *testing.T) {
	tracker := NewTracker(TrackerConfig{}, nil)
	defer tracker.Close()
	ctx := context.Background()

	tracker.ObserveRateLimited(ctx, "a1", copilot.RateLimitInfo{})
	if err := tracker.Reset(ctx, "a1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	state := tracker.State(ctx, "a1")
	if state.CoolingDown(time.Now()) || state.Remaining != nil {
		t.Errorf("state after reset = %+v", state)
	}
}
