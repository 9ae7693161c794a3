package shared

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsSQLiteConflictError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("exec: database is locked"), true},
		{errors.New("no such table: conversations"), false},
	}
	for _, tt := range tests {
		if got := IsSQLiteConflictError(tt.err); got != tt.want {
			t.Errorf("IsSQLiteConflictError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRetryOnConflict(t *testing.T) {
	t.Parallel()

	calls := 0
	err := RetryOnConflict(context.Background(), RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}, "test", func() error {
		calls++
		if calls < 3 {
			return errors.New("SQLITE_BUSY")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryOnConflictStopsOnOtherErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	boom := errors.New("constraint failed")
	err := RetryOnConflict(context.Background(), DefaultRetryPolicy, "test", func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}
