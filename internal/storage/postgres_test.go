package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/puddle/v2"
)

func TestIsTransientSQLStates(t *testing.T) {
	transient := []string{"08000", "08003", "08006", "57P03", "53300"}
	for _, code := range transient {
		err := &pgconn.PgError{Code: code}
		if !isTransient(err) {
			t.Errorf("expected SQLSTATE %s to be transient", code)
		}
	}
}

func TestIsTransientPermanentSQLState(t *testing.T) {
	err := &pgconn.PgError{Code: "23505"} // unique_violation, not in our transient set
	if isTransient(err) {
		t.Error("expected unique_violation to be classified permanent")
	}
}

func TestIsTransientPoolTimeoutAndClosed(t *testing.T) {
	if !isTransient(context.DeadlineExceeded) {
		t.Error("expected context.DeadlineExceeded to be transient (pool acquisition timeout)")
	}
	if !isTransient(puddle.ErrClosedPool) {
		t.Error("expected puddle.ErrClosedPool to be transient (pool closed)")
	}
}

func TestIsTransientNilIsFalse(t *testing.T) {
	if isTransient(nil) {
		t.Error("nil error must not be transient")
	}
}

func TestIsTransientPlainErrorIsPermanent(t *testing.T) {
	if isTransient(errors.New("boom")) {
		t.Error("a plain error with no classification should be permanent")
	}
}

func TestBackoffMSSequenceMatchesSpecCap(t *testing.T) {
	// 100 * min(2^(attempt-1), 32) ms
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
	}
	for i, w := range want {
		got := backoffMS(i + 1)
		if got != w {
			t.Errorf("attempt %d: got %v want %v", i+1, got, w)
		}
	}
	// attempt 6 and beyond stay capped at 100*32=3200ms
	if got := backoffMS(6); got != 3200*time.Millisecond {
		t.Errorf("expected cap at 3200ms, got %v", got)
	}
}
