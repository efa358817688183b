// SPDX-License-Identifier: LGPL-3.0-or-later

package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHealthCheckerRegisterAndCheck(t *testing.T) {
	checker := NewHealthChecker(1 * time.Second)

	checker.RegisterCheck("healthy", func(ctx context.Context) error { return nil })
	checker.RegisterCheck("unhealthy", func(ctx context.Context) error { return errors.New("unavailable") })

	result, err := checker.Check(context.Background(), "healthy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", result.Status)
	}

	result, err = checker.Check(context.Background(), "unhealthy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", result.Status)
	}
}

func TestHealthCheckerOverallStatus(t *testing.T) {
	checker := NewHealthChecker(1 * time.Second)
	checker.RegisterCheck("a", func(ctx context.Context) error { return nil })
	checker.RegisterCheck("b", func(ctx context.Context) error { return nil })

	if status := checker.GetOverallStatus(context.Background()); status != StatusHealthy {
		t.Errorf("expected healthy, got %s", status)
	}

	checker.RegisterCheck("c", func(ctx context.Context) error { return errors.New("down") })
	if status := checker.GetOverallStatus(context.Background()); status != StatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", status)
	}
}

func TestStoreHealthCheck(t *testing.T) {
	check := StoreHealthCheck(func(ctx context.Context) error { return nil })
	if err := check(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	check = StoreHealthCheck(nil)
	if err := check(context.Background()); err == nil {
		t.Error("expected error for nil checker")
	}
}

func TestIdentityHealthCheck(t *testing.T) {
	check := IdentityHealthCheck(func() error { return nil })
	if err := check(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	check = IdentityHealthCheck(func() error { return errors.New("profile missing") })
	if err := check(context.Background()); err == nil {
		t.Error("expected error")
	}
}
