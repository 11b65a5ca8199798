package secrets

import (
	"sync"
	"testing"
	"time"
)

// fakeClock drives the idle-timeout decision without waiting.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testPlan() map[string]interface{} {
	return map[string]interface{}{
		"terraform_version": "1.6.2",
		"format_version":    "1.2",
		"resource_changes": []interface{}{
			map[string]interface{}{
				"address": "aws_s3_bucket.artifacts",
				"change":  map[string]interface{}{"actions": []interface{}{"create"}},
			},
			map[string]interface{}{
				"address": "aws_iam_role.deploy",
				"change":  map[string]interface{}{"actions": []interface{}{"delete", "create"}},
			},
		},
	}
}

func TestStore_RoundTrip(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	s.Store(testPlan(), SourceTFEIntegration, map[string]string{
		"workspace_id": "ws-ABC123xyz",
		"run_id":       "run-XYZ789abc",
	})

	got := s.Get()
	if got == nil {
		t.Fatal("expected a value back")
	}
	if got["terraform_version"] != "1.6.2" {
		t.Errorf("terraform_version = %v", got["terraform_version"])
	}

	info := s.SessionInfo()
	if !info.Active {
		t.Error("session should be active")
	}
	if info.Source != SourceTFEIntegration {
		t.Errorf("source = %s", info.Source)
	}
}

func TestStore_GetReturnsIndependentCopies(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	original := testPlan()
	s.Store(original, SourceFileUpload, nil)

	// Mutating the caller's original must not affect the store.
	original["terraform_version"] = "tampered-original"

	first := s.Get()
	first["terraform_version"] = "tampered-copy"
	changes := first["resource_changes"].([]interface{})
	changes[0].(map[string]interface{})["address"] = "tampered-nested"

	second := s.Get()
	if second["terraform_version"] != "1.6.2" {
		t.Errorf("store absorbed a mutation: %v", second["terraform_version"])
	}
	addr := second["resource_changes"].([]interface{})[0].(map[string]interface{})["address"]
	if addr != "aws_s3_bucket.artifacts" {
		t.Errorf("nested mutation leaked into the store: %v", addr)
	}
}

func TestStore_ClearIsIdempotent(t *testing.T) {
	cleared := 0
	reason := ""
	s := New(Options{OnCleared: func(r string) { cleared++; reason = r }})
	defer s.Close()

	s.Store(map[string]interface{}{"token": "tfe-AbCdEf0123456789xyz"}, SourceCredentials, nil)

	s.Clear()
	s.Clear()
	s.Clear()

	if s.Get() != nil {
		t.Error("value survived Clear")
	}
	if cleared != 1 {
		t.Errorf("OnCleared ran %d times, want 1", cleared)
	}
	if reason != ClearReasonManual {
		t.Errorf("clear reason = %q, want %q", reason, ClearReasonManual)
	}
	if s.SessionInfo().Active {
		t.Error("session still active after Clear")
	}
}

func TestStore_ClearOnEmptyStore(t *testing.T) {
	cleared := 0
	s := New(Options{OnCleared: func(string) { cleared++ }})
	defer s.Close()

	s.Clear()
	if cleared != 0 {
		t.Error("clearing an empty store should not fire OnCleared")
	}
}

func TestStore_CloseReportsShutdownReason(t *testing.T) {
	cleared := make(chan string, 1)
	s := New(Options{OnCleared: func(reason string) { cleared <- reason }})

	s.Store(map[string]interface{}{"token": "tfe-AbCdEf0123456789xyz"}, SourceCredentials, nil)
	s.Close()

	select {
	case reason := <-cleared:
		if reason != ClearReasonShutdown {
			t.Errorf("clear reason = %q, want %q", reason, ClearReasonShutdown)
		}
	default:
		t.Fatal("expected Close to clear the store")
	}
}

func TestStore_StoreReplacesPreviousValue(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	s.Store(map[string]interface{}{"generation": "first"}, SourceFileUpload, nil)
	s.Store(map[string]interface{}{"generation": "second"}, SourceFileUpload, nil)

	got := s.Get()
	if got["generation"] != "second" {
		t.Errorf("generation = %v, want second", got["generation"])
	}
}

func TestStore_IdleTimeoutClearsAfterFullWindow(t *testing.T) {
	clock := newFakeClock()
	cleared := make(chan string, 1)
	s := New(Options{
		Timeout:   60 * time.Second,
		Clock:     clock.Now,
		OnCleared: func(reason string) { cleared <- reason },
	})
	defer s.Close()

	s.Store(testPlan(), SourceTFEIntegration, nil)

	// The wall-clock timer has not fired yet; drive the decision directly the
	// way the timer callback would after the full window.
	clock.Advance(61 * time.Second)
	s.onIdleTimeout()

	select {
	case reason := <-cleared:
		if reason != ClearReasonTimeout {
			t.Errorf("clear reason = %q, want %q", reason, ClearReasonTimeout)
		}
	default:
		t.Fatal("expected the idle timeout to clear the store")
	}
	if s.Get() != nil {
		t.Error("value survived the idle timeout")
	}
}

func TestStore_IdleTimeoutReschedulesAfterRecentAccess(t *testing.T) {
	clock := newFakeClock()
	cleared := make(chan string, 1)
	s := New(Options{
		Timeout:   60 * time.Second,
		Clock:     clock.Now,
		OnCleared: func(reason string) { cleared <- reason },
	})
	defer s.Close()

	s.Store(testPlan(), SourceTFEIntegration, nil)

	// An access 30 seconds in means the window is only half used when the
	// timer fires; the store must survive and reschedule.
	clock.Advance(30 * time.Second)
	if s.Get() == nil {
		t.Fatal("expected the value to still be there")
	}
	clock.Advance(30 * time.Second)
	s.onIdleTimeout()

	select {
	case <-cleared:
		t.Fatal("store cleared despite a recent access")
	default:
	}
	if s.Get() == nil {
		t.Error("value should survive a half-idle window")
	}
}

func TestStore_SetSessionTimeout(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	if err := s.SetSessionTimeout(30 * time.Second); err != ErrTimeoutTooShort {
		t.Errorf("expected ErrTimeoutTooShort, got %v", err)
	}
	if err := s.SetSessionTimeout(2 * time.Minute); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if got := s.SessionInfo().Timeout; got != 2*time.Minute {
		t.Errorf("timeout = %v, want 2m", got)
	}
}

func TestStore_SessionInfoTimeRemaining(t *testing.T) {
	clock := newFakeClock()
	s := New(Options{Timeout: 10 * time.Minute, Clock: clock.Now})
	defer s.Close()

	s.Store(testPlan(), SourceTFEIntegration, nil)
	clock.Advance(4 * time.Minute)

	info := s.SessionInfo()
	if info.TimeRemaining != 6*time.Minute {
		t.Errorf("time remaining = %v, want 6m", info.TimeRemaining)
	}
}

func TestStore_MinimumTimeoutEnforcedAtConstruction(t *testing.T) {
	s := New(Options{Timeout: 5 * time.Second})
	defer s.Close()

	if got := s.SessionInfo().Timeout; got != MinSessionTimeout {
		t.Errorf("timeout = %v, want raised to %v", got, MinSessionTimeout)
	}
}

func TestStore_InstancesAreIsolated(t *testing.T) {
	a := New(Options{})
	defer a.Close()
	b := New(Options{})
	defer b.Close()

	a.Store(map[string]interface{}{"owner": "session-a"}, SourceFileUpload, nil)
	b.Store(map[string]interface{}{"owner": "session-b"}, SourceFileUpload, nil)

	a.Clear()

	if b.Get() == nil {
		t.Fatal("clearing one store wiped another")
	}
	if got := b.Get()["owner"]; got != "session-b" {
		t.Errorf("owner = %v", got)
	}
}

func TestStore_MetadataDerivedAtStoreTime(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	s.Store(testPlan(), SourceTFEIntegration, map[string]string{
		"workspace_id": "ws-ABC123xyz",
		"run_id":       "run-XYZ789abc",
	})

	meta := s.Metadata()
	if meta == nil {
		t.Fatal("expected metadata")
	}
	if meta.ResourceCount != 2 {
		t.Errorf("resource count = %d, want 2", meta.ResourceCount)
	}
	if meta.ActionSummary["create"] != 2 || meta.ActionSummary["delete"] != 1 {
		t.Errorf("action summary = %v", meta.ActionSummary)
	}
	if meta.TerraformVersion != "1.6.2" {
		t.Errorf("terraform version = %s", meta.TerraformVersion)
	}

	// Returned metadata is a copy.
	meta.ActionSummary["create"] = 99
	if s.Metadata().ActionSummary["create"] != 2 {
		t.Error("metadata mutation leaked into the store")
	}
}

func TestStore_MetadataGracefulOnUnknownShape(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	s.Store(map[string]interface{}{
		"resource_changes": "not-a-list",
		"format_version":   12,
	}, SourceTFEIntegration, nil)

	meta := s.Metadata()
	if meta == nil {
		t.Fatal("expected metadata even for odd shapes")
	}
	if meta.ResourceCount != 0 {
		t.Errorf("resource count = %d, want 0", meta.ResourceCount)
	}
	if meta.FormatVersion != "" {
		t.Errorf("format version = %q, want empty", meta.FormatVersion)
	}
}

func TestStore_CloseStopsRegistryTracking(t *testing.T) {
	before := LiveStores()
	s := New(Options{})
	if LiveStores() != before+1 {
		t.Fatalf("live stores = %d, want %d", LiveStores(), before+1)
	}

	s.Store(map[string]interface{}{"token": "tfe-AbCdEf0123456789xyz"}, SourceCredentials, nil)
	s.Close()

	if LiveStores() != before {
		t.Errorf("live stores = %d, want %d after Close", LiveStores(), before)
	}
	if s.Get() != nil {
		t.Error("Close must clear the store")
	}

	// Double close is harmless.
	s.Close()
	if LiveStores() != before {
		t.Error("double Close corrupted the registry count")
	}
}

func TestCleanupAll_ClearsEveryLiveStore(t *testing.T) {
	a := New(Options{})
	defer a.Close()
	b := New(Options{})
	defer b.Close()

	a.Store(map[string]interface{}{"owner": "a"}, SourceFileUpload, nil)
	b.Store(map[string]interface{}{"owner": "b"}, SourceFileUpload, nil)

	CleanupAll()

	if a.Get() != nil || b.Get() != nil {
		t.Error("CleanupAll left a live value behind")
	}
}

func TestCleanupAll_SurvivesPanickingCallback(t *testing.T) {
	a := New(Options{OnCleared: func(string) { panic("callback exploded") }})
	defer a.Close()
	b := New(Options{})
	defer b.Close()

	a.Store(map[string]interface{}{"owner": "a"}, SourceFileUpload, nil)
	b.Store(map[string]interface{}{"owner": "b"}, SourceFileUpload, nil)

	CleanupAll()

	if b.Get() != nil {
		t.Error("a panic in one store's callback blocked the sweep")
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	s.Store(testPlan(), SourceTFEIntegration, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				switch n % 3 {
				case 0:
					s.Get()
				case 1:
					s.SessionInfo()
				case 2:
					s.Store(testPlan(), SourceTFEIntegration, nil)
				}
			}
		}(i)
	}
	wg.Wait()

	if s.Get() == nil {
		t.Error("store lost its value under concurrent access")
	}
}
