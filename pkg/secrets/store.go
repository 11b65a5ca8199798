// Package secrets provides a time-boxed, memory-only container for
// credentials and retrieved plan payloads. Stored values are never written
// to durable storage; they are deep-copied on every read, overwritten in
// place before being dropped, and cleared automatically after a period of
// inactivity.
package secrets

import (
	"sync"
	"time"
)

// Source tags where a stored value came from.
type Source string

const (
	// SourceFileUpload marks plan JSON supplied directly by the user.
	SourceFileUpload Source = "file_upload"

	// SourceTFEIntegration marks plan JSON retrieved from a TFE server.
	SourceTFEIntegration Source = "tfe_integration"

	// SourceCredentials marks a stored connection descriptor.
	SourceCredentials Source = "credentials"
)

const (
	// DefaultSessionTimeout is the idle window after which a store clears
	// itself.
	DefaultSessionTimeout = 10 * time.Minute

	// MinSessionTimeout is the smallest accepted idle window.
	MinSessionTimeout = 60 * time.Second
)

// Reasons passed to OnCleared, telling the callback what triggered the wipe.
const (
	ClearReasonManual   = "manual"
	ClearReasonTimeout  = "timeout"
	ClearReasonShutdown = "shutdown"
)

// SessionInfo is the non-sensitive view of a store's lifecycle state.
type SessionInfo struct {
	Active        bool          `json:"active"`
	TimeRemaining time.Duration `json:"time_remaining"`
	LastAccess    time.Time     `json:"last_access"`
	Timeout       time.Duration `json:"timeout"`
	Source        Source        `json:"source,omitempty"`
}

// Options configures a Store.
type Options struct {
	// Timeout is the idle window before auto-clear. Defaults to
	// DefaultSessionTimeout; values below MinSessionTimeout are raised to it.
	Timeout time.Duration

	// Clock overrides time.Now, used by tests to drive the idle check.
	Clock func() time.Time

	// OnCleared is invoked (outside the store lock) after every clear, with
	// a ClearReason constant telling it whether the wipe was explicit,
	// idle-triggered, or part of shutdown.
	OnCleared func(reason string)
}

// Store holds one secret value at a time. All operations are mutex-guarded
// so foreground reads can never observe a half-cleared value while the idle
// timer fires.
type Store struct {
	mu sync.Mutex

	value      map[string]interface{}
	source     Source
	tags       map[string]string
	meta       *PlanMetadata
	active     bool
	lastAccess time.Time
	timeout    time.Duration
	timer      *time.Timer

	clock     func() time.Time
	onCleared func(reason string)
	closed    bool
}

// New creates an empty store and registers it for global cleanup.
func New(opts Options) *Store {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	if timeout < MinSessionTimeout {
		timeout = MinSessionTimeout
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	s := &Store{
		timeout:   timeout,
		clock:     clock,
		onCleared: opts.OnCleared,
	}
	register(s)
	return s
}

// Store takes ownership of a deep copy of value, marks the session active,
// and (re)arms the idle timer. Any previously held value is wiped first. The
// caller is responsible for validating the value; the store never inspects
// it beyond metadata derivation for plan sources.
func (s *Store) Store(value map[string]interface{}, source Source, tags map[string]string) {
	s.mu.Lock()

	if s.value != nil {
		wipeValue(s.value)
	}

	s.value = copyMap(value)
	s.source = source
	s.tags = make(map[string]string, len(tags))
	for k, v := range tags {
		s.tags[k] = v
	}
	s.meta = nil
	if source == SourceTFEIntegration || source == SourceFileUpload {
		s.meta = deriveMetadata(s.value, tags["workspace_id"], tags["run_id"])
	}
	s.active = true
	s.lastAccess = s.clock()
	s.armTimerLocked(s.timeout)

	s.mu.Unlock()
}

// Get returns an independent deep copy of the stored value, or nil when
// nothing is held. Every read bumps the last-access time and rearms the idle
// timer.
func (s *Store) Get() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || s.value == nil {
		return nil
	}
	s.lastAccess = s.clock()
	s.armTimerLocked(s.timeout)
	return copyMap(s.value)
}

// Clear overwrites the held value in place (strings become stars of equal
// length, other scalars become nil), drops the reference, cancels the idle
// timer, and flips the session inactive. Clearing an empty store is a no-op.
func (s *Store) Clear() {
	s.clear(ClearReasonManual)
}

// clear runs the teardown and reports the reason to the OnCleared callback.
func (s *Store) clear(reason string) {
	s.mu.Lock()
	cleared := s.clearLocked()
	s.mu.Unlock()

	if cleared && s.onCleared != nil {
		s.onCleared(reason)
	}
}

// clearLocked is the single mutating teardown path; callers hold s.mu.
func (s *Store) clearLocked() bool {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if !s.active && s.value == nil {
		return false
	}
	if s.value != nil {
		wipeValue(s.value)
		s.value = nil
	}
	s.tags = nil
	s.meta = nil
	s.active = false
	return true
}

// SessionInfo reports lifecycle state without touching the stored value.
func (s *Store) SessionInfo() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := SessionInfo{
		Active:     s.active,
		LastAccess: s.lastAccess,
		Timeout:    s.timeout,
		Source:     s.source,
	}
	if s.active {
		remaining := s.timeout - s.clock().Sub(s.lastAccess)
		if remaining < 0 {
			remaining = 0
		}
		info.TimeRemaining = remaining
	}
	return info
}

// SetSessionTimeout adjusts the idle window. Values below MinSessionTimeout
// are rejected.
func (s *Store) SetSessionTimeout(d time.Duration) error {
	if d < MinSessionTimeout {
		return ErrTimeoutTooShort
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.timeout = d
	if s.active {
		s.armTimerLocked(s.timeout)
	}
	return nil
}

// Metadata returns a copy of the derived non-sensitive plan metadata, or nil
// when no plan is held.
func (s *Store) Metadata() *PlanMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || s.meta == nil {
		return nil
	}
	m := *s.meta
	m.ActionSummary = make(map[string]int, len(s.meta.ActionSummary))
	for k, v := range s.meta.ActionSummary {
		m.ActionSummary[k] = v
	}
	return &m
}

// Close clears the store and removes it from the global registry. A closed
// store stays usable as an empty store but will no longer be swept by
// CleanupAll.
func (s *Store) Close() {
	s.clear(ClearReasonShutdown)

	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()

	if !already {
		deregister(s)
	}
}

// armTimerLocked (re)schedules the idle check; callers hold s.mu.
func (s *Store) armTimerLocked(d time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(d, s.onIdleTimeout)
}

// onIdleTimeout runs on the timer goroutine. If the store has been idle for
// the full window it clears; otherwise an access landed after the timer was
// armed and the check is rescheduled for the remaining time.
func (s *Store) onIdleTimeout() {
	s.mu.Lock()
	cleared := s.expireIfIdleLocked()
	s.mu.Unlock()

	if cleared && s.onCleared != nil {
		s.onCleared(ClearReasonTimeout)
	}
}

// expireIfIdleLocked applies the idle-timeout decision; callers hold s.mu.
func (s *Store) expireIfIdleLocked() bool {
	if !s.active {
		return false
	}
	idle := s.clock().Sub(s.lastAccess)
	if idle >= s.timeout {
		return s.clearLocked()
	}
	s.armTimerLocked(s.timeout - idle)
	return false
}
