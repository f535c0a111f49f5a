package fleet

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// StoreConfig carries the registry limits and liveness thresholds.
type StoreConfig struct {
	// TypeLimits caps how many devices of each type may be registered.
	// A type absent from this table is not registrable.
	TypeLimits map[DeviceType]int

	// InactiveAfter is how long since the last heartbeat before a device
	// counts as inactive.
	InactiveAfter time.Duration

	// RemoveAfter is how long since the last heartbeat before a device is
	// removed entirely. Must exceed InactiveAfter.
	RemoveAfter time.Duration
}

// Store holds the device records behind a single read-write mutex.
//
// Every mutation and every read happens under this one lock, which is the
// whole mutual-exclusion domain of the registry. The lock is never held
// across a network call; the dispatcher reads, releases, calls out, then
// re-acquires to record failures.
//
// All read operations return copies.
type Store struct {
	mu      sync.RWMutex
	records map[string]*DeviceRecord
	cfg     StoreConfig
}

// SweepResult reports what a liveness sweep changed.
type SweepResult struct {
	MarkedInactive []DeviceRecord
	Removed        []DeviceRecord
	Remaining      int
}

// NewStore creates an empty registry with the given limits and thresholds.
func NewStore(cfg StoreConfig) *Store {
	return &Store{
		records: make(map[string]*DeviceRecord),
		cfg:     cfg,
	}
}

// limit returns the capacity for a device type and whether the type is known.
func (s *Store) limit(t DeviceType) (int, bool) {
	limit, ok := s.cfg.TypeLimits[t]
	return limit, ok
}

// register performs the register-or-heartbeat mutation atomically.
// Called by Registrar after input validation; the capacity check, identity
// check and record write all happen under one lock acquisition.
func (s *Store) register(id string, t DeviceType, addr string, port int, now time.Time) (RegistrationResult, error) {
	limit, known := s.limit(t)
	if !known {
		return RegistrationResult{}, fmt.Errorf("%w: %w: %q", ErrValidation, ErrInvalidDeviceType, t)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[id]; ok {
		// Same id from a different address is a conflict, not a heartbeat.
		// The stored record is left untouched, including last_seen.
		if existing.Address != addr {
			return RegistrationResult{}, fmt.Errorf("%w: %q held by %s, refresh attempted from %s",
				ErrIdentityConflict, id, existing.Address, addr)
		}

		// Heartbeat refresh: the port may move across device restarts.
		existing.Port = port
		existing.Status = StatusActive
		existing.LastSeen = now
		existing.FailureCount = 0

		return RegistrationResult{Record: *existing, Created: false}, nil
	}

	// New registration: enforce per-type capacity before creating anything.
	count := 0
	for _, rec := range s.records {
		if rec.Type == t {
			count++
		}
	}
	if count >= limit {
		return RegistrationResult{}, fmt.Errorf("%w: %q already has %d of %d %q devices",
			ErrCapacityExceeded, t, count, limit, t)
	}

	rec := &DeviceRecord{
		DeviceID:  id,
		Type:      t,
		Endpoint:  Endpoint{Address: addr, Port: port},
		Status:    StatusActive,
		CreatedAt: now,
		LastSeen:  now,
	}
	s.records[id] = rec

	return RegistrationResult{Record: *rec, Created: true}, nil
}

// Get retrieves a device record by ID.
// The returned record is a copy; callers can safely modify it.
func (s *Store) Get(id string) (DeviceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return DeviceRecord{}, false
	}
	return *rec, true
}

// Remove deletes a device record. Returns false if the ID was not registered.
func (s *Store) Remove(id string) (DeviceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return DeviceRecord{}, false
	}
	delete(s.records, id)
	return *rec, true
}

// List returns device records matching the filter, sorted by device ID.
// The returned records are copies.
func (s *Store) List(filter Filter) []DeviceRecord {
	now := time.Now().UTC()

	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]DeviceRecord, 0, len(s.records))
	for _, rec := range s.records {
		if filter.Type != "" && rec.Type != filter.Type {
			continue
		}
		if filter.ActiveOnly && !s.isLive(rec, now) {
			continue
		}
		devices = append(devices, *rec)
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].DeviceID < devices[j].DeviceID
	})

	return devices
}

// isLive reports whether a record counts as active right now. Stored status
// alone is not enough: a record whose threshold has passed but which the
// sweeper has not visited yet is already considered inactive.
func (s *Store) isLive(rec *DeviceRecord, now time.Time) bool {
	return rec.Status == StatusActive && now.Sub(rec.LastSeen) <= s.cfg.InactiveAfter
}

// IncrementFailure bumps a device's dispatch failure counter and returns
// the new value. Returns -1 if the device is not registered (it may have
// been swept away between the dispatch attempt and this call).
func (s *Store) IncrementFailure(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return -1
	}
	rec.FailureCount++
	return rec.FailureCount
}

// Count returns the number of registered devices.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// CountByType returns the number of registered devices of the given type.
func (s *Store) CountByType(t DeviceType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, rec := range s.records {
		if rec.Type == t {
			count++
		}
	}
	return count
}

// GetStats returns current registry statistics.
func (s *Store) GetStats() Stats {
	now := time.Now().UTC()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		TotalDevices: len(s.records),
		ByType:       make(map[DeviceType]int),
		Limits:       make(map[DeviceType]int, len(s.cfg.TypeLimits)),
	}
	for t, limit := range s.cfg.TypeLimits {
		stats.Limits[t] = limit
	}

	for _, rec := range s.records {
		stats.ByType[rec.Type]++
		if s.isLive(rec, now) {
			stats.Active++
		} else {
			stats.Inactive++
		}
	}

	return stats
}

// Sweep runs both liveness passes at the given instant.
//
// Pass 1 marks records inactive where the inactivity threshold has passed.
// Marking is idempotent: already-inactive records are skipped. Pass 2
// removes records where the removal threshold has passed. A record removed
// in pass 2 may also have been marked in pass 1 of the same sweep; it is
// reported only as removed.
//
// A second sweep at the same instant changes nothing.
func (s *Store) Sweep(now time.Time) SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result SweepResult

	for id, rec := range s.records {
		silence := now.Sub(rec.LastSeen)

		if silence > s.cfg.RemoveAfter {
			delete(s.records, id)
			result.Removed = append(result.Removed, *rec)
			continue
		}

		if silence > s.cfg.InactiveAfter && rec.Status == StatusActive {
			rec.Status = StatusInactive
			result.MarkedInactive = append(result.MarkedInactive, *rec)
		}
	}

	result.Remaining = len(s.records)

	sort.Slice(result.Removed, func(i, j int) bool {
		return result.Removed[i].DeviceID < result.Removed[j].DeviceID
	})
	sort.Slice(result.MarkedInactive, func(i, j int) bool {
		return result.MarkedInactive[i].DeviceID < result.MarkedInactive[j].DeviceID
	})

	return result
}
