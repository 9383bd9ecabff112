package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"rounds/internal/models"
	"rounds/internal/storage"
)

const (
	// Checked sessions are done; keep them just long enough to un-check.
	defaultCheckedTTL = 24 * time.Hour
	// Unchecked sessions may still carry undictated work; keep them a week.
	defaultUncheckedTTL = 7 * 24 * time.Hour

	defaultSweepInterval = 1 * time.Hour

	// Sessions whose deadline is this close count as expiring in stats.
	expiryWarningWindow = 1 * time.Hour

	defaultSessionMaxBytes   = int64(5 * 1024 * 1024)
	defaultCriticalThreshold = 0.9
	defaultPruneTarget       = 0.75
)

// ErrSessionNotFound is returned for operations on unknown session IDs.
var ErrSessionNotFound = errors.New("session not found")

// SessionConfig controls retention and quota behaviour.
type SessionConfig struct {
	MaxBytes          int64         // serialized-size budget for the session array
	CheckedTTL        time.Duration // retention after markedCompleteAt
	UncheckedTTL      time.Duration // retention after persistedAt
	SweepInterval     time.Duration // background cleanup cadence, 0 disables
	CriticalThreshold float64       // fraction of MaxBytes that triggers pruning on save
	PruneTarget       float64       // fraction of MaxBytes pruning aims for
}

// DefaultSessionConfig returns the production retention policy.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxBytes:          defaultSessionMaxBytes,
		CheckedTTL:        defaultCheckedTTL,
		UncheckedTTL:      defaultUncheckedTTL,
		SweepInterval:     defaultSweepInterval,
		CriticalThreshold: defaultCriticalThreshold,
		PruneTarget:       defaultPruneTarget,
	}
}

// SessionStore keeps persisted dictation sessions in local storage and
// enforces their lifecycle: two expiry clocks, a byte quota with
// oldest-first pruning, and an hourly background sweep.
type SessionStore struct {
	kv  storage.KV
	cfg SessionConfig

	mu        sync.Mutex
	scheduler gocron.Scheduler
	closeOnce sync.Once

	now func() time.Time
}

// NewSessionStore creates the store and starts its background sweep.
func NewSessionStore(kv storage.KV, cfg SessionConfig) (*SessionStore, error) {
	defaults := DefaultSessionConfig()
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaults.MaxBytes
	}
	if cfg.CheckedTTL <= 0 {
		cfg.CheckedTTL = defaults.CheckedTTL
	}
	if cfg.UncheckedTTL <= 0 {
		cfg.UncheckedTTL = defaults.UncheckedTTL
	}
	if cfg.CriticalThreshold <= 0 || cfg.CriticalThreshold > 1 {
		cfg.CriticalThreshold = defaults.CriticalThreshold
	}
	if cfg.PruneTarget <= 0 || cfg.PruneTarget > cfg.CriticalThreshold {
		cfg.PruneTarget = defaults.PruneTarget
	}

	s := &SessionStore{
		kv:  kv,
		cfg: cfg,
		now: time.Now,
	}

	if cfg.SweepInterval > 0 {
		scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
		if err != nil {
			return nil, fmt.Errorf("failed to create scheduler: %w", err)
		}
		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.SweepInterval),
			gocron.NewTask(s.sweep),
			gocron.WithName("session-cleanup"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to register cleanup job: %w", err)
		}
		scheduler.Start()
		s.scheduler = scheduler
		log.Printf("📦 [SESSIONS] Store ready (budget %d bytes, sweep every %s)", cfg.MaxBytes, cfg.SweepInterval)
	}

	return s, nil
}

// Close stops the background sweep. Idempotent.
func (s *SessionStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.scheduler != nil {
			err = s.scheduler.Shutdown()
		}
	})
	return err
}

func (s *SessionStore) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	result, err := s.CleanupExpired(ctx)
	if err != nil {
		log.Printf("⚠️  [SESSIONS] Background cleanup failed: %v", err)
		return
	}
	if m := GetMetrics(); m != nil {
		m.RecordCleanup(result.DeletedCount, time.Since(start))
	}
	if result.DeletedCount > 0 {
		log.Printf("🧹 [SESSIONS] Background cleanup removed %d sessions (%d bytes freed)", result.DeletedCount, result.FreedBytes)
	}
}

// Save upserts a session. New sessions get an ID and a persistedAt; existing
// ones keep their creation time and checked state unless the caller supplies
// new values. Quota pressure prunes oldest sessions before the write lands.
func (s *SessionStore) Save(ctx context.Context, session models.PersistedSession) (models.PersistedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sessions, err := s.loadSessions(ctx)
	if err != nil {
		return models.PersistedSession{}, err
	}

	if session.ID == "" {
		session.ID = models.NewSessionID()
	}
	session.DictationType = session.DictationType.Normalize()
	if session.PersistedAt.IsZero() {
		session.PersistedAt = now
	}
	session.LastAccessedAt = now

	replaced := false
	for i := range sessions {
		if sessions[i].ID != session.ID {
			continue
		}
		// Creation time and checked state survive an upsert unless the
		// caller explicitly provides them
		if session.PersistedAt.Equal(now) {
			session.PersistedAt = sessions[i].PersistedAt
		}
		if session.MarkedCompleteAt == nil {
			session.MarkedCompleteAt = sessions[i].MarkedCompleteAt
		}
		sessions[i] = session
		replaced = true
		break
	}
	if !replaced {
		sessions = append(sessions, session)
	}

	if size := serializedSize(sessions); size > int64(float64(s.cfg.MaxBytes)*s.cfg.CriticalThreshold) {
		var pruned int
		sessions, pruned = s.pruneOldest(sessions, int64(float64(s.cfg.MaxBytes)*s.cfg.PruneTarget))
		if pruned > 0 {
			log.Printf("📦 [SESSIONS] Quota pressure at %d bytes, pruned %d oldest sessions", size, pruned)
		}
	}

	if err := s.storeSessions(ctx, sessions); err != nil {
		return models.PersistedSession{}, err
	}
	if err := s.syncCheckedIndex(ctx, sessions); err != nil {
		return models.PersistedSession{}, err
	}
	return session, nil
}

// Get returns a session by ID and bumps its lastAccessedAt.
func (s *SessionStore) Get(ctx context.Context, id string) (models.PersistedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.loadSessions(ctx)
	if err != nil {
		return models.PersistedSession{}, err
	}
	for i := range sessions {
		if sessions[i].ID != id {
			continue
		}
		sessions[i].LastAccessedAt = s.now()
		if err := s.storeSessions(ctx, sessions); err != nil {
			return models.PersistedSession{}, err
		}
		return sessions[i].Clone(), nil
	}
	return models.PersistedSession{}, fmt.Errorf("get session %q: %w", id, ErrSessionNotFound)
}

// List returns all sessions, most recently accessed first.
func (s *SessionStore) List(ctx context.Context) ([]models.PersistedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.loadSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.PersistedSession, len(sessions))
	for i, sess := range sessions {
		out[i] = sess.Clone()
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastAccessedAt.After(out[j].LastAccessedAt)
	})
	return out, nil
}

// MarkComplete stamps markedCompleteAt, switching the session to the short
// retention clock.
func (s *SessionStore) MarkComplete(ctx context.Context, id string) error {
	return s.setChecked(ctx, id, true)
}

// UnmarkComplete clears markedCompleteAt, returning the session to the long
// retention clock.
func (s *SessionStore) UnmarkComplete(ctx context.Context, id string) error {
	return s.setChecked(ctx, id, false)
}

func (s *SessionStore) setChecked(ctx context.Context, id string, checked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.loadSessions(ctx)
	if err != nil {
		return err
	}
	found := false
	for i := range sessions {
		if sessions[i].ID != id {
			continue
		}
		if checked {
			t := s.now()
			sessions[i].MarkedCompleteAt = &t
		} else {
			sessions[i].MarkedCompleteAt = nil
		}
		found = true
		break
	}
	if !found {
		return fmt.Errorf("mark session %q: %w", id, ErrSessionNotFound)
	}
	if err := s.storeSessions(ctx, sessions); err != nil {
		return err
	}
	return s.syncCheckedIndex(ctx, sessions)
}

// CheckedIDs returns the side-set of checked session IDs.
func (s *SessionStore) CheckedIDs(ctx context.Context) ([]string, error) {
	raw, err := s.kv.Get(ctx, storage.KeySessionIndex)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("%w: checked index: %v", storage.ErrSerialization, err)
	}
	return ids, nil
}

// Delete removes one session.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.loadSessions(ctx)
	if err != nil {
		return err
	}
	kept := sessions[:0]
	found := false
	for _, sess := range sessions {
		if sess.ID == id {
			found = true
			continue
		}
		kept = append(kept, sess)
	}
	if !found {
		return fmt.Errorf("delete session %q: %w", id, ErrSessionNotFound)
	}
	if err := s.storeSessions(ctx, kept); err != nil {
		return err
	}
	return s.syncCheckedIndex(ctx, kept)
}

// DeleteAll removes every session and reports how much space that freed.
func (s *SessionStore) DeleteAll(ctx context.Context) (models.CleanupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.loadSessions(ctx)
	if err != nil {
		return models.CleanupResult{}, err
	}
	freed := serializedSize(sessions)
	if err := s.kv.Delete(ctx, storage.KeySessions); err != nil {
		return models.CleanupResult{}, err
	}
	if err := s.kv.Delete(ctx, storage.KeySessionIndex); err != nil {
		return models.CleanupResult{}, err
	}
	return models.CleanupResult{DeletedCount: len(sessions), FreedBytes: freed}, nil
}

// CleanupExpired removes every session past its deadline in one batch write.
// Checked sessions expire CheckedTTL after markedCompleteAt, unchecked ones
// UncheckedTTL after persistedAt; both comparisons are strictly greater-than.
func (s *SessionStore) CleanupExpired(ctx context.Context) (models.CleanupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.loadSessions(ctx)
	if err != nil {
		return models.CleanupResult{}, err
	}
	if len(sessions) == 0 {
		return models.CleanupResult{}, nil
	}

	now := s.now()
	before := serializedSize(sessions)
	kept := make([]models.PersistedSession, 0, len(sessions))
	deleted := 0
	for _, sess := range sessions {
		if s.expired(sess, now) {
			deleted++
			continue
		}
		kept = append(kept, sess)
	}
	if deleted == 0 {
		return models.CleanupResult{}, nil
	}

	if err := s.storeSessions(ctx, kept); err != nil {
		return models.CleanupResult{}, err
	}
	if err := s.syncCheckedIndex(ctx, kept); err != nil {
		return models.CleanupResult{}, err
	}
	return models.CleanupResult{
		DeletedCount: deleted,
		FreedBytes:   before - serializedSize(kept),
	}, nil
}

func (s *SessionStore) expired(sess models.PersistedSession, now time.Time) bool {
	if sess.Checked() {
		return now.Sub(*sess.MarkedCompleteAt) > s.cfg.CheckedTTL
	}
	return now.Sub(sess.PersistedAt) > s.cfg.UncheckedTTL
}

func (s *SessionStore) deadline(sess models.PersistedSession) time.Time {
	if sess.Checked() {
		return sess.MarkedCompleteAt.Add(s.cfg.CheckedTTL)
	}
	return sess.PersistedAt.Add(s.cfg.UncheckedTTL)
}

// StorageStats reports current usage for UI and ops surfaces.
func (s *SessionStore) StorageStats(ctx context.Context) (models.StorageStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.loadSessions(ctx)
	if err != nil {
		return models.StorageStats{}, err
	}

	now := s.now()
	stats := models.StorageStats{
		UsedBytes:    serializedSize(sessions),
		TotalBytes:   s.cfg.MaxBytes,
		SessionCount: len(sessions),
	}
	if stats.TotalBytes > 0 {
		stats.UsedPercentage = float64(stats.UsedBytes) / float64(stats.TotalBytes) * 100
	}
	for _, sess := range sessions {
		if age := now.Sub(sess.PersistedAt); age > stats.OldestSessionAge {
			stats.OldestSessionAge = age
		}
		if s.deadline(sess).Sub(now) <= expiryWarningWindow {
			stats.ExpiringCount++
		}
	}
	return stats, nil
}

func (s *SessionStore) loadSessions(ctx context.Context) ([]models.PersistedSession, error) {
	raw, err := s.kv.Get(ctx, storage.KeySessions)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sessions []models.PersistedSession
	if err := json.Unmarshal(raw, &sessions); err != nil {
		return nil, fmt.Errorf("%w: sessions: %v", storage.ErrSerialization, err)
	}
	return sessions, nil
}

// storeSessions writes the session array. A quota rejection from the driver
// forces a prune to the target fraction and retries exactly once.
func (s *SessionStore) storeSessions(ctx context.Context, sessions []models.PersistedSession) error {
	raw, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("%w: sessions: %v", storage.ErrSerialization, err)
	}
	err = s.kv.Set(ctx, storage.KeySessions, raw)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrQuotaExceeded) {
		return err
	}

	pruned, removed := s.pruneOldest(sessions, int64(float64(s.cfg.MaxBytes)*s.cfg.PruneTarget))
	log.Printf("⚠️  [SESSIONS] Storage quota hit, pruned %d oldest sessions and retrying", removed)
	raw, err = json.Marshal(pruned)
	if err != nil {
		return fmt.Errorf("%w: sessions: %v", storage.ErrSerialization, err)
	}
	return s.kv.Set(ctx, storage.KeySessions, raw)
}

// pruneOldest drops sessions oldest-by-persistedAt until the serialized size
// fits targetBytes.
func (s *SessionStore) pruneOldest(sessions []models.PersistedSession, targetBytes int64) ([]models.PersistedSession, int) {
	kept := make([]models.PersistedSession, len(sessions))
	copy(kept, sessions)
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].PersistedAt.Before(kept[j].PersistedAt)
	})

	removed := 0
	for len(kept) > 0 && serializedSize(kept) > targetBytes {
		kept = kept[1:]
		removed++
	}

	// Restore original relative order for the survivors
	surviving := make(map[string]bool, len(kept))
	for _, sess := range kept {
		surviving[sess.ID] = true
	}
	ordered := make([]models.PersistedSession, 0, len(kept))
	for _, sess := range sessions {
		if surviving[sess.ID] {
			ordered = append(ordered, sess)
		}
	}
	return ordered, removed
}

// syncCheckedIndex rewrites the checked-ID side-set from the session array.
func (s *SessionStore) syncCheckedIndex(ctx context.Context, sessions []models.PersistedSession) error {
	ids := make([]string, 0)
	for _, sess := range sessions {
		if sess.Checked() {
			ids = append(ids, sess.ID)
		}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("%w: checked index: %v", storage.ErrSerialization, err)
	}
	return s.kv.Set(ctx, storage.KeySessionIndex, raw)
}

func serializedSize(sessions []models.PersistedSession) int64 {
	raw, err := json.Marshal(sessions)
	if err != nil {
		return 0
	}
	return int64(len(raw))
}
