package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"rounds/internal/models"
	"rounds/internal/remote"
	"rounds/internal/storage"
)

const (
	defaultPollInterval    = 15 * time.Second
	defaultPersistDebounce = 250 * time.Millisecond

	remoteCallTimeout = 10 * time.Second
)

// ErrDeletionFailed is returned when a delete targets an unknown record ID.
var ErrDeletionFailed = errors.New("deletion failed: record not found")

// PatientStoreConfig controls the store's background behaviour.
type PatientStoreConfig struct {
	PollInterval    time.Duration // remote re-fetch cadence, <= 0 disables
	PersistDebounce time.Duration // local write coalescing window
}

// DefaultPatientStoreConfig returns the production cadence.
func DefaultPatientStoreConfig() PatientStoreConfig {
	return PatientStoreConfig{
		PollInterval:    defaultPollInterval,
		PersistDebounce: defaultPersistDebounce,
	}
}

// PatientStore is the single in-process owner of the patient record set.
// Mutations replace the in-memory set atomically and notify subscribers
// synchronously; persistence is remote-first with a debounced local fallback
// write, so the backend disappearing never blocks ward work.
type PatientStore struct {
	remote *remote.Client
	kv     storage.KV
	cfg    PatientStoreConfig

	mu               sync.Mutex
	records          []models.PatientRecord
	loaded           bool
	listeners        map[int]func([]models.PatientRecord)
	nextListenerID   int
	quickAddInFlight bool
	persistTimer     *time.Timer

	pollTicker  *time.Ticker
	done        chan struct{}
	watchCancel context.CancelFunc
	closeOnce   sync.Once
}

// NewPatientStore wires the store to its remote backend and local storage
// and starts the background poll plus, when the driver supports it, the
// external-change watcher.
func NewPatientStore(rc *remote.Client, kv storage.KV, cfg PatientStoreConfig) *PatientStore {
	if cfg.PersistDebounce <= 0 {
		cfg.PersistDebounce = defaultPersistDebounce
	}

	s := &PatientStore{
		remote:    rc,
		kv:        kv,
		cfg:       cfg,
		listeners: make(map[int]func([]models.PatientRecord)),
		done:      make(chan struct{}),
	}

	if cfg.PollInterval > 0 {
		s.pollTicker = time.NewTicker(cfg.PollInterval)
		go s.pollLoop()
	}

	if watcher, ok := kv.(storage.Watcher); ok {
		ctx, cancel := context.WithCancel(context.Background())
		events, err := watcher.Watch(ctx)
		if err != nil {
			log.Printf("⚠️  [STORE] External change watcher unavailable: %v", err)
			cancel()
		} else {
			s.watchCancel = cancel
			go s.watchLoop(events)
		}
	}

	return s
}

// Close stops the poller, the watcher and the debounce timer, flushing any
// pending local write. Idempotent.
func (s *PatientStore) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.pollTicker != nil {
			s.pollTicker.Stop()
		}
		if s.watchCancel != nil {
			s.watchCancel()
		}

		s.mu.Lock()
		pending := s.persistTimer != nil
		if pending {
			s.persistTimer.Stop()
			s.persistTimer = nil
		}
		s.mu.Unlock()

		if pending {
			s.persistNow()
		}
	})
}

// Load returns the current record set: remote fetch merged over the cache
// when the backend answers, the last persisted local set otherwise. Load
// never fails outright; with no backend and no local state it returns empty.
func (s *PatientStore) Load(ctx context.Context) ([]models.PatientRecord, error) {
	s.seedFromLocal(ctx)

	if err := s.syncRemote(ctx); err != nil {
		log.Printf("⚠️  [STORE] Remote fetch failed, serving local records: %v", err)
	}
	return s.Records(), nil
}

// Save replaces the record set, notifies subscribers synchronously, pushes
// to the backend best-effort and schedules the debounced local write.
func (s *PatientStore) Save(ctx context.Context, records []models.PatientRecord) {
	s.mu.Lock()
	s.records = models.CloneRecords(records)
	s.loaded = true
	s.mu.Unlock()

	s.notify()
	s.pushRemote(ctx)
	s.schedulePersist()
}

// QuickAdd creates a record via the backend so the server-assigned canonical
// copy lands locally without a re-fetch. On any remote failure the error
// wraps remote.ErrRemoteUnavailable and the caller is expected to fall back
// to QuickAddLocal.
func (s *PatientStore) QuickAdd(ctx context.Context, name, scratchpad, ward string) (*models.PatientRecord, error) {
	s.setQuickAddInFlight(true)
	defer s.setQuickAddInFlight(false)

	created, err := s.remote.QuickAdd(ctx, name, scratchpad, ward)
	if err != nil {
		return nil, fmt.Errorf("quick add %q: %w", name, err)
	}

	record := created.Clone()
	s.mu.Lock()
	s.records = append(s.records, record)
	s.loaded = true
	s.mu.Unlock()

	s.notify()
	s.schedulePersist()

	out := record.Clone()
	return &out, nil
}

// QuickAddLocal creates a record locally, for when the backend is down. The
// record reaches the backend on the next successful push.
func (s *PatientStore) QuickAddLocal(ctx context.Context, name, scratchpad, ward string) *models.PatientRecord {
	record := models.NewQuickAddPatient(name, scratchpad, ward, time.Now().UTC())

	s.mu.Lock()
	s.records = append(s.records, record)
	s.loaded = true
	s.mu.Unlock()

	s.notify()
	s.pushRemote(ctx)
	s.schedulePersist()

	out := record.Clone()
	return &out
}

// Delete removes a record synchronously. Unknown IDs are rejected, not
// ignored.
func (s *PatientStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	found := false
	kept := make([]models.PatientRecord, 0, len(s.records))
	for _, r := range s.records {
		if r.ID == id {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	if !found {
		s.mu.Unlock()
		return fmt.Errorf("delete %q: %w", id, ErrDeletionFailed)
	}
	s.records = kept
	s.mu.Unlock()

	s.notify()
	s.pushRemote(ctx)
	s.schedulePersist()
	return nil
}

// Records returns a deep-copied snapshot of the current set.
func (s *PatientStore) Records() []models.PatientRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.CloneRecords(s.records)
}

// Count returns the number of records in the cache.
func (s *PatientStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Subscribe registers a listener called with a full snapshot after every
// mutation. The returned function unsubscribes it.
func (s *PatientStore) Subscribe(fn func([]models.PatientRecord)) func() {
	s.mu.Lock()
	id := s.nextListenerID
	s.nextListenerID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// notify invokes every listener with its own snapshot. A panicking listener
// is logged and skipped so it cannot starve the others.
func (s *PatientStore) notify() {
	s.mu.Lock()
	fns := make([]func([]models.PatientRecord), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	snapshot := models.CloneRecords(s.records)
	s.mu.Unlock()

	for _, fn := range fns {
		s.invokeListener(fn, models.CloneRecords(snapshot))
	}
}

func (s *PatientStore) invokeListener(fn func([]models.PatientRecord), snapshot []models.PatientRecord) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("⚠️  [STORE] Listener panicked: %v", r)
		}
	}()
	fn(snapshot)
}

// seedFromLocal populates an empty cache from the persisted patients key, so
// the first merge of a session runs against the last known local state.
func (s *PatientStore) seedFromLocal(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return
	}
	s.loaded = true

	raw, err := s.kv.Get(ctx, storage.KeyPatients)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return
	}
	if err != nil {
		log.Printf("⚠️  [STORE] Failed to read local records: %v", err)
		return
	}
	var records []models.PatientRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		log.Printf("⚠️  [STORE] Local records unreadable, starting empty: %v", fmt.Errorf("%w: %v", storage.ErrSerialization, err))
		return
	}
	s.records = records
}

// syncRemote fetches the backend set and merges it over the cache. Subscriber
// notification and the local persist fire only when the merge changed
// something.
func (s *PatientStore) syncRemote(ctx context.Context) error {
	remoteSet, err := s.remote.FetchPatients(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	merged := MergePatients(s.records, remoteSet)
	changed := !PatientSetsEqual(merged, s.records)
	if changed {
		s.records = merged
	}
	s.loaded = true
	s.mu.Unlock()

	if changed {
		s.notify()
		s.schedulePersist()
	}
	return nil
}

// pushRemote sends the current set to the backend without blocking the
// caller. The availability gate keeps a dead backend from costing a timeout
// per save.
func (s *PatientStore) pushRemote(ctx context.Context) {
	if !s.remote.Available() {
		return
	}
	snapshot := s.Records()
	pushCtx := context.WithoutCancel(ctx)

	go func() {
		ctx, cancel := context.WithTimeout(pushCtx, remoteCallTimeout)
		defer cancel()
		if err := s.remote.SavePatients(ctx, snapshot); err != nil {
			log.Printf("⚠️  [STORE] Remote push failed: %v", err)
		}
	}()
}

// schedulePersist arms the single debounce slot; a pending write is pushed
// back rather than duplicated.
func (s *PatientStore) schedulePersist() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persistTimer != nil {
		s.persistTimer.Stop()
	}
	s.persistTimer = time.AfterFunc(s.cfg.PersistDebounce, s.persistNow)
}

// persistNow writes the current set to local storage. Serialization failures
// abandon the write; quota failures are logged, record state has no prune
// policy.
func (s *PatientStore) persistNow() {
	s.mu.Lock()
	s.persistTimer = nil
	records := s.records
	s.mu.Unlock()

	raw, err := json.Marshal(records)
	if err != nil {
		log.Printf("⚠️  [STORE] Abandoning local write: %v", fmt.Errorf("%w: %v", storage.ErrSerialization, err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.kv.Set(ctx, storage.KeyPatients, raw); err != nil {
		if errors.Is(err, storage.ErrQuotaExceeded) {
			log.Printf("⚠️  [STORE] Local storage quota exceeded, records not persisted: %v", err)
			return
		}
		log.Printf("⚠️  [STORE] Local write failed: %v", err)
	}
}

func (s *PatientStore) setQuickAddInFlight(v bool) {
	s.mu.Lock()
	s.quickAddInFlight = v
	s.mu.Unlock()
}

func (s *PatientStore) quickAddActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quickAddInFlight
}

// pollLoop re-fetches remote state on a fixed cadence, skipping ticks while
// a quick-add is in flight so the poll cannot race the just-created record.
func (s *PatientStore) pollLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.pollTicker.C:
			if s.quickAddActive() {
				log.Printf("⏭️  [STORE] Poll skipped, quick-add in flight")
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), remoteCallTimeout)
			if err := s.syncRemote(ctx); err != nil {
				log.Printf("⚠️  [STORE] Poll failed: %v", err)
			}
			cancel()
		}
	}
}

// watchLoop re-synchronizes the cache when another process rewrites the
// patients key underneath us.
func (s *PatientStore) watchLoop(events <-chan storage.Event) {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Key != storage.KeyPatients {
				continue
			}
			s.handleExternalChange()
		}
	}
}

func (s *PatientStore) handleExternalChange() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := s.kv.Get(ctx, storage.KeyPatients)
	if err != nil {
		log.Printf("⚠️  [STORE] External change unreadable: %v", err)
		return
	}
	var external []models.PatientRecord
	if err := json.Unmarshal(raw, &external); err != nil {
		log.Printf("⚠️  [STORE] External change unreadable: %v", fmt.Errorf("%w: %v", storage.ErrSerialization, err))
		return
	}

	s.mu.Lock()
	merged := MergePatients(s.records, external)
	changed := !PatientSetsEqual(merged, s.records)
	if changed {
		s.records = merged
	}
	diverged := !PatientSetsEqual(merged, external)
	s.mu.Unlock()

	if changed {
		log.Printf("🔄 [STORE] Records re-synchronized from external change")
		s.notify()
	}
	// When our cache was newer, write the reconciled set back out
	if diverged {
		s.schedulePersist()
	}
}
