// Package lexicon implements the database service: the single owner of the
// in-memory entry store, the startup source-selection machine, and the
// persistence propagation that follows every mutation.
package lexicon

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/milonlab/milon/internal/store"
	"github.com/milonlab/milon/pkg/hebrew"
	"github.com/milonlab/milon/pkg/lookup"
)

// Source identifies which backend populated the live database at startup.
type Source string

const (
	SourceServer     Source = "server"
	SourceLocalCache Source = "indexedDB"
	SourcePrebuilt   Source = "prebuilt-file"
	SourceFresh      Source = "fresh"
)

// BlobCache is the local persistent cache holding the last-known serialized
// database image.
type BlobCache interface {
	Get() ([]byte, error)
	Put(blob []byte) error
	Clear() error
}

// Syncer mirrors the serialized image to the disk sync server.
type Syncer interface {
	CheckAvailability(ctx context.Context) bool
	FetchImage(ctx context.Context) ([]byte, error)
	PushImage(ctx context.Context, blob []byte) bool
}

// Config wires the service's backends.
type Config struct {
	Cache  BlobCache
	Server Syncer // nil when no sync server is configured

	// PrebuiltURLs are tried in order when neither server nor cache has an
	// image; LookupURL is the reference cross-reference dataset.
	PrebuiltURLs []string
	LookupURL    string

	// HTTPClient is used for static fetches; its timeout bounds them.
	HTTPClient *http.Client
}

// Service owns the engine instance for the process lifetime. All mutation
// entry points are serialized; one mutation completes, including its
// persistence side effects, before the next begins.
type Service struct {
	mu  sync.Mutex
	cfg Config

	store  *store.Store
	lookup *lookup.Lookup

	ready        bool
	source       Source
	serverOK     bool
	cacheInvalid bool
}

// New returns an uninitialized service; call Init before use.
func New(cfg Config) *Service {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Service{cfg: cfg}
}

// Init runs the startup source-selection machine, in strict priority order:
// server, local cache, prebuilt file, fresh. The first source yielding a
// valid, migratable image wins; a source whose image cannot be brought to
// the current schema counts as unavailable, same as a missing one. The
// reference dataset is loaded best-effort afterwards.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}

	s.serverOK = s.cfg.Server != nil && s.cfg.Server.CheckAvailability(ctx)

	st, source, changed, err := s.selectSource(ctx)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	s.store = st
	s.source = source

	if changed || source == SourceFresh {
		s.persist(ctx)
	}
	if source == SourceFresh && !s.serverOK {
		// No durable backend received the fresh image yet; the caller can
		// obtain it via ExportImage and place it manually.
		log.Info("fresh database created with no sync server reachable; export available")
	}

	s.loadLookup(ctx)

	s.ready = true
	log.WithField("source", s.source).Info("database ready")
	return nil
}

// selectSource walks the fallback chain and returns the opened, migrated
// store. Only the fresh fallback can fail Init.
func (s *Service) selectSource(ctx context.Context) (*store.Store, Source, bool, error) {
	// 1. Disk sync server.
	if s.serverOK {
		blob, err := s.cfg.Server.FetchImage(ctx)
		if err != nil {
			log.WithError(err).Warn("server image fetch failed; falling back")
		} else if blob != nil {
			st, changed, err := openMigrated(blob)
			if err == nil {
				return st, SourceServer, changed, nil
			}
			log.WithError(err).Warn("server image rejected; falling back")
		}
	}

	// 2. Local persistent cache.
	blob, err := s.cfg.Cache.Get()
	if err != nil {
		log.WithError(err).Warn("cache read failed; falling back")
	} else if blob != nil {
		if store.ValidImage(blob) {
			st, changed, err := openMigrated(blob)
			if err == nil {
				return st, SourceLocalCache, changed, nil
			}
			log.WithError(err).Warn("cached image unusable; discarding")
			s.discardCache()
		} else {
			log.WithField("bytes", len(blob)).Warn("cached blob fails header check; discarding")
			s.discardCache()
		}
	}

	// 3. Prebuilt static images, first valid one wins.
	for _, url := range s.cfg.PrebuiltURLs {
		blob, err := lookup.FetchStatic(ctx, s.cfg.HTTPClient, url)
		if err != nil || blob == nil {
			continue
		}
		if !store.ValidImage(blob) {
			log.WithField("url", url).Warn("prebuilt image fails header check; skipping")
			continue
		}
		st, changed, err := openMigrated(blob)
		if err != nil {
			log.WithError(err).WithField("url", url).Warn("prebuilt image unusable; skipping")
			continue
		}
		// Seed the cache so the next session skips the fetch.
		if err := s.cfg.Cache.Put(blob); err != nil {
			log.WithError(err).Warn("failed to cache prebuilt image")
		}
		return st, SourcePrebuilt, changed, nil
	}

	// 4. Fresh empty store, the unconditional fallback.
	st, err := store.Open()
	if err != nil {
		return nil, "", false, fmt.Errorf("fresh database creation failed: %w", err)
	}
	changed, err := st.Migrate()
	if err != nil {
		st.Close()
		return nil, "", false, fmt.Errorf("fresh database migration failed: %w", err)
	}
	return st, SourceFresh, changed, nil
}

// openMigrated opens an image and brings its schema current. An image that
// cannot be migrated is unusable for this session; the connection is closed
// before the error is returned.
func openMigrated(blob []byte) (*store.Store, bool, error) {
	st, err := store.OpenImage(blob)
	if err != nil {
		return nil, false, err
	}
	changed, err := st.Migrate()
	if err != nil {
		st.Close()
		return nil, false, fmt.Errorf("migrate: %w", err)
	}
	return st, changed, nil
}

func (s *Service) discardCache() {
	s.cacheInvalid = true
	if err := s.cfg.Cache.Clear(); err != nil {
		log.WithError(err).Warn("failed to clear invalid cache blob")
	}
}

func (s *Service) loadLookup(ctx context.Context) {
	if s.cfg.LookupURL == "" {
		return
	}
	l, err := lookup.Load(ctx, s.cfg.HTTPClient, s.cfg.LookupURL)
	if err != nil {
		// Non-fatal: lookups return empty results for this session.
		log.WithError(err).Warn("reference dataset unavailable")
		return
	}
	s.lookup = l
}

// AddEntries upserts the batch inside a single transaction, stamping one
// shared dateAdded on every row and deriving isRoot and strongsNumbers at
// ingestion. On success the whole image is persisted; a transaction failure
// surfaces to the caller with no partial state committed.
func (s *Service) AddEntries(ctx context.Context, entries []*store.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireReady(); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	now := time.Now().UnixMilli()
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.Status == "" {
			e.Status = store.StatusUnchecked
		}
		e.DateAdded = now
		e.IsRoot = hebrew.IsRoot(e.HebrewWord)
		// Both derived fields are owned by ingestion; caller-supplied
		// values are overwritten.
		e.StrongsNumbers = strings.Join(s.resolveNumbers(e), "/")
	}

	if err := s.store.UpsertEntries(entries); err != nil {
		return fmt.Errorf("add entries: %w", err)
	}

	s.persist(ctx)
	return nil
}

// resolveNumbers queries the reference dataset for the entry's lemma: its
// root when recorded, otherwise the consonantal form of the headword.
func (s *Service) resolveNumbers(e *store.Entry) []string {
	if s.lookup == nil {
		return nil
	}
	lemma := e.Root
	if lemma == "" {
		lemma = e.HebrewConsonantal
	}
	if lemma == "" {
		lemma = hebrew.Consonantal(e.HebrewWord)
	}
	numbers, err := s.lookup.NumbersFor(lemma)
	if err != nil {
		log.WithError(err).WithField("lemma", lemma).Warn("reference lookup failed")
		return nil
	}
	return numbers
}

// DeleteEntries removes the given ids and persists. An empty list leaves
// both the store and the persistence backends untouched.
func (s *Service) DeleteEntries(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireReady(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	if err := s.store.DeleteEntries(ids); err != nil {
		return fmt.Errorf("delete entries: %w", err)
	}

	s.persist(ctx)
	return nil
}

// AllEntries returns every entry, newest first. Read-only.
func (s *Service) AllEntries() ([]*store.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireReady(); err != nil {
		return nil, err
	}
	return s.store.AllEntries()
}

// EntriesByLetter implements the alphabet-filter browsing mode.
func (s *Service) EntriesByLetter(letter string) ([]*store.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireReady(); err != nil {
		return nil, err
	}
	return s.store.EntriesByLetter(letter)
}

// StrongNumbersFor returns all cross-reference numbers for an exact lemma
// match. An unloaded dataset or a miss yields an empty result, never an
// error.
func (s *Service) StrongNumbersFor(lemma string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lookup == nil {
		return nil
	}
	numbers, err := s.lookup.NumbersFor(lemma)
	if err != nil {
		log.WithError(err).WithField("lemma", lemma).Warn("reference lookup failed")
		return nil
	}
	return numbers
}

// ExportImage returns the current serialized database image.
func (s *Service) ExportImage() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireReady(); err != nil {
		return nil, err
	}
	return s.store.Serialize()
}

// Reset clears the local cache and discards the in-memory engine. The sync
// server's stored file is deliberately left untouched, so a following Init
// reopens the server's copy when one is reachable and only otherwise starts
// empty. The caller must run Init again before further use.
func (s *Service) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cfg.Cache.Clear(); err != nil {
		log.WithError(err).Warn("failed to clear cache on reset")
	}
	if s.store != nil {
		s.store.Close()
		s.store = nil
	}
	if s.lookup != nil {
		s.lookup.Close()
		s.lookup = nil
	}
	s.ready = false
	s.source = ""
	s.serverOK = false
	s.cacheInvalid = false
	return nil
}

// persist serializes the whole engine and propagates it: cache first, then
// the sync server when it was reachable at startup. Propagation failures
// are logged and never roll back the in-memory mutation.
func (s *Service) persist(ctx context.Context) {
	blob, err := s.store.Serialize()
	if err != nil {
		log.WithError(err).Error("serialize for persistence failed")
		return
	}
	if err := s.cfg.Cache.Put(blob); err != nil {
		log.WithError(err).Error("cache write failed; in-memory state retained")
	}
	if s.serverOK && s.cfg.Server != nil {
		if !s.cfg.Server.PushImage(ctx, blob) {
			log.Warn("server push failed; will retry on next mutation")
		}
	}
}

func (s *Service) requireReady() error {
	if !s.ready || s.store == nil {
		return fmt.Errorf("database service not initialized")
	}
	return nil
}

// Ready reports whether Init completed.
func (s *Service) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// LoadSource reports which backend populated the store.
func (s *Service) LoadSource() Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// ServerAvailable reports the availability cached at startup; it is not
// re-polled mid-session.
func (s *Service) ServerAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverOK
}

// HadInvalidCache reports whether startup discarded a cache blob that
// failed the format gate.
func (s *Service) HadInvalidCache() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cacheInvalid
}
