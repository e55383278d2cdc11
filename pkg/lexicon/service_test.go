package lexicon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ncruces/go-sqlite3"
	"github.com/ncruces/go-sqlite3/ext/serdes"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/milonlab/milon/internal/store"
	"github.com/milonlab/milon/pkg/cache"
)

// fakeSyncer is an in-memory stand-in for the disk sync server.
type fakeSyncer struct {
	available bool
	image     []byte
	pushes    int
}

func (f *fakeSyncer) CheckAvailability(ctx context.Context) bool { return f.available }

func (f *fakeSyncer) FetchImage(ctx context.Context) ([]byte, error) {
	if f.image == nil {
		return nil, nil
	}
	return f.image, nil
}

func (f *fakeSyncer) PushImage(ctx context.Context, blob []byte) bool {
	f.image = append([]byte(nil), blob...)
	f.pushes++
	return true
}

// countingCache wraps a BlobCache and records calls.
type countingCache struct {
	BlobCache
	puts   int
	clears int
}

func (c *countingCache) Put(blob []byte) error { c.puts++; return c.BlobCache.Put(blob) }
func (c *countingCache) Clear() error          { c.clears++; return c.BlobCache.Clear() }

func memCache() *countingCache {
	return &countingCache{BlobCache: cache.New(afero.NewMemMapFs(), "cache/lexicon.sqlite")}
}

// entryImage builds a serialized database holding the given entries.
func entryImage(t *testing.T, entries ...*store.Entry) []byte {
	t.Helper()
	st, err := store.Open()
	require.NoError(t, err)
	defer st.Close()
	_, err = st.Migrate()
	require.NoError(t, err)
	require.NoError(t, st.UpsertEntries(entries))
	blob, err := st.Serialize()
	require.NoError(t, err)
	return blob
}

func referenceImage(t *testing.T) []byte {
	t.Helper()
	conn, err := sqlite3.Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Exec(`
		CREATE TABLE roots (lemma TEXT NOT NULL, number TEXT NOT NULL);
		INSERT INTO roots (lemma, number) VALUES ('שלם', '7999'), ('שלם', '8003');
	`))
	blob, err := serdes.Serialize(conn, "main")
	require.NoError(t, err)
	return blob
}

func TestInitFreshWhenNothingAvailable(t *testing.T) {
	c := memCache()
	svc := New(Config{Cache: c})

	require.NoError(t, svc.Init(context.Background()))
	assert.Equal(t, SourceFresh, svc.LoadSource())
	assert.True(t, svc.Ready())
	assert.False(t, svc.ServerAvailable())

	entries, err := svc.AllEntries()
	require.NoError(t, err)
	assert.Empty(t, entries)

	// The fresh image was persisted to the cache and is schema-valid.
	blob, err := c.Get()
	require.NoError(t, err)
	require.NotNil(t, blob)
	assert.True(t, store.ValidImage(blob))
}

func TestInitPrefersServerOverCacheAndPrebuilt(t *testing.T) {
	serverImage := entryImage(t, &store.Entry{ID: "srv", HebrewWord: "אֶחָד", DateAdded: 1})
	cacheImage := entryImage(t, &store.Entry{ID: "cch", HebrewWord: "שְׁנַיִם", DateAdded: 2})
	prebuilt := entryImage(t, &store.Entry{ID: "pre", HebrewWord: "שָׁלוֹשׁ", DateAdded: 3})

	static := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(prebuilt)
	}))
	defer static.Close()

	c := memCache()
	require.NoError(t, c.Put(cacheImage))

	svc := New(Config{
		Cache:        c,
		Server:       &fakeSyncer{available: true, image: serverImage},
		PrebuiltURLs: []string{static.URL + "/lexicon.sqlite"},
		HTTPClient:   &http.Client{Timeout: time.Second},
	})
	require.NoError(t, svc.Init(context.Background()))

	assert.Equal(t, SourceServer, svc.LoadSource())
	entries, err := svc.AllEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "srv", entries[0].ID)
}

func TestInitFallsBackToCache(t *testing.T) {
	c := memCache()
	require.NoError(t, c.Put(entryImage(t, &store.Entry{ID: "cch", HebrewWord: "בַּיִת", DateAdded: 1})))

	svc := New(Config{Cache: c, Server: &fakeSyncer{available: false}})
	require.NoError(t, svc.Init(context.Background()))

	assert.Equal(t, SourceLocalCache, svc.LoadSource())
	entries, err := svc.AllEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cch", entries[0].ID)
}

func TestInitDiscardsInvalidCache(t *testing.T) {
	c := memCache()
	require.NoError(t, c.Put([]byte("definitely not a database image")))

	svc := New(Config{Cache: c})
	require.NoError(t, svc.Init(context.Background()))

	assert.True(t, svc.HadInvalidCache())
	assert.Equal(t, SourceFresh, svc.LoadSource())
	assert.Equal(t, 1, c.clears)
}

func TestInitSkipsUnmigratableCache(t *testing.T) {
	// A foreign image whose entries table clashes with the column
	// migrations: IS_ROOT defeats the exact-name pre-check, and the ALTER
	// then fails on the case-insensitive duplicate.
	conn, err := sqlite3.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, conn.Exec(`
		CREATE TABLE entries (
			id TEXT PRIMARY KEY,
			hebrew_word TEXT NOT NULL,
			hebrew_consonantal TEXT NOT NULL DEFAULT '',
			date_added INTEGER NOT NULL DEFAULT 0,
			IS_ROOT INTEGER
		)
	`))
	blob, err := serdes.Serialize(conn, "main")
	require.NoError(t, err)
	conn.Close()

	c := memCache()
	require.NoError(t, c.Put(blob))

	svc := New(Config{Cache: c})
	require.NoError(t, svc.Init(context.Background()), "an unmigratable source must not fail Init")
	assert.Equal(t, SourceFresh, svc.LoadSource())
	assert.True(t, svc.HadInvalidCache())
	assert.Equal(t, 1, c.clears)
}

func TestInitPrebuiltSeedsCache(t *testing.T) {
	prebuilt := entryImage(t, &store.Entry{ID: "pre", HebrewWord: "עִיר", DateAdded: 1})
	static := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/first.sqlite" {
			http.NotFound(w, r)
			return
		}
		w.Write(prebuilt)
	}))
	defer static.Close()

	c := memCache()
	svc := New(Config{
		Cache:        c,
		PrebuiltURLs: []string{static.URL + "/first.sqlite", static.URL + "/second.sqlite"},
		HTTPClient:   &http.Client{Timeout: time.Second},
	})
	require.NoError(t, svc.Init(context.Background()))

	assert.Equal(t, SourcePrebuilt, svc.LoadSource())
	blob, err := c.Get()
	require.NoError(t, err)
	assert.Equal(t, prebuilt, blob)
}

func TestAddEntriesDerivesAndPersists(t *testing.T) {
	ref := referenceImage(t)
	static := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(ref)
	}))
	defer static.Close()

	c := memCache()
	sync := &fakeSyncer{available: true}
	svc := New(Config{
		Cache:      c,
		Server:     sync,
		LookupURL:  static.URL + "/root-strongs.sqlite",
		HTTPClient: &http.Client{Timeout: time.Second},
	})
	require.NoError(t, svc.Init(context.Background()))

	err := svc.AddEntries(context.Background(), []*store.Entry{
		{HebrewWord: "שָׁלַם", Root: "שלם", Definition: "to be complete"},
		{ID: "e2", HebrewWord: "מִדְבָּר", Definition: "wilderness"},
	})
	require.NoError(t, err)

	entries, err := svc.AllEntries()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byID := map[string]*store.Entry{}
	for _, e := range entries {
		require.NotEmpty(t, e.ID, "missing ids are assigned locally")
		byID[e.ID] = e
	}

	e2 := byID["e2"]
	require.NotNil(t, e2)
	assert.False(t, e2.IsRoot, "4-consonant word is not a root")
	assert.Equal(t, store.StatusUnchecked, e2.Status)

	delete(byID, "e2")
	for _, e := range byID {
		assert.True(t, e.IsRoot, "3-consonant word is a root")
		assert.Equal(t, "7999/8003", e.StrongsNumbers)
		// The whole batch shares one timestamp.
		assert.Equal(t, e2.DateAdded, e.DateAdded)
	}

	// Mutation propagated to both backends.
	blob, err := c.Get()
	require.NoError(t, err)
	require.NotNil(t, blob)
	reopened, err := store.OpenImage(blob)
	require.NoError(t, err)
	defer reopened.Close()
	n, err := reopened.CountEntries()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.GreaterOrEqual(t, sync.pushes, 2, "fresh image push plus mutation push")
}

func TestAddEntriesRederivesProvidedNumbers(t *testing.T) {
	ref := referenceImage(t)
	static := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(ref)
	}))
	defer static.Close()

	svc := New(Config{
		Cache:      memCache(),
		LookupURL:  static.URL + "/root-strongs.sqlite",
		HTTPClient: &http.Client{Timeout: time.Second},
	})
	require.NoError(t, svc.Init(context.Background()))

	require.NoError(t, svc.AddEntries(context.Background(), []*store.Entry{
		{ID: "e1", HebrewWord: "שָׁלַם", Root: "שלם", StrongsNumbers: "1111"},
	}))

	entries, err := svc.AllEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "7999/8003", entries[0].StrongsNumbers,
		"numbers come from the reference dataset, not the caller")
}

func TestDeleteEntriesEmptyListNoPersistence(t *testing.T) {
	c := memCache()
	svc := New(Config{Cache: c})
	require.NoError(t, svc.Init(context.Background()))

	putsAfterInit := c.puts
	require.NoError(t, svc.DeleteEntries(context.Background(), nil))
	assert.Equal(t, putsAfterInit, c.puts, "empty delete must not persist")
}

func TestDeleteEntriesRemovesOnlyMatching(t *testing.T) {
	c := memCache()
	svc := New(Config{Cache: c})
	require.NoError(t, svc.Init(context.Background()))

	require.NoError(t, svc.AddEntries(context.Background(), []*store.Entry{
		{ID: "keep", HebrewWord: "אוֹר"},
		{ID: "drop", HebrewWord: "חֹשֶׁךְ"},
	}))
	require.NoError(t, svc.DeleteEntries(context.Background(), []string{"drop"}))

	entries, err := svc.AllEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep", entries[0].ID)
}

func TestStrongNumbersForWithoutDataset(t *testing.T) {
	svc := New(Config{Cache: memCache()})
	require.NoError(t, svc.Init(context.Background()))

	assert.Empty(t, svc.StrongNumbersFor("שלם"))
}

func TestResetKeepsServerCopy(t *testing.T) {
	c := memCache()
	sync := &fakeSyncer{available: true}
	svc := New(Config{Cache: c, Server: sync})
	require.NoError(t, svc.Init(context.Background()))
	require.NoError(t, svc.AddEntries(context.Background(), []*store.Entry{
		{ID: "survivor", HebrewWord: "זָכַר"},
	}))
	require.NotNil(t, sync.image)

	require.NoError(t, svc.Reset())
	assert.False(t, svc.Ready())
	blob, err := c.Get()
	require.NoError(t, err)
	assert.Nil(t, blob, "reset clears the local cache")

	// Re-init reopens the server's untouched copy.
	require.NoError(t, svc.Init(context.Background()))
	assert.Equal(t, SourceServer, svc.LoadSource())
	entries, err := svc.AllEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "survivor", entries[0].ID)
}

func TestOperationsBeforeInit(t *testing.T) {
	svc := New(Config{Cache: memCache()})

	_, err := svc.AllEntries()
	assert.Error(t, err)
	assert.Error(t, svc.AddEntries(context.Background(), []*store.Entry{{HebrewWord: "א"}}))
}
