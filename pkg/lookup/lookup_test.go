package lookup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ncruces/go-sqlite3"
	"github.com/ncruces/go-sqlite3/ext/serdes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// referenceImage builds a serialized database shaped like the published
// cross-reference dataset.
func referenceImage(t *testing.T) []byte {
	t.Helper()

	conn, err := sqlite3.Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Exec(`
		CREATE TABLE roots (lemma TEXT NOT NULL, number TEXT NOT NULL);
		INSERT INTO roots (lemma, number) VALUES
			('שלם', '7999'),
			('שלם', '8003'),
			('דבר', '1696');
	`))

	blob, err := serdes.Serialize(conn, "main")
	require.NoError(t, err)
	return blob
}

func TestNumbersFor(t *testing.T) {
	l, err := OpenImage(referenceImage(t))
	require.NoError(t, err)
	defer l.Close()

	numbers, err := l.NumbersFor("שלם")
	require.NoError(t, err)
	assert.Equal(t, []string{"7999", "8003"}, numbers)

	numbers, err = l.NumbersFor("דבר")
	require.NoError(t, err)
	assert.Equal(t, []string{"1696"}, numbers)

	numbers, err = l.NumbersFor("אבג")
	require.NoError(t, err)
	assert.Empty(t, numbers)
}

func TestOpenImageWithoutLookupTable(t *testing.T) {
	conn, err := sqlite3.Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Exec(`CREATE TABLE misc (a TEXT, b TEXT)`))
	blob, err := serdes.Serialize(conn, "main")
	require.NoError(t, err)

	_, err = OpenImage(blob)
	assert.Error(t, err)
}

func TestTableNameNeedsQuoting(t *testing.T) {
	conn, err := sqlite3.Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Exec(`
		CREATE TABLE "strong""s map" (lemma TEXT NOT NULL, number TEXT NOT NULL);
		INSERT INTO "strong""s map" (lemma, number) VALUES ('שלם', '7999');
	`))
	blob, err := serdes.Serialize(conn, "main")
	require.NoError(t, err)

	l, err := OpenImage(blob)
	require.NoError(t, err)
	defer l.Close()

	numbers, err := l.NumbersFor("שלם")
	require.NoError(t, err)
	assert.Equal(t, []string{"7999"}, numbers)
}

func TestLoadOverHTTP(t *testing.T) {
	image := referenceImage(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(image)
	}))
	defer srv.Close()

	l, err := Load(context.Background(), &http.Client{Timeout: time.Second}, srv.URL+"/ref.sqlite")
	require.NoError(t, err)
	defer l.Close()

	numbers, err := l.NumbersFor("דבר")
	require.NoError(t, err)
	assert.Equal(t, []string{"1696"}, numbers)
}

func TestLoadAbsentResource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	_, err := Load(context.Background(), &http.Client{Timeout: time.Second}, srv.URL+"/ref.sqlite")
	assert.Error(t, err)
}
