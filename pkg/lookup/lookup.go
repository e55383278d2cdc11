// Package lookup loads the read-only root-to-number cross-reference dataset
// and answers exact-lemma queries against it. The dataset's construction is
// external; only its read contract (lemma, number columns) matters here.
package lookup

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/ncruces/go-sqlite3/ext/serdes"
)

// Lookup wraps a read-only reference database image.
type Lookup struct {
	mu    sync.Mutex
	conn  *sqlite3.Conn
	table string
}

// Load fetches the reference image from url and opens it. A missing or
// invalid resource is an error; callers treat that as "no dataset this
// session", not as fatal.
func Load(ctx context.Context, client *http.Client, url string) (*Lookup, error) {
	blob, err := FetchStatic(ctx, client, url)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, fmt.Errorf("reference dataset not found at %s", url)
	}
	return OpenImage(blob)
}

// OpenImage opens a serialized reference database. The table holding the
// cross-reference is not named by the contract, so it is discovered: the
// first table carrying both a lemma and a number column.
func OpenImage(blob []byte) (*Lookup, error) {
	conn, err := sqlite3.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := serdes.Deserialize(conn, "main", blob); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to deserialize reference image: %w", err)
	}

	table, err := findLookupTable(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Lookup{conn: conn, table: table}, nil
}

// NumbersFor returns every cross-reference number recorded for an exact
// lemma match, in stored order. No match yields an empty slice.
func (l *Lookup) NumbersFor(lemma string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stmt, _, err := l.conn.Prepare(
		`SELECT number FROM ` + quoteIdent(l.table) + ` WHERE lemma = ?`,
	)
	if err != nil {
		return nil, fmt.Errorf("prepare lookup: %w", err)
	}
	defer stmt.Close()

	stmt.BindText(1, lemma)

	var numbers []string
	for stmt.Step() {
		numbers = append(numbers, stmt.ColumnText(0))
	}
	if err := stmt.Err(); err != nil {
		return nil, err
	}
	return numbers, nil
}

// Close releases the reference connection.
func (l *Lookup) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		err := l.conn.Close()
		l.conn = nil
		return err
	}
	return nil
}

func findLookupTable(conn *sqlite3.Conn) (string, error) {
	stmt, _, err := conn.Prepare(
		`SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`,
	)
	if err != nil {
		return "", fmt.Errorf("list tables: %w", err)
	}
	defer stmt.Close()

	var tables []string
	for stmt.Step() {
		tables = append(tables, stmt.ColumnText(0))
	}
	if err := stmt.Err(); err != nil {
		return "", err
	}

	for _, table := range tables {
		ok, err := hasLookupColumns(conn, table)
		if err != nil {
			return "", err
		}
		if ok {
			return table, nil
		}
	}
	return "", fmt.Errorf("no table with lemma and number columns in reference image")
}

// quoteIdent renders name as a double-quoted SQL identifier. Discovered
// table names are data, not trusted SQL text.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func hasLookupColumns(conn *sqlite3.Conn, table string) (bool, error) {
	stmt, _, err := conn.Prepare(`PRAGMA table_info(` + quoteIdent(table) + `)`)
	if err != nil {
		return false, err
	}
	defer stmt.Close()

	var hasLemma, hasNumber bool
	for stmt.Step() {
		switch stmt.ColumnText(1) {
		case "lemma":
			hasLemma = true
		case "number":
			hasNumber = true
		}
	}
	if err := stmt.Err(); err != nil {
		return false, err
	}
	return hasLemma && hasNumber, nil
}

// FetchStatic retrieves a static binary resource. A 404 or other non-2xx
// response returns (nil, nil): the resource is simply absent.
func FetchStatic(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	}
	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return blob, nil
}
