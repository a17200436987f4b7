package cache

import (
	"bufio"
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/textproto"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

var _ CacheProvider = SQLiteCache{}

// NewSQLiteCache opens the metadata db in the given file.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, fmt.Errorf("opening %s: %w", filename, err)
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			key TEXT PRIMARY KEY,
			method TEXT,
			url TEXT,
			data_file TEXT,
			header TEXT,
			expires INTEGER,
			cacheable INTEGER,
			must_revalidate INTEGER,
			etag TEXT,
			last_modified TEXT,
			content_length INTEGER,
			status_code INTEGER,
			requested_at INTEGER,
			received_at INTEGER,
			complete INTEGER
		)`,
		"CREATE INDEX IF NOT EXISTS expires_idx ON entries (expires)",
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteCache{}, fmt.Errorf("initializing %s: %w", filename, err)
		}
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

const selectColumns = `key, method, url, data_file, header, expires, cacheable,
	must_revalidate, etag, last_modified, content_length, status_code,
	requested_at, received_at, complete`

func (s SQLiteCache) Get(key string) (Metadata, bool, error) {
	row := s.db.QueryRow("SELECT "+selectColumns+" FROM entries WHERE key = ?", key)
	m, err := scanMetadata(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Metadata{}, false, nil
	}
	if err != nil {
		return Metadata{}, false, err
	}
	return m, true, nil
}

func (s SQLiteCache) Put(m Metadata) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec(`INSERT OR REPLACE INTO entries (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Key, m.Method, m.URL, m.DataFile, encodeHeader(m.Header),
		toUnixMilli(m.Expires), m.Cacheable, m.MustRevalidate,
		m.ETag, m.LastModified, m.ContentLength, m.StatusCode,
		toUnixMilli(m.RequestedAt), toUnixMilli(m.ReceivedAt), m.Complete,
	)
	return err
}

func (s SQLiteCache) Expiring(prefix string, before time.Time) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT key FROM entries
		WHERE key LIKE ? AND expires > 0 AND expires <= ? AND complete = 1
		ORDER BY expires ASC`,
		prefix+"%", toUnixMilli(before),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s SQLiteCache) Purge(key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM entries WHERE key = ?", key)
	return err
}

func (s SQLiteCache) Has(key string) bool {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM entries WHERE key = ?", key).Scan(&one)
	return err == nil
}

func (s SQLiteCache) AllKeys(prefix string, cb func(string)) error {
	rows, err := s.db.Query("SELECT key FROM entries WHERE key LIKE ?", prefix+"%")
	if err != nil {
		return err
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	// callbacks may write to the db, so only call them once the rows are released
	rows.Close()
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (s SQLiteCache) Close() error {
	return s.db.Close()
}

func scanMetadata(row *sql.Row) (Metadata, error) {
	var (
		m                            Metadata
		header                       string
		expires, requested, received int64
	)
	err := row.Scan(
		&m.Key, &m.Method, &m.URL, &m.DataFile, &header, &expires, &m.Cacheable,
		&m.MustRevalidate, &m.ETag, &m.LastModified, &m.ContentLength, &m.StatusCode,
		&requested, &received, &m.Complete,
	)
	if err != nil {
		return m, err
	}
	if m.Header, err = decodeHeader(header); err != nil {
		return m, fmt.Errorf("decoding header of %s: %w", m.Key, err)
	}
	m.Expires = fromUnixMilli(expires)
	m.RequestedAt = fromUnixMilli(requested)
	m.ReceivedAt = fromUnixMilli(received)
	return m, nil
}

// encodeHeader stores headers in wire format.
func encodeHeader(h http.Header) string {
	var buf bytes.Buffer
	if h != nil {
		h.Write(&buf)
	}
	return buf.String()
}

func decodeHeader(s string) (http.Header, error) {
	r := textproto.NewReader(bufio.NewReader(bytes.NewBufferString(s + "\r\n")))
	h, err := r.ReadMIMEHeader()
	if err != nil {
		return nil, err
	}
	return http.Header(h), nil
}
