// Package index persists disk-tier records in an embedded SQLite database
// plus a directory of payload files.
//
// Small payloads live inline in the entries table; large ones are written
// to data/<name> and the row only references them. An Index is not safe
// for concurrent use: the disk tier serializes every call under its lock.
package index

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

var (
	// ErrNotFound is returned by Get when the key has no record.
	ErrNotFound = errors.New("index: not found")
	// ErrClosed is returned by every method after Close.
	ErrClosed = errors.New("index: closed")
)

const (
	dbFileName = "cache.sqlite"
	dataDir    = "data"

	// CompressedSuffix marks zstd-framed payload files.
	CompressedSuffix = ".zst"
)

var schema = []string{
	`create table if not exists entries (
		key              text primary key,
		filename         text,
		inline_data      blob,
		size             integer not null,
		last_access_time integer not null
	)`,
	`create index if not exists entries_last_access_time_idx on entries(last_access_time)`,
}

// Record is one stored entry. Exactly one of FileName and inline data is
// set in the table; Get always fills Data.
type Record struct {
	Key        string
	FileName   string // "" for inline records
	Data       []byte
	Size       int64 // uncompressed payload length
	LastAccess int64 // unix seconds
}

// Candidate is an eviction candidate without its payload.
type Candidate struct {
	Key      string
	FileName string
	Size     int64
}

// Options configures Open.
type Options struct {
	// Dir is the namespace directory; it is created if missing.
	Dir string
	// Now returns the current time (default time.Now).
	Now func() time.Time
	// BusyTimeout bounds waits on a locked database (default 5s).
	BusyTimeout time.Duration
	Logger      *zap.Logger
}

// Index is the SQLite-backed record store.
type Index struct {
	dir     string
	dataDir string
	busy    time.Duration
	now     func() time.Time
	log     *zap.Logger

	db    *sql.DB
	stmts map[string]*sql.Stmt
}

// Open creates the directory layout and opens (or creates) the database.
func Open(opt Options) (*Index, error) {
	if opt.Dir == "" {
		return nil, errors.New("index: empty directory")
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.BusyTimeout <= 0 {
		opt.BusyTimeout = 5 * time.Second
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	x := &Index{
		dir:     opt.Dir,
		dataDir: filepath.Join(opt.Dir, dataDir),
		busy:    opt.BusyTimeout,
		now:     opt.Now,
		log:     opt.Logger.Named("index"),
	}
	if err := x.open(); err != nil {
		return nil, err
	}
	return x, nil
}

func (x *Index) open() error {
	if err := os.MkdirAll(x.dataDir, 0o750); err != nil {
		return fmt.Errorf("index: create %s: %w", x.dataDir, err)
	}
	db, err := sql.Open("sqlite", x.dsn())
	if err != nil {
		return fmt.Errorf("index: open: %w", err)
	}
	// One connection: every pragma and statement sees the same session.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("index: open: %w", err)
	}
	for _, q := range schema {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return fmt.Errorf("index: schema: %w", err)
		}
	}
	x.db = db
	x.stmts = make(map[string]*sql.Stmt)
	return nil
}

// dsn returns the SQLite URI for the database file. The path is escaped
// so that '?', '#' and '%' in a namespace directory stay part of the name.
func (x *Index) dsn() string {
	u := url.URL{
		Scheme:   "file",
		Path:     filepath.ToSlash(filepath.Join(x.dir, dbFileName)),
		RawQuery: fmt.Sprintf("_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", x.busy.Milliseconds()),
	}
	return u.String()
}

// Dir returns the namespace directory.
func (x *Index) Dir() string { return x.dir }

// FileNameFor derives the payload file name of key.
func FileNameFor(key string, compressed bool) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	if compressed {
		name += CompressedSuffix
	}
	return name
}

// Save stores payload under key, inline when fileName is empty and as
// data/<fileName> otherwise. The file is written before the row; if the
// row cannot be written the new file is removed again.
func (x *Index) Save(key string, payload []byte, fileName string) error {
	if x.db == nil {
		return ErrClosed
	}
	prev, err := x.fileNameOf(key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	if fileName == "" {
		if prev != "" {
			if err := x.RemoveFile(prev); err != nil {
				return err
			}
		}
		return x.upsert(key, "", payload, int64(len(payload)))
	}

	if err := x.writeFile(fileName, payload); err != nil {
		return err
	}
	if err := x.upsert(key, fileName, nil, int64(len(payload))); err != nil {
		if rmErr := x.RemoveFile(fileName); rmErr != nil {
			x.log.Warn("orphaned payload file", zap.String("file", fileName), zap.Error(rmErr))
		}
		return err
	}
	if prev != "" && prev != fileName {
		if err := x.RemoveFile(prev); err != nil {
			x.log.Warn("stale payload file", zap.String("file", prev), zap.Error(err))
		}
	}
	return nil
}

func (x *Index) upsert(key, fileName string, inline []byte, size int64) error {
	st, err := x.stmt(`insert or replace into entries (key, filename, inline_data, size, last_access_time) values (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	var name sql.NullString
	if fileName != "" {
		name = sql.NullString{String: fileName, Valid: true}
	}
	if inline == nil && fileName == "" {
		inline = []byte{}
	}
	if _, err := st.Exec(key, name, inline, size, x.now().Unix()); err != nil {
		return fmt.Errorf("index: save %q: %w", key, err)
	}
	return nil
}

// Get returns the record for key with its payload loaded. It does not
// refresh the access time.
func (x *Index) Get(key string) (*Record, error) {
	if x.db == nil {
		return nil, ErrClosed
	}
	st, err := x.stmt(`select filename, inline_data, size, last_access_time from entries where key = ?`)
	if err != nil {
		return nil, err
	}
	var (
		name sql.NullString
		rec  = Record{Key: key}
	)
	err = st.QueryRow(key).Scan(&name, &rec.Data, &rec.Size, &rec.LastAccess)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: get %q: %w", key, err)
	}
	if name.Valid && name.String != "" {
		rec.FileName = name.String
		if rec.Data, err = x.readFile(rec.FileName); err != nil {
			return nil, err
		}
	}
	return &rec, nil
}

// Exists reports whether key has a record.
func (x *Index) Exists(key string) (bool, error) {
	if x.db == nil {
		return false, ErrClosed
	}
	st, err := x.stmt(`select count(*) from entries where key = ?`)
	if err != nil {
		return false, err
	}
	var n int
	if err := st.QueryRow(key).Scan(&n); err != nil {
		return false, fmt.Errorf("index: exists %q: %w", key, err)
	}
	return n > 0, nil
}

// UpdateAccessTime stamps key with the current time.
func (x *Index) UpdateAccessTime(key string) error {
	return x.exec(`update entries set last_access_time = ? where key = ?`, x.now().Unix(), key)
}

// RemoveRecord deletes the row only. Use Remove to drop the payload file too.
func (x *Index) RemoveRecord(key string) error {
	return x.exec(`delete from entries where key = ?`, key)
}

// Remove deletes the payload file of key and then its row. If the file
// cannot be removed the row is kept, so the index never loses track of a
// file it still owns. Removing an absent key succeeds.
func (x *Index) Remove(key string) error {
	name, err := x.fileNameOf(key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if name != "" {
		if err := x.RemoveFile(name); err != nil {
			return err
		}
	}
	return x.RemoveRecord(key)
}

// RemoveAllRecords deletes every row. Payload files are left for Reset.
func (x *Index) RemoveAllRecords() error {
	return x.exec(`delete from entries`)
}

// EvictionCandidates returns up to limit records, least recently accessed
// first. Ties go to the earlier write.
func (x *Index) EvictionCandidates(limit int) ([]Candidate, error) {
	if x.db == nil {
		return nil, ErrClosed
	}
	st, err := x.stmt(`select key, filename, size from entries order by last_access_time asc, rowid asc limit ?`)
	if err != nil {
		return nil, err
	}
	rows, err := st.Query(limit)
	if err != nil {
		return nil, fmt.Errorf("index: candidates: %w", err)
	}
	defer rows.Close()

	out := make([]Candidate, 0, limit)
	for rows.Next() {
		var (
			c    Candidate
			name sql.NullString
		)
		if err := rows.Scan(&c.Key, &name, &c.Size); err != nil {
			return nil, fmt.Errorf("index: candidates: %w", err)
		}
		c.FileName = name.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// TotalCount returns the number of records.
func (x *Index) TotalCount() (int64, error) {
	return x.scalar(`select count(*) from entries`)
}

// TotalSize returns the sum of payload sizes.
func (x *Index) TotalSize() (int64, error) {
	return x.scalar(`select coalesce(sum(size), 0) from entries`)
}

// Keys returns every key, most recently accessed first.
func (x *Index) Keys() ([]string, error) {
	return x.strings(`select key from entries order by last_access_time desc, rowid desc`)
}

// ExpiredFileNames lists payload files of records last accessed before t.
func (x *Index) ExpiredFileNames(before time.Time) ([]string, error) {
	return x.strings(`select filename from entries where last_access_time < ? and filename is not null and filename != ''`, before.Unix())
}

// RemoveExpired deletes every record last accessed before t: payload
// files first, then the rows in one statement. Rows whose file could not
// be removed are kept for the next attempt; their errors are combined
// into the returned error alongside the count of rows that were deleted.
func (x *Index) RemoveExpired(before time.Time) (int64, error) {
	names, err := x.ExpiredFileNames(before)
	if err != nil {
		return 0, err
	}
	var fileErr error
	kept := []string{}
	for _, name := range names {
		if err := x.RemoveFile(name); err != nil {
			fileErr = multierr.Append(fileErr, err)
			kept = append(kept, name)
		}
	}
	keptJSON, err := json.Marshal(kept)
	if err != nil {
		return 0, fmt.Errorf("index: remove expired: %w", err)
	}
	st, err := x.stmt(`delete from entries where last_access_time < ?
		and (filename is null or filename = '' or filename not in (select value from json_each(?)))`)
	if err != nil {
		return 0, err
	}
	res, err := st.Exec(before.Unix(), string(keptJSON))
	if err != nil {
		return 0, multierr.Append(fileErr, fmt.Errorf("index: remove expired: %w", err))
	}
	n, err := res.RowsAffected()
	return n, multierr.Append(fileErr, err)
}

// Checkpoint folds the WAL back into the database file and truncates it.
func (x *Index) Checkpoint() error {
	if x.db == nil {
		return ErrClosed
	}
	if _, err := x.db.Exec(`pragma wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("index: checkpoint: %w", err)
	}
	return nil
}

// Reset drops all records and payload files and starts over with an
// empty database in the same directory.
func (x *Index) Reset() error {
	if x.db == nil {
		return ErrClosed
	}
	err := x.RemoveAllRecords()
	err = multierr.Append(err, x.closeDB())
	if rmErr := os.RemoveAll(x.dir); rmErr != nil {
		return multierr.Append(err, fmt.Errorf("index: reset: %w", rmErr))
	}
	if openErr := x.open(); openErr != nil {
		return multierr.Append(err, openErr)
	}
	if err != nil {
		x.log.Warn("reset completed with errors", zap.Error(err))
	}
	return nil
}

// Close releases cached statements and the database. It is idempotent.
func (x *Index) Close() error {
	if x.db == nil {
		return nil
	}
	return x.closeDB()
}

func (x *Index) closeDB() error {
	var err error
	for q, st := range x.stmts {
		err = multierr.Append(err, st.Close())
		delete(x.stmts, q)
	}
	err = multierr.Append(err, x.db.Close())
	x.db = nil
	return err
}

// ---- statement helpers ----

func (x *Index) stmt(query string) (*sql.Stmt, error) {
	if st, ok := x.stmts[query]; ok {
		return st, nil
	}
	st, err := x.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("index: prepare: %w", err)
	}
	x.stmts[query] = st
	return st, nil
}

func (x *Index) exec(query string, args ...any) error {
	if x.db == nil {
		return ErrClosed
	}
	st, err := x.stmt(query)
	if err != nil {
		return err
	}
	if _, err := st.Exec(args...); err != nil {
		return fmt.Errorf("index: exec: %w", err)
	}
	return nil
}

func (x *Index) scalar(query string, args ...any) (int64, error) {
	if x.db == nil {
		return 0, ErrClosed
	}
	st, err := x.stmt(query)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := st.QueryRow(args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: query: %w", err)
	}
	return n, nil
}

func (x *Index) strings(query string, args ...any) ([]string, error) {
	if x.db == nil {
		return nil, ErrClosed
	}
	st, err := x.stmt(query)
	if err != nil {
		return nil, err
	}
	rows, err := st.Query(args...)
	if err != nil {
		return nil, fmt.Errorf("index: query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("index: query: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (x *Index) fileNameOf(key string) (string, error) {
	if x.db == nil {
		return "", ErrClosed
	}
	st, err := x.stmt(`select filename from entries where key = ?`)
	if err != nil {
		return "", err
	}
	var name sql.NullString
	err = st.QueryRow(key).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("index: lookup %q: %w", key, err)
	}
	return name.String, nil
}
