// Package podcast persists generated module podcasts: the script and the
// decoded audio, keyed by module title. Audio lives in a binary table (one
// row per title, channel samples as float32 LE blobs); scripts and
// freshness data live in a lightweight key-value metadata table so
// existence and age checks never touch the blob.
package podcast

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pitchcoach/pitchcoach/pkg/audio"
)

var (
	// ErrNotFound is returned by Load when no fresh cache entry exists for
	// the title. A missing metadata row, a missing audio row, an expired
	// entry, and a corrupt blob all surface as ErrNotFound.
	ErrNotFound = errors.New("podcast: not found")

	// ErrQuotaExceeded is returned by Save when the configured size cap or
	// the underlying storage is full. Callers treat it as a degraded-cache
	// condition, not a fatal error.
	ErrQuotaExceeded = errors.New("podcast: storage quota exceeded")
)

// metaKeyPrefix namespaces metadata rows in the key-value table.
const metaKeyPrefix = "podcast_meta_"

// Metadata describes one cached podcast. The JSON field names are the
// on-disk format of the metadata value.
type Metadata struct {
	ModuleTitle string  `json:"moduleTitle"`
	Script      string  `json:"script"`
	Timestamp   int64   `json:"timestamp"`  // unix milliseconds at save time
	Duration    float64 `json:"duration"`   // seconds
	SampleRate  int     `json:"sampleRate"` // Hz
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithRetention overrides the 30-day default retention.
func WithRetention(d time.Duration) StoreOption {
	return func(s *Store) { s.retention = d }
}

// WithMaxBytes caps the total size of stored audio blobs. Zero disables the
// application-level cap.
func WithMaxBytes(n int64) StoreOption {
	return func(s *Store) { s.maxBytes = n }
}

// WithClock overrides the time source. Used in tests to age entries.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// Store is the SQLite-backed podcast cache. Every operation is an
// independent statement on the pooled connection, so concurrent readers
// and writers of the same title resolve last-writer-wins.
type Store struct {
	db        *sql.DB
	retention time.Duration
	maxBytes  int64
	now       func() time.Time
}

// Open opens (creating if needed) the podcast cache database at path.
func Open(path string, opts ...StoreOption) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("podcast: open database: %w", err)
	}

	s := &Store{
		db:        db,
		retention: 30 * 24 * time.Hour,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("podcast: %s: %w", pragma, err)
		}
	}

	schema := `
CREATE TABLE IF NOT EXISTS podcast_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS podcast_audio (
	module_title TEXT PRIMARY KEY,
	channels     INTEGER NOT NULL,
	length       INTEGER NOT NULL,
	sample_rate  INTEGER NOT NULL,
	samples      BLOB NOT NULL
);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("podcast: create schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Save stores script and audio for moduleTitle, overwriting any previous
// entry for the same title. Size-cap and disk-full failures are reported as
// ErrQuotaExceeded.
func (s *Store) Save(ctx context.Context, moduleTitle, script string, buf *audio.Buffer) error {
	if err := buf.Validate(); err != nil {
		return fmt.Errorf("podcast: save %q: %w", moduleTitle, err)
	}

	blob := encodeSamples(buf)
	if s.maxBytes > 0 {
		var existing int64
		err := s.db.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(LENGTH(samples)), 0) FROM podcast_audio WHERE module_title != ?`,
			moduleTitle,
		).Scan(&existing)
		if err != nil {
			return fmt.Errorf("podcast: save %q: size check: %w", moduleTitle, err)
		}
		if existing+int64(len(blob)) > s.maxBytes {
			return fmt.Errorf("%w: %d bytes would exceed cap of %d", ErrQuotaExceeded, existing+int64(len(blob)), s.maxBytes)
		}
	}

	meta := Metadata{
		ModuleTitle: moduleTitle,
		Script:      script,
		Timestamp:   s.now().UnixMilli(),
		Duration:    buf.Duration().Seconds(),
		SampleRate:  buf.SampleRate,
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("podcast: save %q: marshal metadata: %w", moduleTitle, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO podcast_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaKeyPrefix+moduleTitle, string(metaJSON),
	)
	if err != nil {
		return wrapStorageErr(fmt.Sprintf("save %q metadata", moduleTitle), err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO podcast_audio (module_title, channels, length, sample_rate, samples)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(module_title) DO UPDATE SET
			channels = excluded.channels,
			length = excluded.length,
			sample_rate = excluded.sample_rate,
			samples = excluded.samples`,
		moduleTitle, buf.NumChannels(), buf.Len(), buf.SampleRate, blob,
	)
	if err != nil {
		return wrapStorageErr(fmt.Sprintf("save %q audio", moduleTitle), err)
	}
	return nil
}

// Load returns the cached script and audio for moduleTitle. Entries older
// than the retention window are deleted and reported as ErrNotFound, as is
// any half-written entry where metadata and audio disagree.
func (s *Store) Load(ctx context.Context, moduleTitle string) (Metadata, *audio.Buffer, error) {
	var metaJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM podcast_meta WHERE key = ?`, metaKeyPrefix+moduleTitle,
	).Scan(&metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return Metadata{}, nil, ErrNotFound
	}
	if err != nil {
		return Metadata{}, nil, fmt.Errorf("podcast: load %q: %w", moduleTitle, err)
	}

	var meta Metadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		// Unreadable metadata is treated like an absent entry.
		_ = s.Delete(ctx, moduleTitle)
		return Metadata{}, nil, ErrNotFound
	}

	age := s.now().Sub(time.UnixMilli(meta.Timestamp))
	if age > s.retention {
		if err := s.Delete(ctx, moduleTitle); err != nil {
			return Metadata{}, nil, fmt.Errorf("podcast: expire %q: %w", moduleTitle, err)
		}
		return Metadata{}, nil, ErrNotFound
	}

	var (
		channels, length, sampleRate int
		blob                         []byte
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT channels, length, sample_rate, samples FROM podcast_audio WHERE module_title = ?`,
		moduleTitle,
	).Scan(&channels, &length, &sampleRate, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		// Metadata without audio: a half-written entry, not a crash.
		return Metadata{}, nil, ErrNotFound
	}
	if err != nil {
		return Metadata{}, nil, fmt.Errorf("podcast: load %q audio: %w", moduleTitle, err)
	}

	buf, ok := decodeSamples(blob, channels, length, sampleRate)
	if !ok {
		return Metadata{}, nil, ErrNotFound
	}
	return meta, buf, nil
}

// Delete removes both the metadata and audio rows for moduleTitle. Deleting
// an absent entry is not an error.
func (s *Store) Delete(ctx context.Context, moduleTitle string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM podcast_meta WHERE key = ?`, metaKeyPrefix+moduleTitle); err != nil {
		return fmt.Errorf("podcast: delete %q metadata: %w", moduleTitle, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM podcast_audio WHERE module_title = ?`, moduleTitle); err != nil {
		return fmt.Errorf("podcast: delete %q audio: %w", moduleTitle, err)
	}
	return nil
}

// Clear removes every cached podcast.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM podcast_meta WHERE key LIKE ?`, metaKeyPrefix+"%"); err != nil {
		return fmt.Errorf("podcast: clear metadata: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM podcast_audio`); err != nil {
		return fmt.Errorf("podcast: clear audio: %w", err)
	}
	return nil
}

// List returns the metadata of every cached podcast, including entries past
// retention (they are reaped lazily on Load).
func (s *Store) List(ctx context.Context) ([]Metadata, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT value FROM podcast_meta WHERE key LIKE ? ORDER BY key`, metaKeyPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("podcast: list: %w", err)
	}
	defer rows.Close()

	var out []Metadata
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("podcast: list: scan: %w", err)
		}
		var meta Metadata
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			continue
		}
		out = append(out, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("podcast: list: %w", err)
	}
	return out, nil
}

// Ping verifies the database is reachable. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// encodeSamples serialises the buffer's channels back to back as float32 LE.
func encodeSamples(buf *audio.Buffer) []byte {
	out := make([]byte, 0, buf.NumChannels()*buf.Len()*4)
	var scratch [4]byte
	for _, ch := range buf.Channels {
		for _, s := range ch {
			binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(s))
			out = append(out, scratch[:]...)
		}
	}
	return out
}

// decodeSamples is the inverse of encodeSamples. Returns false when the
// declared shape does not match the blob size.
func decodeSamples(blob []byte, channels, length, sampleRate int) (*audio.Buffer, bool) {
	if channels <= 0 || length < 0 || sampleRate <= 0 {
		return nil, false
	}
	if len(blob) != channels*length*4 {
		return nil, false
	}
	buf := audio.NewBuffer(sampleRate, channels, length)
	for c := 0; c < channels; c++ {
		base := c * length * 4
		for i := 0; i < length; i++ {
			bits := binary.LittleEndian.Uint32(blob[base+i*4:])
			buf.Channels[c][i] = math.Float32frombits(bits)
		}
	}
	return buf, true
}

// wrapStorageErr maps disk-full conditions onto ErrQuotaExceeded and wraps
// everything else.
func wrapStorageErr(op string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "database or disk is full") || strings.Contains(msg, "SQLITE_FULL") {
		return fmt.Errorf("%w: %s: %v", ErrQuotaExceeded, op, err)
	}
	return fmt.Errorf("podcast: %s: %w", op, err)
}
