package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/wares/pkg/model"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var sqliteSchema string

// SQLite implements interfaces.VectorIndex on a local database file with a
// brute force cosine scan. Suitable for development and small catalogs.
type SQLite struct {
	db        *sql.DB
	dimension int
}

// NewSQLite opens or creates the database at path. The dimension is recorded
// on first open and an existing database with another dimension is rejected.
func NewSQLite(ctx context.Context, path string, dimension int) (*SQLite, error) {
	if err := validateDimension(dimension); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, goerr.Wrap(err, "failed to create directory", goerr.V("path", path))
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open database", goerr.V("path", path))
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to ping database", goerr.V("path", path))
	}

	s := &SQLite{db: db, dimension: dimension}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return goerr.Wrap(err, "failed to apply schema")
	}

	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = 'dimension'`).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.ExecContext(ctx, `INSERT INTO index_meta (key, value) VALUES ('dimension', ?)`, strconv.Itoa(s.dimension)); err != nil {
			return goerr.Wrap(err, "failed to record dimension")
		}
		return nil
	case err != nil:
		return goerr.Wrap(err, "failed to read dimension")
	}

	dim, err := strconv.Atoi(stored)
	if err != nil {
		return goerr.Wrap(err, "invalid stored dimension", goerr.V("value", stored))
	}
	if dim != s.dimension {
		return goerr.Wrap(model.DimensionMismatch(dim, s.dimension), "database was created with another dimension")
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Dimension() int {
	return s.dimension
}

func (s *SQLite) PutEntry(ctx context.Context, entry *model.Entry) error {
	if err := validateEntry(entry, s.dimension); err != nil {
		return err
	}

	var meta sql.NullString
	if entry.Metadata != nil {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return goerr.Wrap(err, "failed to marshal metadata", goerr.V("product_id", entry.ID))
		}
		meta = sql.NullString{String: string(raw), Valid: true}
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (id, vector, metadata, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET vector = excluded.vector, metadata = excluded.metadata, updated_at = excluded.updated_at`,
		entry.ID.String(), encodeVector(entry.Vector), meta, time.Now().Unix(),
	); err != nil {
		return goerr.Wrap(model.Upstream(err), "failed to put entry", goerr.V("product_id", entry.ID))
	}
	return nil
}

func (s *SQLite) GetEntry(ctx context.Context, id model.ProductID) (*model.Entry, error) {
	var (
		blob []byte
		meta sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT vector, metadata FROM entries WHERE id = ?`, id.String()).Scan(&blob, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(model.ErrNotFound, "entry not found", goerr.V("product_id", id))
	}
	if err != nil {
		return nil, goerr.Wrap(model.Upstream(err), "failed to get entry", goerr.V("product_id", id))
	}

	vec, err := decodeVector(blob)
	if err != nil {
		return nil, goerr.Wrap(model.Upstream(err), "failed to decode vector", goerr.V("product_id", id))
	}
	if err := validateStoredVector(id, vec, s.dimension); err != nil {
		return nil, err
	}
	m, err := decodeMetadata(meta)
	if err != nil {
		return nil, goerr.Wrap(model.Upstream(err), "failed to decode metadata", goerr.V("product_id", id))
	}

	return &model.Entry{ID: id, Vector: vec, Metadata: m}, nil
}

func (s *SQLite) Query(ctx context.Context, input *model.QueryInput) ([]*model.Match, error) {
	if input == nil {
		return nil, goerr.Wrap(model.ErrInvalidInput, "query input is nil")
	}
	if err := input.Validate(s.dimension); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, vector, metadata FROM entries`)
	if err != nil {
		return nil, goerr.Wrap(model.Upstream(err), "failed to scan entries")
	}
	defer rows.Close()

	query, queryNorm := toFloat64Vector(input.Vector)

	var matches []*model.Match
	for rows.Next() {
		var (
			id   string
			blob []byte
			meta sql.NullString
		)
		if err := rows.Scan(&id, &blob, &meta); err != nil {
			return nil, goerr.Wrap(model.Upstream(err), "failed to read entry")
		}

		m, err := decodeMetadata(meta)
		if err != nil {
			return nil, goerr.Wrap(model.Upstream(err), "failed to decode metadata", goerr.V("product_id", id))
		}
		if !input.MatchAll(m) {
			continue
		}

		vec, err := decodeVector(blob)
		if err != nil {
			return nil, goerr.Wrap(model.Upstream(err), "failed to decode vector", goerr.V("product_id", id))
		}
		if err := validateStoredVector(model.ProductID(id), vec, s.dimension); err != nil {
			return nil, err
		}

		match := &model.Match{
			ID:    model.ProductID(id),
			Score: cosineSimilarity(query, queryNorm, vec),
		}
		if input.WithMetadata {
			match.Metadata = m
		}
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(model.Upstream(err), "failed to iterate entries")
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > input.TopK {
		matches = matches[:input.TopK]
	}

	return matches, nil
}

// encodeVector stores float32 values as little endian bytes
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, goerr.New("vector blob length is not a multiple of 4", goerr.V("length", len(buf)))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

func decodeMetadata(raw sql.NullString) (*model.EntryMetadata, error) {
	if !raw.Valid {
		return nil, nil
	}
	var m model.EntryMetadata
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func toFloat64Vector(vec []float32) ([]float64, float64) {
	out := make([]float64, len(vec))
	var norm float64
	for i, v := range vec {
		out[i] = float64(v)
		norm += out[i] * out[i]
	}
	return out, math.Sqrt(norm)
}

func cosineSimilarity(query []float64, queryNorm float64, vec []float32) float64 {
	var dot, norm float64
	for i, v := range vec {
		f := float64(v)
		dot += query[i] * f
		norm += f * f
	}
	if queryNorm == 0 || norm == 0 {
		return 0
	}
	return dot / (queryNorm * math.Sqrt(norm))
}
