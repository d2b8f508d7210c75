package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/miradorstack/defect-analyzer/internal/models"
)

// ErrNotFound is returned when a history record does not exist.
var ErrNotFound = errors.New("not found")

const (
	defaultHistoryPageSize = 50
	maxHistoryPageSize     = 200
)

// HistoryStore persists completed analyses in SQLite.
type HistoryStore struct {
	conn *sql.DB
}

// NewHistoryStore opens (or creates) the database at path and initializes the schema.
func NewHistoryStore(path string) (*HistoryStore, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers; one connection also keeps ":memory:" databases shared.
	conn.SetMaxOpenConns(1)

	store := &HistoryStore{conn: conn}
	if err := store.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *HistoryStore) Close() error {
	return s.conn.Close()
}

func (s *HistoryStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS analyses (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		date_from INTEGER NOT NULL,
		date_to INTEGER NOT NULL,
		model_ids TEXT NOT NULL,
		model_key TEXT NOT NULL,
		total_lots INTEGER NOT NULL,
		result_count INTEGER NOT NULL,
		summary TEXT NOT NULL,
		payload BLOB,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at);
	CREATE INDEX IF NOT EXISTS idx_analyses_kind ON analyses(kind);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Save inserts an analysis record.
func (s *HistoryStore) Save(ctx context.Context, rec models.AnalysisRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("analysis record id is required")
	}
	ids, err := json.Marshal(rec.ModelIDs)
	if err != nil {
		return fmt.Errorf("marshal model ids: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
	INSERT INTO analyses (id, kind, date_from, date_to, model_ids, model_key, total_lots, result_count, summary, payload, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.conn.ExecContext(ctx, query,
		rec.ID,
		string(rec.Kind),
		rec.DateFrom.UnixNano(),
		rec.DateTo.UnixNano(),
		string(ids),
		modelKey(rec.ModelIDs),
		rec.TotalLots,
		rec.ResultCount,
		rec.Summary,
		rec.Payload,
		rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

// Get returns one record including its payload.
func (s *HistoryStore) Get(ctx context.Context, id string) (models.AnalysisRecord, error) {
	query := `
	SELECT id, kind, date_from, date_to, model_ids, total_lots, result_count, summary, payload, created_at
	FROM analyses WHERE id = ?
	`
	rec, err := scanRecord(s.conn.QueryRowContext(ctx, query, id), true)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AnalysisRecord{}, ErrNotFound
	}
	return rec, err
}

// List returns records newest first. The page token is the offset of the next page.
func (s *HistoryStore) List(ctx context.Context, req models.ListHistoryRequest) (models.ListHistoryResponse, error) {
	limit := req.PageSize
	if limit <= 0 {
		limit = defaultHistoryPageSize
	}
	if limit > maxHistoryPageSize {
		limit = maxHistoryPageSize
	}

	offset := 0
	if req.PageToken != "" {
		v, err := strconv.Atoi(req.PageToken)
		if err != nil || v < 0 {
			return models.ListHistoryResponse{}, fmt.Errorf("%w: invalid page token %q", models.ErrInvalidRequest, req.PageToken)
		}
		offset = v
	}

	var (
		where []string
		args  []interface{}
	)
	if req.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(req.Kind))
	}
	if req.ModelID != "" {
		where = append(where, "instr(model_key, ?) > 0")
		args = append(args, ","+req.ModelID+",")
	}
	if !req.Start.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, req.Start.UnixNano())
	}
	if !req.End.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, req.End.UnixNano())
	}

	query := `SELECT id, kind, date_from, date_to, model_ids, total_lots, result_count, summary, NULL, created_at FROM analyses`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, limit+1, offset)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return models.ListHistoryResponse{}, fmt.Errorf("query analyses: %w", err)
	}
	defer rows.Close()

	resp := models.ListHistoryResponse{Records: []models.AnalysisRecord{}}
	for rows.Next() {
		rec, err := scanRecord(rows, false)
		if err != nil {
			return models.ListHistoryResponse{}, err
		}
		resp.Records = append(resp.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return models.ListHistoryResponse{}, err
	}

	if len(resp.Records) > limit {
		resp.Records = resp.Records[:limit]
		resp.NextPageToken = strconv.Itoa(offset + limit)
	}
	return resp, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner, withPayload bool) (models.AnalysisRecord, error) {
	var (
		rec               models.AnalysisRecord
		kind, ids         string
		from, to, created int64
		payload           []byte
	)
	if err := row.Scan(&rec.ID, &kind, &from, &to, &ids, &rec.TotalLots, &rec.ResultCount, &rec.Summary, &payload, &created); err != nil {
		return models.AnalysisRecord{}, err
	}
	if err := json.Unmarshal([]byte(ids), &rec.ModelIDs); err != nil {
		return models.AnalysisRecord{}, fmt.Errorf("unmarshal model ids: %w", err)
	}
	rec.Kind = models.AnalysisKind(kind)
	rec.DateFrom = time.Unix(0, from).UTC()
	rec.DateTo = time.Unix(0, to).UTC()
	rec.CreatedAt = time.Unix(0, created).UTC()
	if withPayload {
		rec.Payload = payload
	}
	return rec, nil
}

// modelKey renders ids as ",a,b," so a single model can be matched with instr.
func modelKey(ids []string) string {
	return "," + strings.Join(ids, ",") + ","
}
