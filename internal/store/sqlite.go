package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"
)

type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSQLiteStore(dataSourceName string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, logger: logger}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS data_chunks (
        id TEXT PRIMARY KEY, -- UUID
        content TEXT NOT NULL,
        source TEXT NOT NULL DEFAULT '',
        page TEXT NOT NULL DEFAULT 'N/A',
        chunk_type TEXT NOT NULL DEFAULT 'paragraph',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        embedding_json TEXT -- Storing as JSON string of []float32
    );
    CREATE INDEX IF NOT EXISTS idx_data_chunks_source ON data_chunks(source);
    `
	_, err := s.db.Exec(schema)
	return err
}

// CreateDataChunks inserts chunks in a single transaction. Either all rows
// are written or none are.
func (s *SQLiteStore) CreateDataChunks(ctx context.Context, chunks []DataChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertChunks(ctx, tx, chunks)
	})
}

// ReplaceDataChunks swaps the whole collection for chunks atomically.
func (s *SQLiteStore) ReplaceDataChunks(ctx context.Context, chunks []DataChunk) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM data_chunks"); err != nil {
			return fmt.Errorf("failed to delete data_chunks: %w", err)
		}
		return insertChunks(ctx, tx, chunks)
	})
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertChunks(ctx context.Context, tx *sql.Tx, chunks []DataChunk) error {
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO data_chunks (id, content, source, page, chunk_type, created_at, embedding_json) VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare data_chunk insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range chunks {
		chunk := &chunks[i]
		embeddingBytes, err := json.Marshal(chunk.Embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		chunk.EmbeddingJSON = string(embeddingBytes)
		if chunk.Page == "" {
			chunk.Page = NoPage
		}
		if chunk.ChunkType == "" {
			chunk.ChunkType = ChunkTypeParagraph
		}
		chunk.CreatedAt = now
		if _, err := stmt.ExecContext(ctx, chunk.ID, chunk.Content, chunk.Source, chunk.Page,
			chunk.ChunkType, chunk.CreatedAt, chunk.EmbeddingJSON); err != nil {
			return fmt.Errorf("failed to execute data_chunk insert %s: %w", chunk.ID, err)
		}
	}
	return nil
}

// GetAllDataChunks loads every chunk with its decoded embedding. Rows with a
// missing or corrupt embedding are returned with a nil embedding.
func (s *SQLiteStore) GetAllDataChunks(ctx context.Context) ([]DataChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, content, source, page, chunk_type, created_at, embedding_json FROM data_chunks ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to query data_chunks: %w", err)
	}
	defer rows.Close()

	var chunks []DataChunk
	for rows.Next() {
		var chunk DataChunk
		var embeddingJSON sql.NullString
		if err := rows.Scan(&chunk.ID, &chunk.Content, &chunk.Source, &chunk.Page,
			&chunk.ChunkType, &chunk.CreatedAt, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("failed to scan data_chunk row: %w", err)
		}
		if embeddingJSON.Valid && embeddingJSON.String != "" {
			chunk.EmbeddingJSON = embeddingJSON.String
			if err := json.Unmarshal([]byte(embeddingJSON.String), &chunk.Embedding); err != nil {
				s.logger.Warn("failed to unmarshal chunk embedding",
					zap.String("chunk_id", chunk.ID), zap.Error(err))
				chunk.Embedding = nil
			}
		} else {
			s.logger.Warn("chunk has no embedding", zap.String("chunk_id", chunk.ID))
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate data_chunks: %w", err)
	}
	return chunks, nil
}

func (s *SQLiteStore) CountDataChunks(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM data_chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count data_chunks: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) ClearDataChunks(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM data_chunks"); err != nil {
		return fmt.Errorf("failed to delete data_chunks: %w", err)
	}
	return nil
}
