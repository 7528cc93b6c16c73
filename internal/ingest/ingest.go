package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"gwi.com/mindcare-assistant/internal/store"
)

// Embedder produces the vector stored alongside each chunk.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type ChunkWriter interface {
	CreateDataChunks(ctx context.Context, chunks []store.DataChunk) error
	ReplaceDataChunks(ctx context.Context, chunks []store.DataChunk) error
}

type Options struct {
	ChunkSize    int
	ChunkOverlap int
	// RatePerMinute caps embedding requests. Zero disables the limit.
	RatePerMinute int
	Workers       int
	// Append adds to the stored collection instead of replacing it.
	Append bool
}

type Stats struct {
	Files    int
	Sections int
	Chunks   int
	Embedded int
	Skipped  int
}

var ErrNoChunks = errors.New("no chunks extracted from input")

type Ingester struct {
	writer     ChunkWriter
	embedder   Embedder
	chunker    *Chunker
	limiter    *rate.Limiter
	workers    int
	appendMode bool
	logger     *zap.Logger
}

func NewIngester(writer ChunkWriter, embedder Embedder, opts Options, logger *zap.Logger) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 200
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = opts.ChunkSize / 5
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RatePerMinute)), 1)
	}
	return &Ingester{
		writer:     writer,
		embedder:   embedder,
		chunker:    NewChunker(opts.ChunkSize, opts.ChunkOverlap),
		limiter:    limiter,
		workers:    opts.Workers,
		appendMode: opts.Append,
		logger:     logger,
	}
}

// Run extracts, chunks and embeds every supported file under paths, then
// replaces or appends to the stored collection. Chunks whose embedding fails
// are skipped. The store is left untouched when nothing could be embedded.
func (in *Ingester) Run(ctx context.Context, paths ...string) (Stats, error) {
	var stats Stats

	files, err := collectFiles(paths)
	if err != nil {
		return stats, err
	}

	var chunks []store.DataChunk
	for _, file := range files {
		sections, err := ExtractFile(file)
		if err != nil {
			in.logger.Warn("skipping unreadable file", zap.String("file", file), zap.Error(err))
			continue
		}
		stats.Files++
		stats.Sections += len(sections)
		for _, section := range sections {
			chunks = append(chunks, in.chunker.Chunk(section)...)
		}
	}
	stats.Chunks = len(chunks)
	if len(chunks) == 0 {
		return stats, ErrNoChunks
	}
	in.logger.Info("chunks extracted; embedding", zap.Int("files", stats.Files), zap.Int("chunks", stats.Chunks))

	embedded := make([]bool, len(chunks))
	var done atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.workers)
	for i := range chunks {
		g.Go(func() error {
			if err := in.limiter.Wait(gctx); err != nil {
				return err
			}
			vec, err := in.embedder.Embed(gctx, chunks[i].Content)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				in.logger.Warn("failed to embed chunk; skipping",
					zap.String("source", chunks[i].Source), zap.String("page", chunks[i].Page), zap.Error(err))
				return nil
			}
			chunks[i].Embedding = vec
			embedded[i] = true
			if n := done.Add(1); n%50 == 0 {
				in.logger.Info("embedding progress", zap.Int32("embedded", n), zap.Int("total", len(chunks)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, fmt.Errorf("embedding interrupted: %w", err)
	}

	kept := chunks[:0]
	for i, c := range chunks {
		if embedded[i] {
			kept = append(kept, c)
		}
	}
	stats.Embedded = len(kept)
	stats.Skipped = stats.Chunks - stats.Embedded
	if len(kept) == 0 {
		return stats, fmt.Errorf("%w: every embedding request failed", ErrNoChunks)
	}

	write := in.writer.ReplaceDataChunks
	if in.appendMode {
		write = in.writer.CreateDataChunks
	}
	if err := write(ctx, kept); err != nil {
		return stats, fmt.Errorf("failed to store chunks: %w", err)
	}
	in.logger.Info("ingestion finished",
		zap.Int("stored", stats.Embedded), zap.Int("skipped", stats.Skipped))
	return stats, nil
}

// collectFiles expands directories into their supported files, in a stable
// order. Explicit file arguments are kept regardless of extension.
func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != p && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if SupportedExtensions[strings.ToLower(filepath.Ext(path))] {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}
	sort.Strings(files)
	return files, nil
}
