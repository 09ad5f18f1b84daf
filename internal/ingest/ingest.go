// Package ingest loads faces produced by an external detector into the
// identity store and the embedding index.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/kozaktomas/face-resolver/internal/constants"
	"github.com/kozaktomas/face-resolver/internal/database"
	"github.com/kozaktomas/face-resolver/internal/facematch"
)

// Record is one JSON line of detector output.
type Record struct {
	File       string        `json:"file"`
	Embedding  []float32     `json:"embedding"`
	Confidence float64       `json:"confidence"`
	BBox       database.BBox `json:"bbox"`
}

// Store is the part of the identity store used during intake.
type Store interface {
	FacesByFile(ctx context.Context, fileRef string) ([]database.Face, error)
	AddFace(ctx context.Context, face database.NewFace) (int64, error)
}

// Index is the write side of the embedding index.
type Index interface {
	Dimension() int
	Add(faceID int64, vec []float32) error
	Flush() error
	Persist(ctx context.Context) error
}

// Result counts what happened to the input lines.
type Result struct {
	Lines      int     `json:"lines"`
	Imported   int     `json:"imported"`
	Duplicates int     `json:"duplicates"`
	Invalid    int     `json:"invalid"`
	FaceIDs    []int64 `json:"face_ids,omitempty"`
}

// Importer adds detector output to the store and the index.
type Importer struct {
	store  Store
	index  Index
	logger *slog.Logger

	// OnRecord, if set, is called after every processed line.
	OnRecord func(lines int)
}

// NewImporter creates an importer. A nil logger means slog.Default().
func NewImporter(store Store, index Index, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: store, index: index, logger: logger}
}

// Import reads JSON lines from r. Malformed lines and lines whose box
// re-detects an already stored face are skipped; store and index failures
// abort. The index is persisted once all lines are read.
func (im *Importer) Import(ctx context.Context, r io.Reader) (*Result, error) {
	res := &Result{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), constants.MaxLineSize)

	pending := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		res.Lines++

		imported, err := im.importLine(ctx, res.Lines, line, res)
		if err != nil {
			return res, err
		}
		if imported {
			pending++
		}
		if pending >= constants.IndexLogFlushInterval {
			if err := im.index.Flush(); err != nil {
				return res, fmt.Errorf("flushing index log: %w", err)
			}
			pending = 0
		}
		if im.OnRecord != nil {
			im.OnRecord(res.Lines)
		}
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("reading input: %w", err)
	}

	if err := im.index.Flush(); err != nil {
		return res, fmt.Errorf("flushing index log: %w", err)
	}
	if res.Imported > 0 {
		if err := im.index.Persist(ctx); err != nil {
			return res, fmt.Errorf("persisting index: %w", err)
		}
	}
	return res, nil
}

func (im *Importer) importLine(ctx context.Context, n int, line string, res *Result) (bool, error) {
	var rec Record
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		im.logger.WarnContext(ctx, "skipping malformed line", "line", n, "error", err)
		res.Invalid++
		return false, nil
	}
	if err := im.validate(&rec); err != nil {
		im.logger.WarnContext(ctx, "skipping invalid face", "line", n, "file", rec.File, "error", err)
		res.Invalid++
		return false, nil
	}

	existing, err := im.store.FacesByFile(ctx, rec.File)
	if err != nil {
		return false, fmt.Errorf("line %d: listing faces of %s: %w", n, rec.File, err)
	}
	if len(existing) > 0 {
		boxes := make([][]float64, len(existing))
		for i := range existing {
			boxes[i] = existing[i].BBox.Corners()
		}
		if idx, iou := facematch.FindOverlap(rec.BBox.Corners(), boxes, constants.DuplicateIoUThreshold); idx >= 0 {
			im.logger.DebugContext(ctx, "skipping re-detected face",
				"line", n,
				"file", rec.File,
				"existing_face_id", existing[idx].ID,
				"iou", iou,
			)
			res.Duplicates++
			return false, nil
		}
	}

	id, err := im.store.AddFace(ctx, database.NewFace{
		FileRef:    rec.File,
		Embedding:  rec.Embedding,
		Confidence: rec.Confidence,
		BBox:       rec.BBox,
	})
	if err != nil {
		return false, fmt.Errorf("line %d: storing face: %w", n, err)
	}
	res.Imported++
	res.FaceIDs = append(res.FaceIDs, id)

	if err := im.index.Add(id, rec.Embedding); err != nil {
		if errors.Is(err, database.ErrDuplicateKey) {
			im.logger.WarnContext(ctx, "face already indexed", "face_id", id)
			return false, nil
		}
		return false, fmt.Errorf("line %d: indexing face %d: %w", n, id, err)
	}
	return true, nil
}

func (im *Importer) validate(rec *Record) error {
	if strings.TrimSpace(rec.File) == "" {
		return fmt.Errorf("%w: file is required", database.ErrInvalidArgument)
	}
	if len(rec.Embedding) != im.index.Dimension() {
		return &database.DimensionMismatchError{Expected: im.index.Dimension(), Actual: len(rec.Embedding)}
	}
	if rec.BBox.Width < 0 || rec.BBox.Height < 0 {
		return fmt.Errorf("%w: negative bounding box size", database.ErrInvalidArgument)
	}
	return nil
}
