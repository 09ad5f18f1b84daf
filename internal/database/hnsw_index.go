package database

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/hupe1980/vecgo/core"
	"github.com/hupe1980/vecgo/wal"
)

// Neighbor is a single search hit.
type Neighbor struct {
	FaceID   int64   `json:"face_id"`
	Distance float64 `json:"distance"`
}

// IndexOptions configures an EmbeddingIndex.
type IndexOptions struct {
	Dimension    int
	Storage      BlobStore // snapshot destination; nil keeps the index in memory only
	SnapshotName string
	WALDir       string // write-ahead log directory; empty disables the log
	Logger       *slog.Logger
}

// IndexStats describes the loaded index.
type IndexStats struct {
	Count       int       `json:"count"`
	Dimension   int       `json:"dimension"`
	MaxFaceID   int64     `json:"max_face_id"`
	Metric      string    `json:"metric"`
	BuildTime   time.Time `json:"build_time,omitzero"`
	Replayed    int       `json:"replayed"`
	Pending     int       `json:"pending"`
	Snapshot    string    `json:"snapshot,omitempty"`
	WALPath     string    `json:"wal_path,omitempty"`
}

// EmbeddingIndex is an approximate nearest-neighbor index over face embeddings
// keyed by face id. It supports one writer and concurrent readers.
type EmbeddingIndex struct {
	mu        sync.RWMutex
	dim       int
	graph     *hnsw.Graph[int64]
	vectors   map[int64][]float32
	maxID     int64
	buildTime time.Time
	replayed  int
	pending   int
	tornWAL   bool

	storage      BlobStore
	snapshotName string
	walDir       string
	wal          *wal.WAL
	logger       *slog.Logger
}

// NewEmbeddingIndex creates a new empty index.
func NewEmbeddingIndex(opts IndexOptions) *EmbeddingIndex {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingIndex{
		dim:          opts.Dimension,
		graph:        newGraph(),
		vectors:      make(map[int64][]float32),
		storage:      opts.Storage,
		snapshotName: opts.SnapshotName,
		walDir:       opts.WALDir,
		logger:       logger,
	}
}

// OpenEmbeddingIndex creates an index and loads its snapshot and write-ahead log.
func OpenEmbeddingIndex(ctx context.Context, opts IndexOptions) (*EmbeddingIndex, error) {
	idx := NewEmbeddingIndex(opts)
	if err := idx.Load(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.EuclideanDistance
	g.EfSearch = HNSWEfSearch
	return g
}

// Dimension returns the configured embedding dimension.
func (x *EmbeddingIndex) Dimension() int {
	return x.dim
}

// Len returns the number of indexed faces.
func (x *EmbeddingIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// Has reports whether the face id is indexed.
func (x *EmbeddingIndex) Has(faceID int64) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.vectors[faceID]
	return ok
}

// Vector returns a copy of the stored vector for a face id.
func (x *EmbeddingIndex) Vector(faceID int64) ([]float32, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	v, ok := x.vectors[faceID]
	if !ok {
		return nil, false
	}
	return append([]float32(nil), v...), true
}

func (x *EmbeddingIndex) checkDim(vec []float32) error {
	if len(vec) != x.dim {
		return &DimensionMismatchError{Expected: x.dim, Actual: len(vec)}
	}
	return nil
}

// Add inserts a face embedding. Adding an id twice returns ErrDuplicateKey.
func (x *EmbeddingIndex) Add(faceID int64, vec []float32) error {
	if err := x.checkDim(vec); err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.vectors[faceID]; ok {
		return fmt.Errorf("face %d: %w", faceID, ErrDuplicateKey)
	}

	owned := append([]float32(nil), vec...)
	if x.wal != nil {
		if x.tornWAL {
			return fmt.Errorf("%w: write-ahead log has a torn tail, recover before adding", ErrCorruptIndex)
		}
		if err := x.wal.LogInsert(walID(faceID), owned, encodeFaceID(faceID), nil); err != nil {
			return fmt.Errorf("logging face %d: %w", faceID, err)
		}
		x.pending++
	}
	x.insert(faceID, owned)
	return nil
}

// walID maps a face id onto the log's 32-bit entry id. It only pairs the
// prepare and commit entries of one insert; the face id travels in the data.
func walID(faceID int64) core.LocalID {
	return core.LocalID(uint32(faceID)) //nolint:gosec // truncation is intended
}

func encodeFaceID(faceID int64) []byte {
	return binary.LittleEndian.AppendUint64(nil, uint64(faceID)) //nolint:gosec // round-trips through decodeFaceID
}

func decodeFaceID(data []byte) (int64, bool) {
	if len(data) != 8 {
		return 0, false
	}
	return int64(binary.LittleEndian.Uint64(data)), true //nolint:gosec // round-trips encodeFaceID
}

// insert adds to the graph and the entry map. Caller holds the write lock.
func (x *EmbeddingIndex) insert(faceID int64, vec []float32) {
	x.graph.Add(hnsw.MakeNode(faceID, vec))
	x.vectors[faceID] = vec
	if faceID > x.maxID {
		x.maxID = faceID
	}
}

// Search returns up to k nearest faces ordered by ascending squared Euclidean
// distance, ties broken by face id.
func (x *EmbeddingIndex) Search(query []float32, k int) ([]Neighbor, error) {
	if err := x.checkDim(query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.vectors) == 0 {
		return nil, nil
	}

	nodes := x.graph.Search(query, k)

	// Compute exact distances from our own copies; the graph only ranks.
	results := make([]Neighbor, 0, len(nodes))
	for _, n := range nodes {
		vec, ok := x.vectors[n.Key]
		if !ok {
			continue
		}
		results = append(results, Neighbor{FaceID: n.Key, Distance: SquaredL2(query, vec)})
	}
	SortNeighbors(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// SortNeighbors orders neighbors by distance, then face id.
func SortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].Distance != ns[j].Distance {
			return ns[i].Distance < ns[j].Distance
		}
		return ns[i].FaceID < ns[j].FaceID
	})
}

// Flush makes every logged addition durable. Additions reach the log file on
// Add; Flush fsyncs it.
func (x *EmbeddingIndex) Flush() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.wal == nil {
		return nil
	}
	f, err := os.Open(x.wal.FilePath())
	if err != nil {
		return fmt.Errorf("opening write-ahead log: %w", err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing write-ahead log: %w", err)
	}
	return nil
}

// Persist writes a full snapshot and checkpoints the write-ahead log.
// An index without storage is memory-only and Persist is a no-op.
func (x *EmbeddingIndex) Persist(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.storage == nil {
		return nil
	}

	start := time.Now()
	x.buildTime = start.UTC()
	data, err := encodeSnapshot(x.snapshotView())
	if err != nil {
		return fmt.Errorf("encoding index snapshot: %w", err)
	}
	if err := x.storage.Put(ctx, x.snapshotName, data); err != nil {
		return fmt.Errorf("writing index snapshot %s: %w", x.snapshotName, err)
	}
	if x.wal != nil {
		if err := x.wal.Checkpoint(); err != nil {
			return fmt.Errorf("checkpointing write-ahead log: %w", err)
		}
	}
	x.replayed = 0
	x.pending = 0
	x.tornWAL = false

	x.logger.InfoContext(ctx, "index snapshot saved",
		"snapshot", x.snapshotName,
		"count", len(x.vectors),
		"bytes", len(data),
		"duration", time.Since(start),
	)
	return nil
}

func (x *EmbeddingIndex) snapshotView() *snapshot {
	return &snapshot{
		Dimension: x.dim,
		MaxFaceID: x.maxID,
		BuildTime: x.buildTime,
		Vectors:   x.vectors,
		Graph:     x.graph,
	}
}

// Load replaces the in-memory state with the persisted snapshot and replays
// the write-ahead log on top of it. A missing snapshot yields an empty index.
func (x *EmbeddingIndex) Load(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.wal != nil {
		_ = x.wal.Close()
		x.wal = nil
	}

	x.graph = newGraph()
	x.vectors = make(map[int64][]float32)
	x.maxID = 0
	x.buildTime = time.Time{}
	x.replayed = 0
	x.pending = 0
	x.tornWAL = false

	if x.storage != nil {
		data, err := x.storage.Get(ctx, x.snapshotName)
		switch {
		case errors.Is(err, ErrBlobNotFound):
			x.logger.InfoContext(ctx, "no index snapshot found, starting empty", "snapshot", x.snapshotName)
		case err != nil:
			return fmt.Errorf("reading index snapshot %s: %w", x.snapshotName, err)
		default:
			snap, err := decodeSnapshot(data, x.dim)
			if err != nil {
				return err
			}
			x.graph = snap.Graph
			x.vectors = snap.Vectors
			x.maxID = snap.MaxFaceID
			x.buildTime = snap.BuildTime
		}
	}

	if x.walDir == "" {
		return nil
	}
	return x.replayWAL(ctx)
}

// replayWAL opens the write-ahead log and applies its committed additions on
// top of the snapshot. Opening never rewrites the file, so a reader may load
// while a writer appends. A torn tail is reported and left in place.
func (x *EmbeddingIndex) replayWAL(ctx context.Context) error {
	w, err := wal.New(func(o *wal.Options) {
		o.Path = x.walDir
		o.DurabilityMode = wal.DurabilityAsync
		o.AutoCheckpointOps = 0
		o.AutoCheckpointMB = 0
	})
	if err != nil {
		return fmt.Errorf("opening write-ahead log: %w", err)
	}

	err = w.ReplayCommitted(func(e wal.Entry) error {
		if e.Type != wal.OpInsert {
			return nil
		}
		faceID, ok := decodeFaceID(e.Data)
		if !ok {
			return fmt.Errorf("%w: write-ahead log entry %d has no face id", ErrCorruptIndex, e.SeqNum)
		}
		if len(e.Vector) != x.dim {
			return fmt.Errorf("%w: write-ahead log entry for face %d", &DimensionMismatchError{
				Expected: x.dim, Actual: len(e.Vector), onLoad: true,
			}, faceID)
		}
		if _, ok := x.vectors[faceID]; ok {
			return nil
		}
		x.insert(faceID, e.Vector)
		x.replayed++
		return nil
	})
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		x.tornWAL = true
		x.logger.WarnContext(ctx, "write-ahead log ends in a partial entry",
			"path", w.FilePath(),
			"entries_replayed", x.replayed,
		)
	case err != nil:
		_ = w.Close()
		return fmt.Errorf("replaying write-ahead log: %w", err)
	}
	x.wal = w
	x.pending = x.replayed

	if x.replayed > 0 {
		x.logger.InfoContext(ctx, "write-ahead log replayed",
			"entries_replayed", x.replayed,
			"count", len(x.vectors),
		)
	}
	return nil
}

// Recover prepares a loaded index for writing. When Load replayed log entries
// or found a torn tail it writes a snapshot, which also empties the log, so
// later additions never land behind a partial entry. The caller must hold the
// run lock.
func (x *EmbeddingIndex) Recover(ctx context.Context) error {
	x.mu.RLock()
	dirty := x.tornWAL || x.replayed > 0
	x.mu.RUnlock()
	if !dirty {
		return nil
	}
	return x.Persist(ctx)
}

// Stats returns a description of the index.
func (x *EmbeddingIndex) Stats() IndexStats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	st := IndexStats{
		Count:       len(x.vectors),
		Dimension:   x.dim,
		MaxFaceID:   x.maxID,
		Metric:      DistanceMetric,
		BuildTime:   x.buildTime,
		Replayed:    x.replayed,
		Snapshot:    x.snapshotName,
		Pending:     x.pending,
	}
	if x.wal != nil {
		st.WALPath = x.wal.FilePath()
	}
	return st
}

// Close releases the write-ahead log.
func (x *EmbeddingIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.wal == nil {
		return nil
	}
	err := x.wal.Close()
	x.wal = nil
	return err
}
