package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/face-resolver/internal/constants"
	"github.com/kozaktomas/face-resolver/internal/database"
	"golang.org/x/sync/errgroup"
)

// Store is what a resolution run needs from the identity store.
type Store interface {
	database.ResolutionStore
	database.RunLocker
}

// Index is the embedding index as seen by a run.
type Index interface {
	Searcher
	Add(faceID int64, vec []float32) error
	Has(faceID int64) bool
	Flush() error
	Persist(ctx context.Context) error
}

// Outcome is what happened to a single face.
type Outcome string

const (
	OutcomeSuggested  Outcome = "suggested"
	OutcomeClustered  Outcome = "clustered"
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
)

// Report summarises a finished run.
type Report struct {
	RunID       int64         `json:"run_id"`
	Revision    int64         `json:"revision"`
	Synced      int           `json:"synced"`
	Considered  int           `json:"considered"`
	Suggested   int           `json:"suggested"`
	Clustered   int           `json:"clustered"`
	NewClusters int           `json:"new_clusters"`
	Merged      int           `json:"merged"`
	Unresolved  int           `json:"unresolved"`
	Skipped     int           `json:"skipped"`
	Failed      int           `json:"failed"`
	Duration    time.Duration `json:"duration"`
}

func (r *Report) record(status database.RunStatus) database.RunRecord {
	return database.RunRecord{
		ID:          r.RunID,
		Revision:    r.Revision,
		Status:      status,
		Considered:  r.Considered,
		Suggested:   r.Suggested,
		Clustered:   r.Clustered,
		NewClusters: r.NewClusters,
		Merged:      r.Merged,
		Unresolved:  r.Unresolved,
		Failed:      r.Failed,
	}
}

// Run resolves every face that is not confirmed and not yet resolved
// against the current store revision.
type Run struct {
	store    Store
	index    Index
	opts     Options
	matcher  *Matcher
	assigner *Assigner

	// Logger receives per-face and summary logs. Defaults to slog.Default().
	Logger *slog.Logger
	// OnProgress, if set, is called after each face with the number done so far.
	OnProgress func(done, total int)
	// Holder identifies the run lock owner. Defaults to database.LockHolder().
	Holder string

	// scope is held shared by ordinary face work and exclusively by merges.
	scope sync.RWMutex
	locks groupLocker

	mu     sync.Mutex
	report Report
}

// NewRun wires a resolution run over a store and an index.
func NewRun(store Store, index Index, opts Options) *Run {
	if opts.Workers <= 0 {
		opts.Workers = constants.WorkerPoolSize
	}
	return &Run{
		store:    store,
		index:    index,
		opts:     opts,
		matcher:  NewMatcher(index, store, opts),
		assigner: NewAssigner(store, opts, nil),
		Logger:   slog.Default(),
	}
}

// Execute performs one run under the run lock. Per-face failures are counted
// and left for the next run; only store, index or lock failures abort.
func (r *Run) Execute(ctx context.Context) (*Report, error) {
	if r.Holder == "" {
		r.Holder = database.LockHolder()
	}
	var report *Report
	err := database.WithRunLock(ctx, r.store, r.Holder, func(ctx context.Context) error {
		var err error
		report, err = r.Resolve(ctx)
		return err
	})
	return report, err
}

// Resolve performs one run like Execute for a caller that already holds the
// run lock.
func (r *Run) Resolve(ctx context.Context) (*Report, error) {
	r.assigner.logger = r.Logger
	r.report = Report{}
	return r.execute(ctx)
}

func (r *Run) execute(ctx context.Context) (*Report, error) {
	start := time.Now()

	revision, err := r.store.Revision(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading revision: %w", err)
	}
	runID, err := r.store.StartRun(ctx, revision)
	if err != nil {
		return nil, fmt.Errorf("starting run: %w", err)
	}
	r.report.RunID = runID
	r.report.Revision = revision

	r.Logger.InfoContext(ctx, "resolution run started", "run_id", runID, "revision", revision)

	if err := r.resolveAll(ctx, revision); err != nil {
		r.finish(ctx, database.RunFailed, start)
		return &r.report, err
	}

	if err := r.index.Persist(ctx); err != nil {
		r.finish(ctx, database.RunFailed, start)
		return &r.report, fmt.Errorf("persisting index: %w", err)
	}

	if err := r.finish(ctx, database.RunCompleted, start); err != nil {
		return &r.report, err
	}

	r.Logger.InfoContext(ctx, "resolution run finished",
		"run_id", runID,
		"considered", r.report.Considered,
		"suggested", r.report.Suggested,
		"clustered", r.report.Clustered,
		"new_clusters", r.report.NewClusters,
		"merged", r.report.Merged,
		"unresolved", r.report.Unresolved,
		"skipped", r.report.Skipped,
		"failed", r.report.Failed,
		"duration", r.report.Duration,
	)
	return &r.report, nil
}

func (r *Run) finish(ctx context.Context, status database.RunStatus, start time.Time) error {
	r.report.Duration = time.Since(start)
	if err := r.store.FinishRun(context.WithoutCancel(ctx), r.report.record(status)); err != nil {
		r.Logger.ErrorContext(ctx, "failed to record run", "run_id", r.report.RunID, "error", err)
		return fmt.Errorf("finishing run: %w", err)
	}
	return nil
}

func (r *Run) resolveAll(ctx context.Context, revision int64) error {
	if err := r.syncIndex(ctx); err != nil {
		return err
	}

	faces, err := r.store.UnresolvedFaces(ctx, revision)
	if err != nil {
		return fmt.Errorf("listing unresolved faces: %w", err)
	}
	r.report.Considered = len(faces)
	if len(faces) == 0 {
		return nil
	}

	neighbors, searchErrs, err := r.searchAll(ctx, faces)
	if err != nil {
		return err
	}

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i := range faces {
		g.Go(func() error {
			defer func() {
				if r.OnProgress != nil {
					r.OnProgress(int(done.Add(1)), len(faces))
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}

			face := &faces[i]
			if searchErrs[i] != nil {
				r.fail(gctx, face.ID, searchErrs[i])
				return nil
			}
			outcome, cluster, err := r.resolveFace(gctx, face.ID, neighbors[i], revision)
			if err != nil {
				if cerr := gctx.Err(); cerr != nil {
					return cerr
				}
				r.fail(gctx, face.ID, err)
				return nil
			}
			r.tally(outcome, cluster)
			return nil
		})
	}
	return g.Wait()
}

// syncIndex adds stored embeddings the index has not seen yet.
func (r *Run) syncIndex(ctx context.Context) error {
	var after int64
	for {
		page, err := r.store.ListEmbeddings(ctx, after, constants.EmbeddingPageSize)
		if err != nil {
			return fmt.Errorf("listing embeddings: %w", err)
		}
		for _, rec := range page {
			after = rec.FaceID
			if r.index.Has(rec.FaceID) {
				continue
			}
			err := r.index.Add(rec.FaceID, rec.Embedding)
			var dimErr *database.DimensionMismatchError
			switch {
			case err == nil:
				r.report.Synced++
			case errors.Is(err, database.ErrDuplicateKey), errors.As(err, &dimErr):
				r.Logger.WarnContext(ctx, "skipping embedding", "face_id", rec.FaceID, "error", err)
			default:
				return fmt.Errorf("indexing face %d: %w", rec.FaceID, err)
			}
		}
		if len(page) < constants.EmbeddingPageSize {
			break
		}
	}
	if r.report.Synced > 0 {
		r.Logger.InfoContext(ctx, "index synced with store", "added", r.report.Synced)
	}
	return r.index.Flush()
}

// searchAll runs the read-only neighbor searches in parallel. A failed
// search is reported per face rather than aborting the run.
func (r *Run) searchAll(ctx context.Context, faces []database.Face) ([][]database.Neighbor, []error, error) {
	neighbors := make([][]database.Neighbor, len(faces))
	errs := make([]error, len(faces))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i := range faces {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			neighbors[i], errs[i] = r.matcher.Neighbors(faces[i].ID, faces[i].Embedding)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return neighbors, errs, nil
}

// resolveFace decides one face while holding the locks of its neighborhood.
// A decision that needs a merge is retried with the whole run to itself.
func (r *Run) resolveFace(ctx context.Context, faceID int64, neighbors []database.Neighbor, revision int64) (Outcome, *ClusterOutcome, error) {
	ids := append([]int64{faceID}, neighborIDs(neighbors)...)

	r.scope.RLock()
	unlock := r.locks.Lock(ids)
	outcome, cluster, err := r.decide(ctx, faceID, neighbors, revision, false)
	unlock()
	r.scope.RUnlock()

	if errors.Is(err, database.ErrAmbiguousCluster) {
		r.scope.Lock()
		outcome, cluster, err = r.decide(ctx, faceID, neighbors, revision, true)
		r.scope.Unlock()
	}
	return outcome, cluster, err
}

func (r *Run) decide(ctx context.Context, faceID int64, neighbors []database.Neighbor, revision int64, exclusive bool) (Outcome, *ClusterOutcome, error) {
	match, _, err := r.matcher.Decide(ctx, neighbors)
	if err != nil {
		return "", nil, err
	}

	if match != nil {
		applied, err := r.store.SuggestPerson(ctx, faceID, match.PersonID, revision)
		if err != nil {
			return "", nil, fmt.Errorf("suggesting person %d: %w", match.PersonID, err)
		}
		if !applied {
			return OutcomeSkipped, nil, nil
		}
		r.Logger.DebugContext(ctx, "face matched",
			"face_id", faceID,
			"person_id", match.PersonID,
			"votes", match.Votes,
			"candidates", match.Candidates,
			"distance", match.Distance,
		)
		return OutcomeSuggested, nil, nil
	}

	cluster, err := r.assigner.Assign(ctx, faceID, neighbors, revision, exclusive)
	if err != nil {
		return "", nil, err
	}
	if cluster != nil {
		r.Logger.DebugContext(ctx, "face clustered",
			"face_id", faceID,
			"cluster_id", cluster.ClusterID,
			"members", len(cluster.Members),
		)
		return OutcomeClustered, cluster, nil
	}

	if err := r.store.MarkResolved(ctx, faceID, revision); err != nil {
		return "", nil, fmt.Errorf("marking face resolved: %w", err)
	}
	return OutcomeUnresolved, nil, nil
}

func (r *Run) fail(ctx context.Context, faceID int64, err error) {
	r.Logger.WarnContext(ctx, "face resolution failed", "face_id", faceID, "error", err)
	r.mu.Lock()
	r.report.Failed++
	r.mu.Unlock()
}

func (r *Run) tally(outcome Outcome, cluster *ClusterOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch outcome {
	case OutcomeSuggested:
		r.report.Suggested++
	case OutcomeClustered:
		r.report.Clustered++
		if cluster.Minted {
			r.report.NewClusters++
		}
		r.report.Merged += len(cluster.Merged)
	case OutcomeUnresolved:
		r.report.Unresolved++
	case OutcomeSkipped:
		r.report.Skipped++
	}
}
