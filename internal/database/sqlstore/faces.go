package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/kozaktomas/face-resolver/internal/database"
)

// faceColumns lists the columns read by scanFace, in order.
var faceColumns = []string{
	"f.id", "f.file_ref", "f.confidence",
	"f.bbox_left", "f.bbox_top", "f.bbox_width", "f.bbox_height",
	"f.person_id", "f.person_id_suggested", "f.resolved_revision", "f.created_at",
	"COALESCE(fc.cluster_id, '')",
}

// selectFaces starts a face query joined with cluster memberships.
func (s *Store) selectFaces(withEmbedding bool) sq.SelectBuilder {
	cols := faceColumns
	if withEmbedding {
		cols = append(append([]string(nil), faceColumns...), "f.embedding")
	}
	return s.sb.Select(cols...).
		From("faces f").
		LeftJoin("face_clusters fc ON fc.face_id = f.id")
}

// scanFaces reads all rows produced by selectFaces.
func (s *Store) scanFaces(rows *sql.Rows, withEmbedding bool) ([]database.Face, error) {
	var faces []database.Face
	for rows.Next() {
		var f database.Face
		var personID, suggested, resolved sql.NullInt64
		dest := []any{
			&f.ID, &f.FileRef, &f.Confidence,
			&f.BBox.Left, &f.BBox.Top, &f.BBox.Width, &f.BBox.Height,
			&personID, &suggested, &resolved, &f.CreatedAt,
			&f.ClusterID,
		}
		var emb EmbeddingDest
		if withEmbedding {
			emb = s.d.NewEmbeddingDest()
			dest = append(dest, emb)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, database.Unavailable("scan face", err)
		}
		f.PersonID = nullable(personID)
		f.SuggestedPersonID = nullable(suggested)
		f.ResolvedRevision = nullable(resolved)
		if emb != nil {
			f.Embedding = emb.Slice()
		}
		faces = append(faces, f)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Unavailable("iterate faces", err)
	}
	return faces, nil
}

// AddFace stores a newly extracted face and advances the store revision.
func (s *Store) AddFace(ctx context.Context, face database.NewFace) (int64, error) {
	if len(face.Embedding) == 0 {
		return 0, fmt.Errorf("%w: face embedding is empty", database.ErrInvalidArgument)
	}
	emb, err := s.d.EncodeEmbedding(face.Embedding)
	if err != nil {
		return 0, fmt.Errorf("encoding embedding: %w", err)
	}

	var id int64
	err = s.withTx(ctx, "add face", func(tx *sql.Tx) error {
		var err error
		id, err = s.insertID(ctx, tx, "insert face",
			s.sb.Insert("faces").
				Columns("file_ref", "embedding", "confidence",
					"bbox_left", "bbox_top", "bbox_width", "bbox_height", "created_at").
				Values(face.FileRef, emb, face.Confidence,
					face.BBox.Left, face.BBox.Top, face.BBox.Width, face.BBox.Height, now()))
		if err != nil {
			return err
		}
		return s.bumpRevision(ctx, tx)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetFace returns a face with its embedding.
func (s *Store) GetFace(ctx context.Context, id int64) (*database.Face, error) {
	rows, err := s.query(ctx, s.db, "get face", s.selectFaces(true).Where(sq.Eq{"f.id": id}))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	faces, err := s.scanFaces(rows, true)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, fmt.Errorf("face %d: %w", id, database.ErrNotFound)
	}
	return &faces[0], nil
}

// FacesByFile returns all faces extracted from one file.
func (s *Store) FacesByFile(ctx context.Context, fileRef string) ([]database.Face, error) {
	return s.ListFaces(ctx, database.FaceFilter{FileRef: fileRef})
}

// statusCondition translates an effective status into a WHERE clause.
func statusCondition(status database.FaceStatus) sq.Sqlizer {
	switch status {
	case database.StatusConfirmed:
		return sq.NotEq{"f.person_id": nil}
	case database.StatusSuggested:
		return sq.And{
			sq.Eq{"f.person_id": nil},
			sq.NotEq{"f.person_id_suggested": nil},
		}
	case database.StatusClustered:
		return sq.And{
			sq.Eq{"f.person_id": nil},
			sq.Eq{"f.person_id_suggested": nil},
			sq.NotEq{"fc.cluster_id": nil},
		}
	case database.StatusUnresolved:
		return sq.And{
			sq.Eq{"f.person_id": nil},
			sq.Eq{"f.person_id_suggested": nil},
			sq.Eq{"fc.cluster_id": nil},
		}
	}
	return nil
}

// ListFaces returns faces without embeddings, ordered by id.
func (s *Store) ListFaces(ctx context.Context, filter database.FaceFilter) ([]database.Face, error) {
	q := s.selectFaces(false).OrderBy("f.id")
	if cond := statusCondition(filter.Status); cond != nil {
		q = q.Where(cond)
	}
	if filter.FileRef != "" {
		q = q.Where(sq.Eq{"f.file_ref": filter.FileRef})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	rows, err := s.query(ctx, s.db, "list faces", q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanFaces(rows, false)
}

// CountFaces returns per-state counters.
func (s *Store) CountFaces(ctx context.Context) (database.FaceStats, error) {
	var st database.FaceStats
	err := s.scanOne(ctx, s.db, "count faces",
		s.sb.Select(
			"COUNT(*)",
			"COALESCE(SUM(CASE WHEN f.person_id IS NULL AND f.person_id_suggested IS NULL AND fc.cluster_id IS NULL THEN 1 ELSE 0 END), 0)",
			"COALESCE(SUM(CASE WHEN f.person_id IS NULL AND f.person_id_suggested IS NOT NULL THEN 1 ELSE 0 END), 0)",
			"COALESCE(SUM(CASE WHEN f.person_id IS NULL AND f.person_id_suggested IS NULL AND fc.cluster_id IS NOT NULL THEN 1 ELSE 0 END), 0)",
			"COALESCE(SUM(CASE WHEN f.person_id IS NOT NULL AND f.person_id <> 0 THEN 1 ELSE 0 END), 0)",
			"COALESCE(SUM(CASE WHEN f.person_id = 0 THEN 1 ELSE 0 END), 0)",
		).
			From("faces f").
			LeftJoin("face_clusters fc ON fc.face_id = f.id"),
		&st.Total, &st.Unresolved, &st.Suggested, &st.Clustered, &st.Confirmed, &st.Ignored)
	if err != nil {
		return st, err
	}

	if err := s.scanOne(ctx, s.db, "count clusters",
		s.sb.Select("COUNT(DISTINCT cluster_id)").From("face_clusters"), &st.Clusters); err != nil {
		return st, err
	}
	if err := s.scanOne(ctx, s.db, "count persons",
		s.sb.Select("COUNT(*)").From("persons").Where(sq.NotEq{"id": database.SentinelPersonID}), &st.Persons); err != nil {
		return st, err
	}

	rev, err := s.Revision(ctx)
	if err != nil {
		return st, err
	}
	st.Revision = rev
	return st, nil
}

// ListClusters returns every cluster with its members.
func (s *Store) ListClusters(ctx context.Context) ([]database.Cluster, error) {
	rows, err := s.query(ctx, s.db, "list clusters",
		s.sb.Select("cluster_id", "face_id").From("face_clusters").OrderBy("cluster_id", "face_id"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clusters []database.Cluster
	for rows.Next() {
		var clusterID string
		var faceID int64
		if err := rows.Scan(&clusterID, &faceID); err != nil {
			return nil, database.Unavailable("scan cluster", err)
		}
		if n := len(clusters); n == 0 || clusters[n-1].ID != clusterID {
			clusters = append(clusters, database.Cluster{ID: clusterID})
		}
		last := &clusters[len(clusters)-1]
		last.FaceIDs = append(last.FaceIDs, faceID)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Unavailable("iterate clusters", err)
	}
	return clusters, nil
}

// ConfirmFace records a human assignment.
func (s *Store) ConfirmFace(ctx context.Context, faceID, personID int64) error {
	return s.withTx(ctx, "confirm face", func(tx *sql.Tx) error {
		var id int64
		err := s.scanOne(ctx, tx, "find person",
			s.sb.Select("id").From("persons").Where(sq.Eq{"id": personID}), &id)
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("person %d: %w", personID, database.ErrNotFound)
		}
		if err != nil {
			return err
		}

		res, err := s.exec(ctx, tx, "confirm face",
			s.sb.Update("faces").
				Set("person_id", personID).
				Set("person_id_suggested", nil).
				Where(sq.Eq{"id": faceID}))
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("face %d: %w", faceID, database.ErrNotFound)
		}
		return s.bumpRevision(ctx, tx)
	})
}
