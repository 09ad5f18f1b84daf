package sqlstore

import (
	"context"
	"database/sql"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/kozaktomas/face-resolver/internal/database"
)

// UnresolvedFaces returns unconfirmed faces not yet resolved against revision.
func (s *Store) UnresolvedFaces(ctx context.Context, revision int64) ([]database.Face, error) {
	rows, err := s.query(ctx, s.db, "list unresolved faces",
		s.selectFaces(true).
			Where(sq.Eq{"f.person_id": nil}).
			Where(sq.Or{
				sq.Eq{"f.resolved_revision": nil},
				sq.Lt{"f.resolved_revision": revision},
			}).
			OrderBy("f.id"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanFaces(rows, true)
}

// ListEmbeddings pages through stored embeddings by ascending face id.
func (s *Store) ListEmbeddings(ctx context.Context, afterID int64, limit int) ([]database.EmbeddingRecord, error) {
	q := s.sb.Select("id", "embedding").
		From("faces").
		Where(sq.Gt{"id": afterID}).
		OrderBy("id")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	rows, err := s.query(ctx, s.db, "list embeddings", q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []database.EmbeddingRecord
	for rows.Next() {
		var rec database.EmbeddingRecord
		emb := s.d.NewEmbeddingDest()
		if err := rows.Scan(&rec.FaceID, emb); err != nil {
			return nil, database.Unavailable("scan embedding", err)
		}
		rec.Embedding = emb.Slice()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Unavailable("iterate embeddings", err)
	}
	return out, nil
}

// FaceStates returns identity state for the given faces. Unknown ids are omitted.
func (s *Store) FaceStates(ctx context.Context, ids []int64) (map[int64]database.FaceState, error) {
	return s.faceStates(ctx, s.db, ids)
}

func (s *Store) faceStates(ctx context.Context, r runner, ids []int64) (map[int64]database.FaceState, error) {
	states := make(map[int64]database.FaceState, len(ids))
	for _, chunk := range chunks(ids) {
		rows, err := s.query(ctx, r, "face states",
			s.sb.Select("f.id", "f.person_id", "f.person_id_suggested", "COALESCE(fc.cluster_id, '')").
				From("faces f").
				LeftJoin("face_clusters fc ON fc.face_id = f.id").
				Where(sq.Eq{"f.id": chunk}))
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var st database.FaceState
			var personID, suggested sql.NullInt64
			if err := rows.Scan(&st.FaceID, &personID, &suggested, &st.ClusterID); err != nil {
				rows.Close()
				return nil, database.Unavailable("scan face state", err)
			}
			st.PersonID = nullable(personID)
			st.SuggestedPersonID = nullable(suggested)
			states[st.FaceID] = st
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, database.Unavailable("iterate face states", err)
		}
	}
	return states, nil
}

// SuggestPerson records a suggestion for an unconfirmed face and drops its
// cluster membership so the face keeps a single effective state.
func (s *Store) SuggestPerson(ctx context.Context, faceID, personID, revision int64) (bool, error) {
	applied := false
	err := s.withTx(ctx, "suggest person", func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx, "set suggestion",
			s.sb.Update("faces").
				Set("person_id_suggested", personID).
				Set("resolved_revision", revision).
				Where(sq.Eq{"id": faceID, "person_id": nil}))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return database.Unavailable("set suggestion", err)
		}
		if n == 0 {
			return nil
		}
		if _, err := s.exec(ctx, tx, "drop membership",
			s.sb.Delete("face_clusters").Where(sq.Eq{"face_id": faceID})); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// AssignCluster writes cluster memberships for a resolved face and its
// neighbors. Confirmed faces are never touched; suggested neighbors keep
// their suggestion and get no membership.
func (s *Store) AssignCluster(ctx context.Context, a database.ClusterAssignment) (int, error) {
	ids := append([]int64{a.FaceID}, a.Members...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	written := 0
	err := s.withTx(ctx, "assign cluster", func(tx *sql.Tx) error {
		states, err := s.faceStates(ctx, tx, ids)
		if err != nil {
			return err
		}
		self, ok := states[a.FaceID]
		if !ok || self.Confirmed() {
			return nil
		}

		if _, err := s.exec(ctx, tx, "resolve face",
			s.sb.Update("faces").
				Set("person_id_suggested", nil).
				Set("resolved_revision", a.Revision).
				Where(sq.Eq{"id": a.FaceID, "person_id": nil})); err != nil {
			return err
		}

		ts := now()
		var prev int64 = -1
		for _, id := range ids {
			if id == prev {
				continue
			}
			prev = id

			st, ok := states[id]
			if !ok || st.Confirmed() || st.ClusterID == a.ClusterID {
				continue
			}
			if id != a.FaceID && st.SuggestedPersonID != nil {
				continue
			}

			var b sq.Sqlizer
			if st.ClusterID != "" {
				b = s.sb.Update("face_clusters").
					Set("cluster_id", a.ClusterID).
					Set("assigned_at", ts).
					Where(sq.Eq{"face_id": id})
			} else {
				b = s.sb.Insert("face_clusters").
					Columns("face_id", "cluster_id", "assigned_at").
					Values(id, a.ClusterID, ts)
			}
			if _, err := s.exec(ctx, tx, "write membership", b); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// MergeClusters moves the unconfirmed members of the losing clusters into winner.
func (s *Store) MergeClusters(ctx context.Context, winner string, losers []string) (int, error) {
	if len(losers) == 0 {
		return 0, nil
	}
	var moved int64
	err := s.withTx(ctx, "merge clusters", func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx, "merge clusters",
			s.sb.Update("face_clusters").
				Set("cluster_id", winner).
				Set("assigned_at", now()).
				Where(sq.Eq{"cluster_id": losers}).
				Where("face_id IN (SELECT id FROM faces WHERE person_id IS NULL)"))
		if err != nil {
			return err
		}
		moved, err = res.RowsAffected()
		if err != nil {
			return database.Unavailable("merge clusters", err)
		}
		return nil
	})
	return int(moved), err
}

// MarkResolved records a resolution with no outcome.
func (s *Store) MarkResolved(ctx context.Context, faceID, revision int64) error {
	_, err := s.exec(ctx, s.db, "mark resolved",
		s.sb.Update("faces").
			Set("resolved_revision", revision).
			Where(sq.Eq{"id": faceID, "person_id": nil}))
	return err
}
