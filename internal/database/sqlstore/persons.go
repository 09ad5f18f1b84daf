package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/kozaktomas/face-resolver/internal/database"
	"github.com/kozaktomas/face-resolver/internal/facematch"
)

// AddPerson creates a person. Names differing only in case collide and
// return database.ErrPersonExists.
func (s *Store) AddPerson(ctx context.Context, name string) (*database.Person, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: person name is required", database.ErrInvalidArgument)
	}
	key := facematch.PersonNameKey(name)
	p := &database.Person{Name: name, CreatedAt: now()}

	err := s.withTx(ctx, "add person", func(tx *sql.Tx) error {
		var existing int64
		err := s.scanOne(ctx, tx, "find person by name",
			s.sb.Select("id").From("persons").Where(sq.Eq{"name_key": key}), &existing)
		switch {
		case err == nil:
			return fmt.Errorf("%q: %w", name, database.ErrPersonExists)
		case !errors.Is(err, database.ErrNotFound):
			return err
		}

		p.ID, err = s.insertID(ctx, tx, "insert person",
			s.sb.Insert("persons").
				Columns("name", "name_key", "created_at").
				Values(p.Name, key, p.CreatedAt))
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetPerson returns a person by id.
func (s *Store) GetPerson(ctx context.Context, id int64) (*database.Person, error) {
	var p database.Person
	err := s.scanOne(ctx, s.db, "get person",
		s.sb.Select("id", "name", "created_at").From("persons").Where(sq.Eq{"id": id}),
		&p.ID, &p.Name, &p.CreatedAt)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("person %d: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPersons returns all persons except the ignored sentinel, by name.
func (s *Store) ListPersons(ctx context.Context) ([]database.Person, error) {
	rows, err := s.query(ctx, s.db, "list persons",
		s.sb.Select("id", "name", "created_at").
			From("persons").
			Where(sq.NotEq{"id": database.SentinelPersonID}).
			OrderBy("name_key", "id"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	persons := []database.Person{}
	for rows.Next() {
		var p database.Person
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, database.Unavailable("scan person", err)
		}
		persons = append(persons, p)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Unavailable("iterate persons", err)
	}
	return persons, nil
}
