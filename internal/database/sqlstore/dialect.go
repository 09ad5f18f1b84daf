// Package sqlstore implements database.IdentityStore on database/sql. The SQL is
// built with squirrel; backend packages supply a Dialect with the placeholder
// format, the embedding column codec, migrations and the run lock.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"io/fs"
	"math"

	sq "github.com/Masterminds/squirrel"
)

// EmbeddingDest is a scan target for the embedding column.
type EmbeddingDest interface {
	sql.Scanner
	Slice() []float32
}

// Locker acquires the single-writer run lock on a backend.
type Locker interface {
	TryLock(ctx context.Context, db *sql.DB, name, holder string) (func(context.Context) error, error)
}

// Dialect captures the differences between SQL backends.
type Dialect struct {
	Name        string
	Placeholder sq.PlaceholderFormat

	// EncodeEmbedding converts a vector into a driver value for the embedding column.
	EncodeEmbedding func(vec []float32) (any, error)
	// NewEmbeddingDest returns an empty scan target for the embedding column.
	NewEmbeddingDest func() EmbeddingDest

	// Returning selects INSERT ... RETURNING id over LastInsertId.
	Returning bool

	// Migrations holds the *.sql files at its root, applied in name order.
	Migrations fs.FS

	Lock Locker
}

// EncodeEmbeddingBlob encodes a vector as little-endian float32 bytes.
func EncodeEmbeddingBlob(vec []float32) ([]byte, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b, nil
}

// DecodeEmbeddingBlob decodes bytes produced by EncodeEmbeddingBlob.
func DecodeEmbeddingBlob(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d (not multiple of 4)", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}

// BlobEmbedding scans a BLOB embedding column.
type BlobEmbedding struct {
	vec []float32
}

// Scan implements sql.Scanner.
func (e *BlobEmbedding) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		e.vec = nil
		return nil
	case []byte:
		vec, err := DecodeEmbeddingBlob(v)
		if err != nil {
			return err
		}
		e.vec = vec
		return nil
	case string:
		return e.Scan([]byte(v))
	default:
		return fmt.Errorf("unsupported embedding column type %T", src)
	}
}

// Slice returns the decoded vector.
func (e *BlobEmbedding) Slice() []float32 {
	return e.vec
}

// BlobCodec returns the embedding codec shared by backends that store vectors as BLOBs.
func BlobCodec() (func([]float32) (any, error), func() EmbeddingDest) {
	encode := func(vec []float32) (any, error) {
		return EncodeEmbeddingBlob(vec)
	}
	dest := func() EmbeddingDest {
		return &BlobEmbedding{}
	}
	return encode, dest
}
