package database

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/coder/hnsw"
	"github.com/klauspost/compress/zstd"
)

// snapshot is the persisted form of an EmbeddingIndex.
//
// Layout:
//
//	[magic "FRIX"] [version u16] [metric len u8] [metric]
//	[dimension u32] [count u64] [max face id i64] [build time unix nanos i64]
//	zstd( count * ([face id i64] [dimension * f32]) [graph len u64] [hnsw export] )
//
// All integers are little endian.
type snapshot struct {
	Dimension int
	MaxFaceID int64
	BuildTime time.Time
	Vectors   map[int64][]float32
	Graph     *hnsw.Graph[int64]
}

func encodeSnapshot(s *snapshot) ([]byte, error) {
	var out bytes.Buffer

	out.WriteString(snapshotMagic)
	header := make([]byte, 0, 64)
	header = binary.LittleEndian.AppendUint16(header, snapshotVersion)
	header = append(header, byte(len(DistanceMetric)))
	header = append(header, DistanceMetric...)
	header = binary.LittleEndian.AppendUint32(header, uint32(s.Dimension))
	header = binary.LittleEndian.AppendUint64(header, uint64(len(s.Vectors)))
	header = binary.LittleEndian.AppendUint64(header, uint64(s.MaxFaceID))
	header = binary.LittleEndian.AppendUint64(header, uint64(s.BuildTime.UnixNano()))
	out.Write(header)

	enc, err := zstd.NewWriter(&out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	w := bufio.NewWriter(enc)

	ids := make([]int64, 0, len(s.Vectors))
	for id := range s.Vectors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	scratch := make([]byte, 8)
	for _, id := range ids {
		binary.LittleEndian.PutUint64(scratch, uint64(id))
		w.Write(scratch)
		for _, f := range s.Vectors[id] {
			binary.LittleEndian.PutUint32(scratch[:4], math.Float32bits(f))
			w.Write(scratch[:4])
		}
	}

	var graph bytes.Buffer
	if len(ids) > 0 {
		if err := s.Graph.Export(&graph); err != nil {
			_ = enc.Close()
			return nil, fmt.Errorf("exporting HNSW graph: %w", err)
		}
	}
	binary.LittleEndian.PutUint64(scratch, uint64(graph.Len()))
	w.Write(scratch)
	w.Write(graph.Bytes())

	if err := w.Flush(); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("writing snapshot body: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("closing zstd encoder: %w", err)
	}
	return out.Bytes(), nil
}

// corrupt wraps a decoding problem as ErrCorruptIndex.
func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptIndex, fmt.Sprintf(format, args...))
}

func decodeSnapshot(data []byte, wantDim int) (*snapshot, error) {
	r := bytes.NewReader(data)

	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != snapshotMagic {
		return nil, corrupt("bad snapshot magic")
	}

	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, corrupt("reading version: %v", err)
	}
	if version != snapshotVersion {
		return nil, corrupt("unsupported snapshot version %d", version)
	}

	metricLen, err := r.ReadByte()
	if err != nil {
		return nil, corrupt("reading metric: %v", err)
	}
	metric := make([]byte, metricLen)
	if _, err := io.ReadFull(r, metric); err != nil {
		return nil, corrupt("reading metric: %v", err)
	}
	if string(metric) != DistanceMetric {
		return nil, corrupt("snapshot metric %q, configured %q", metric, DistanceMetric)
	}

	var hdr struct {
		Dimension uint32
		Count     uint64
		MaxFaceID int64
		BuildTime int64
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, corrupt("reading header: %v", err)
	}
	if int(hdr.Dimension) != wantDim {
		return nil, &DimensionMismatchError{Expected: wantDim, Actual: int(hdr.Dimension), onLoad: true}
	}

	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, corrupt("opening zstd body: %v", err)
	}
	defer dec.Close()
	body, err := io.ReadAll(dec)
	if err != nil {
		return nil, corrupt("decompressing body: %v", err)
	}

	entrySize := 8 + 4*uint64(hdr.Dimension)
	if hdr.Count > uint64(len(body))/entrySize {
		return nil, corrupt("entry count %d exceeds body size", hdr.Count)
	}

	snap := &snapshot{
		Dimension: wantDim,
		MaxFaceID: hdr.MaxFaceID,
		Vectors:   make(map[int64][]float32, hdr.Count),
	}
	if hdr.BuildTime != 0 {
		snap.BuildTime = time.Unix(0, hdr.BuildTime).UTC()
	}

	off := uint64(0)
	for range hdr.Count {
		id := int64(binary.LittleEndian.Uint64(body[off:]))
		off += 8
		vec := make([]float32, hdr.Dimension)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(body[off:]))
			off += 4
		}
		if _, dup := snap.Vectors[id]; dup {
			return nil, corrupt("face %d stored twice", id)
		}
		snap.Vectors[id] = vec
	}

	if uint64(len(body))-off < 8 {
		return nil, corrupt("missing graph section")
	}
	graphLen := binary.LittleEndian.Uint64(body[off:])
	off += 8
	if graphLen != uint64(len(body))-off {
		return nil, corrupt("graph section length %d, remaining %d", graphLen, uint64(len(body))-off)
	}

	snap.Graph = newGraph()
	if graphLen > 0 {
		if err := snap.Graph.Import(bytes.NewReader(body[off:])); err != nil {
			return nil, corrupt("importing HNSW graph: %v", err)
		}
		// Import overwrites EfSearch with the exported value.
		snap.Graph.EfSearch = HNSWEfSearch
	}
	if snap.Graph.Len() != len(snap.Vectors) {
		return nil, corrupt("graph holds %d nodes, entries %d", snap.Graph.Len(), len(snap.Vectors))
	}
	for id := range snap.Vectors {
		if _, ok := snap.Graph.Lookup(id); !ok {
			return nil, corrupt("face %d missing from graph", id)
		}
	}

	return snap, nil
}
