// Package storage - Write-Ahead Log for crash-recoverable durability.
//
// The WAL is an append-only log of logical mutations: every committed
// transaction appends at most one record per delta it installed (see
// logicalRecordFor for the deltas that need none), tagged with
// its commit timestamp. Recovery after a snapshot replays only records
// whose timestamp is greater than the snapshot's start_ts (§4.4). WAL
// files are segmented by sequence number with (from_ts, to_ts) metadata
// so retention pruning can drop files strictly older than the oldest
// retained snapshot without ever breaking the snapshot+WAL chain of
// custody (§4.4 "Retention").
//
// The segmented-file-by-size rotation and the EMBERDB_WAL_ENABLED toggle
// follow the same shape as the rest of this package's configuration
// surface; the operation set here is the logical-delta kinds from
// delta.go, with payloads in the PropertyValue binary encoding from
// propertyvalue.go.
package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
)

// WALOp is one of the logical mutation operations §4.4 says the WAL
// carries.
type WALOp uint8

const (
	WALOpCreateVertex WALOp = iota
	WALOpDeleteVertex
	WALOpSetVertexProperty
	WALOpAddLabel
	WALOpRemoveLabel
	WALOpCreateEdge
	WALOpDeleteEdge
	WALOpSetEdgeProperty
	WALOpDefineIndex
	WALOpDropIndex
	WALOpDefineConstraint
	WALOpDropConstraint
)

// WALLogicalRecord is one entry in the log: a commit timestamp, an
// operation tag, and a tag-specific payload, per §6's
// "{commit_ts, operation_tag, payload}" record format.
type WALLogicalRecord struct {
	CommitTs uint64
	Op       WALOp
	Payload  []byte
}

// logicalRecordFor converts one installed delta into its logical WAL
// record. The second return value is false when the delta needs no
// record of its own: the in-edge half of CreateEdge/DeleteEdge is
// always redundant with the paired out-edge half emitted from the
// other endpoint, and when properties-on-edges is enabled, edge
// creation/deletion is logged once from the Edge object's own delta
// rather than again from the vertex adjacency delta.
func logicalRecordFor(rec deltaRecord, commitTs uint64) (WALLogicalRecord, bool) {
	if rec.vertex != nil {
		return logicalRecordForVertex(rec, commitTs)
	}
	return logicalRecordForEdge(rec, commitTs), true
}

func logicalRecordForVertex(rec deltaRecord, commitTs uint64) (WALLogicalRecord, bool) {
	v := rec.vertex
	var buf bytes.Buffer
	writeU64(&buf, uint64(v.Gid))
	switch rec.delta.Kind {
	case DeltaDeleteObject:
		return WALLogicalRecord{CommitTs: commitTs, Op: WALOpCreateVertex, Payload: buf.Bytes()}, true
	case DeltaRecreateObject:
		return WALLogicalRecord{CommitTs: commitTs, Op: WALOpDeleteVertex, Payload: buf.Bytes()}, true
	case DeltaSetProperty:
		writeU32(&buf, uint32(rec.delta.propKey))
		val := v.Properties[rec.delta.propKey]
		_ = val.Encode(&buf)
		return WALLogicalRecord{CommitTs: commitTs, Op: WALOpSetVertexProperty, Payload: buf.Bytes()}, true
	case DeltaRemoveLabel: // undo of AddLabel
		writeU32(&buf, uint32(rec.delta.label))
		return WALLogicalRecord{CommitTs: commitTs, Op: WALOpAddLabel, Payload: buf.Bytes()}, true
	case DeltaAddLabel: // undo of RemoveLabel
		writeU32(&buf, uint32(rec.delta.label))
		return WALLogicalRecord{CommitTs: commitTs, Op: WALOpRemoveLabel, Payload: buf.Bytes()}, true
	case DeltaAddOutEdge:
		if rec.delta.edge.edgeRef.Edge != nil {
			return WALLogicalRecord{}, false // logged once from the edge's own delta instead
		}
		var edgeBuf bytes.Buffer
		writeU64(&edgeBuf, uint64(rec.delta.edge.edgeRef.Gid))
		writeU64(&edgeBuf, uint64(v.Gid))
		writeU64(&edgeBuf, uint64(rec.delta.edge.otherVertex.Gid))
		writeU32(&edgeBuf, uint32(rec.delta.edge.edgeType))
		return WALLogicalRecord{CommitTs: commitTs, Op: WALOpCreateEdge, Payload: edgeBuf.Bytes()}, true
	case DeltaRemoveOutEdge:
		if rec.delta.edge.edgeRef.Edge != nil {
			return WALLogicalRecord{}, false
		}
		var edgeBuf bytes.Buffer
		writeU64(&edgeBuf, uint64(rec.delta.edge.edgeRef.Gid))
		writeU64(&edgeBuf, uint64(v.Gid))
		writeU64(&edgeBuf, uint64(rec.delta.edge.otherVertex.Gid))
		return WALLogicalRecord{CommitTs: commitTs, Op: WALOpDeleteEdge, Payload: edgeBuf.Bytes()}, true
	default: // DeltaAddInEdge, DeltaRemoveInEdge: redundant with the out-edge half
		return WALLogicalRecord{}, false
	}
}

func logicalRecordForEdge(rec deltaRecord, commitTs uint64) WALLogicalRecord {
	e := rec.edge
	var buf bytes.Buffer
	writeU64(&buf, uint64(e.Gid))
	switch rec.delta.Kind {
	case DeltaDeleteObject:
		writeU64(&buf, uint64(e.From.Gid))
		writeU64(&buf, uint64(e.To.Gid))
		writeU32(&buf, uint32(e.Type))
		return WALLogicalRecord{CommitTs: commitTs, Op: WALOpCreateEdge, Payload: buf.Bytes()}
	case DeltaRecreateObject:
		return WALLogicalRecord{CommitTs: commitTs, Op: WALOpDeleteEdge, Payload: buf.Bytes()}
	default: // DeltaSetProperty
		writeU32(&buf, uint32(rec.delta.propKey))
		val := e.Properties[rec.delta.propKey]
		_ = val.Encode(&buf)
		return WALLogicalRecord{CommitTs: commitTs, Op: WALOpSetEdgeProperty, Payload: buf.Bytes()}
	}
}

// WALConfig configures the append-only log's on-disk behavior.
type WALConfig struct {
	Dir           string
	MaxFileSize   int64
	SyncOnAppend  bool
}

// DefaultWALConfig returns a 64MiB segment size with fsync-on-append
// enabled.
func DefaultWALConfig() WALConfig {
	return WALConfig{MaxFileSize: 64 * 1024 * 1024, SyncOnAppend: true}
}

// walSegment tracks one on-disk WAL file and the timestamp range it
// covers, for retention pruning (§4.4).
type walSegment struct {
	seq    uint64
	fromTs uint64
	toTs   uint64
	path   string
}

// WAL is the append-only write-ahead log. One instance per engine.
type WAL struct {
	mu        sync.Mutex
	cfg       WALConfig
	dir       string
	file      *os.File
	segments  []*walSegment
	curSeq    uint64
	curSize   int64
	curFrom   uint64
	curTo     uint64
}

const walMagic uint32 = 0x454d4257 // "EMBW"
const walVersion uint32 = 1

var finalizedSegmentName = regexp.MustCompile(`^(\d{20})_(\d{20})_(\d{20})\.wal$`)
var tmpSegmentName = regexp.MustCompile(`^(\d{20})\.wal\.tmp$`)

// OpenWAL opens (creating if necessary) the WAL directory under dataDir,
// loads every segment a prior run left behind so ReplayFrom can see
// them, and starts a fresh segment continuing the existing sequence.
func OpenWAL(dataDir string, cfg WALConfig) (*WAL, error) {
	dir := filepath.Join(dataDir, "wal")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, RecoveryFailure{Reason: fmt.Sprintf("creating wal dir: %v", err)}
	}
	w := &WAL{cfg: cfg, dir: dir}
	maxSeq, err := w.loadSegments()
	if err != nil {
		return nil, err
	}
	if err := w.rotate(maxSeq + 1); err != nil {
		return nil, err
	}
	return w, nil
}

// loadSegments scans dir for finalized "<seq>_<from>_<to>.wal" segments
// left by prior runs and registers them in w.segments so ReplayFrom can
// see them. A dangling "<seq>.wal.tmp" file (the segment that was open
// when the process last exited without a clean Close) is read to
// recover its actual commit-timestamp range and finalized in place,
// rather than discarded. Returns the highest sequence number found, so
// the caller can resume numbering past it.
func (w *WAL) loadSegments() (uint64, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, RecoveryFailure{Reason: fmt.Sprintf("listing wal dir: %v", err)}
	}

	var maxSeq uint64
	var tmpPath string
	var tmpSeq uint64
	for _, entry := range entries {
		name := entry.Name()
		if m := finalizedSegmentName.FindStringSubmatch(name); m != nil {
			seq, from, to := parseU64(m[1]), parseU64(m[2]), parseU64(m[3])
			w.segments = append(w.segments, &walSegment{seq: seq, fromTs: from, toTs: to, path: filepath.Join(w.dir, name)})
			if seq > maxSeq {
				maxSeq = seq
			}
			continue
		}
		if m := tmpSegmentName.FindStringSubmatch(name); m != nil {
			tmpSeq = parseU64(m[1])
			tmpPath = filepath.Join(w.dir, name)
		}
	}
	sort.Slice(w.segments, func(i, j int) bool { return w.segments[i].seq < w.segments[j].seq })

	if tmpPath != "" {
		recs, err := readWALSegment(tmpPath)
		if err != nil {
			return 0, RecoveryFailure{Reason: fmt.Sprintf("reading crashed wal segment %s: %v", tmpPath, err)}
		}
		var from, to uint64
		for _, r := range recs {
			if from == 0 || r.CommitTs < from {
				from = r.CommitTs
			}
			if r.CommitTs > to {
				to = r.CommitTs
			}
		}
		final := filepath.Join(w.dir, fmt.Sprintf("%020d_%020d_%020d.wal", tmpSeq, from, to))
		if err := os.Rename(tmpPath, final); err != nil {
			return 0, RecoveryFailure{Reason: fmt.Sprintf("finalizing crashed wal segment: %v", err)}
		}
		w.segments = append(w.segments, &walSegment{seq: tmpSeq, fromTs: from, toTs: to, path: final})
		if tmpSeq > maxSeq {
			maxSeq = tmpSeq
		}
	}
	return maxSeq, nil
}

func parseU64(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

func (w *WAL) rotate(seq uint64) error {
	if w.file != nil {
		w.file.Close()
		w.finalizeSegmentName()
	}
	path := filepath.Join(w.dir, fmt.Sprintf("%020d.wal.tmp", seq))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return RecoveryFailure{Reason: fmt.Sprintf("opening wal segment: %v", err)}
	}
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:4], walMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], walVersion)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(seq))
	if _, err := f.Write(hdr[:]); err != nil {
		return err
	}
	w.file = f
	w.curSeq = seq
	w.curSize = int64(len(hdr))
	w.curFrom = 0
	w.curTo = 0
	return nil
}

// finalizeSegmentName renames the in-progress .wal.tmp file to its final
// <seq>_<from>_<to>.wal name once the segment's timestamp range is
// known, per §6's persisted-layout naming.
func (w *WAL) finalizeSegmentName() {
	tmp := filepath.Join(w.dir, fmt.Sprintf("%020d.wal.tmp", w.curSeq))
	final := filepath.Join(w.dir, fmt.Sprintf("%020d_%020d_%020d.wal", w.curSeq, w.curFrom, w.curTo))
	_ = os.Rename(tmp, final)
	w.segments = append(w.segments, &walSegment{seq: w.curSeq, fromTs: w.curFrom, toTs: w.curTo, path: final})
}

// AppendRecords writes every record atomically to the current segment,
// rotating to a new segment first if the size limit would be exceeded.
func (w *WAL) AppendRecords(records []WALLogicalRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var buf bytes.Buffer
	for _, rec := range records {
		if rec.Payload == nil {
			continue
		}
		writeU64(&buf, rec.CommitTs)
		buf.WriteByte(byte(rec.Op))
		writeLenPrefixed(&buf, rec.Payload)
	}
	if buf.Len() == 0 {
		return nil
	}
	checksum := crc32.ChecksumIEEE(buf.Bytes())
	var frame bytes.Buffer
	writeU32(&frame, uint32(buf.Len()))
	frame.Write(buf.Bytes())
	writeU32(&frame, checksum)

	if w.curSize+int64(frame.Len()) > w.cfg.MaxFileSize {
		next := w.curSeq + 1
		if err := w.rotate(next); err != nil {
			return err
		}
	}
	n, err := w.file.Write(frame.Bytes())
	if err != nil {
		return err
	}
	w.curSize += int64(n)
	for _, rec := range records {
		if w.curFrom == 0 || rec.CommitTs < w.curFrom {
			w.curFrom = rec.CommitTs
		}
		if rec.CommitTs > w.curTo {
			w.curTo = rec.CommitTs
		}
	}
	if w.cfg.SyncOnAppend {
		if err := w.file.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and finalizes the current segment's filename.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.finalizeSegmentName()
	w.file = nil
	return err
}

// Prune removes segments strictly older than the oldest retained
// snapshot's start_ts, keeping at least one straddling segment so the
// snapshot+WAL chain of custody is never broken (§4.4 "Retention").
func (w *WAL) Prune(oldestRetainedSnapshotStartTs uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	keep := make([]*walSegment, 0, len(w.segments))
	for i, seg := range w.segments {
		if seg.toTs < oldestRetainedSnapshotStartTs && i < len(w.segments)-1 {
			if w.segments[i+1].fromTs <= oldestRetainedSnapshotStartTs {
				_ = os.Remove(seg.path)
				continue
			}
		}
		keep = append(keep, seg)
	}
	w.segments = keep
	return nil
}

// ReplayFrom reads every segment's records with CommitTs > sinceTs, in
// ascending timestamp order, per §4.4's recovery rule.
func (w *WAL) ReplayFrom(sinceTs uint64) ([]WALLogicalRecord, error) {
	w.mu.Lock()
	segments := append([]*walSegment(nil), w.segments...)
	w.mu.Unlock()

	out := make([]WALLogicalRecord, 0)
	for _, seg := range segments {
		recs, err := readWALSegment(seg.path)
		if err != nil {
			return nil, RecoveryFailure{Reason: fmt.Sprintf("reading wal segment %s: %v", seg.path, err)}
		}
		for _, r := range recs {
			if r.CommitTs > sinceTs {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func readWALSegment(path string) ([]WALLogicalRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 12 {
		return nil, fmt.Errorf("truncated wal header")
	}
	if binary.LittleEndian.Uint32(data[0:4]) != walMagic {
		return nil, fmt.Errorf("bad wal magic")
	}
	r := bytes.NewReader(data[12:])
	out := make([]WALLogicalRecord, 0)
	for r.Len() > 0 {
		frameLen, err := readU32(r)
		if err != nil {
			break
		}
		frame := make([]byte, frameLen)
		if _, err := io.ReadFull(r, frame); err != nil {
			break // trailing frame never finished writing before a crash
		}
		wantChecksum, err := readU32(r)
		if err != nil {
			break // trailing checksum never finished writing before a crash
		}
		if crc32.ChecksumIEEE(frame) != wantChecksum {
			return out, fmt.Errorf("wal frame checksum mismatch")
		}
		fr := bytes.NewReader(frame)
		for fr.Len() > 0 {
			commitTs, err := readU64(fr)
			if err != nil {
				return out, fmt.Errorf("corrupt wal record: %w", err)
			}
			opByte, err := fr.ReadByte()
			if err != nil {
				return out, fmt.Errorf("corrupt wal record: %w", err)
			}
			payload, err := readLenPrefixed(fr)
			if err != nil {
				return out, fmt.Errorf("corrupt wal record: %w", err)
			}
			out = append(out, WALLogicalRecord{CommitTs: commitTs, Op: WALOp(opByte), Payload: payload})
		}
	}
	return out, nil
}
