package crdt

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"sort"

	"github.com/pkg/errors"
)

// Binary format v1. All integers are unsigned LEB128 varints; byte strings
// are varint-length-prefixed.
//
//	state vector: count, then per replica (ascending): replica, seq
//	op list:      count, then per op: replica, seq, lamport, flags,
//	              map name, key, value (omitted when the delete flag is set)

const opFlagDeleted = 0x01

var (
	// ErrMalformedStateVector is returned when state vector bytes cannot be
	// decoded.
	ErrMalformedStateVector = errors.New("crdt: malformed state vector")
	// ErrMalformedUpdate is returned when update blob bytes cannot be
	// decoded.
	ErrMalformedUpdate = errors.New("crdt: malformed update")
)

// EncodeStateVector serializes a state vector in the v1 format.
func EncodeStateVector(sv StateVector) []byte {
	replicas := make([]uint64, 0, len(sv))
	for r := range sv {
		replicas = append(replicas, r)
	}
	sort.Slice(replicas, func(i, j int) bool { return replicas[i] < replicas[j] })

	buf := binary.AppendUvarint(nil, uint64(len(replicas)))
	for _, r := range replicas {
		buf = binary.AppendUvarint(buf, r)
		buf = binary.AppendUvarint(buf, sv[r])
	}
	return buf
}

// DecodeStateVector parses v1 state vector bytes.
func DecodeStateVector(data []byte) (StateVector, error) {
	r := bytes.NewReader(data)
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, ErrMalformedStateVector
	}
	if count > uint64(len(data)) {
		return nil, ErrMalformedStateVector
	}
	sv := make(StateVector, count)
	for i := uint64(0); i < count; i++ {
		replica, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, ErrMalformedStateVector
		}
		seq, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, ErrMalformedStateVector
		}
		sv[replica] = seq
	}
	if r.Len() != 0 {
		return nil, ErrMalformedStateVector
	}
	return sv, nil
}

// EncodeOps serializes an operation list as a v1 update blob.
func EncodeOps(ops []Op) []byte {
	buf := binary.AppendUvarint(nil, uint64(len(ops)))
	for _, op := range ops {
		buf = binary.AppendUvarint(buf, op.ID.Replica)
		buf = binary.AppendUvarint(buf, op.ID.Seq)
		buf = binary.AppendUvarint(buf, op.Lamport)
		var flags byte
		if op.Deleted {
			flags |= opFlagDeleted
		}
		buf = append(buf, flags)
		buf = appendString(buf, op.Map)
		buf = appendString(buf, op.Key)
		if !op.Deleted {
			buf = appendString(buf, op.Value)
		}
	}
	return buf
}

// DecodeOps parses a v1 update blob.
func DecodeOps(data []byte) ([]Op, error) {
	r := bytes.NewReader(data)
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, ErrMalformedUpdate
	}
	if count > uint64(len(data)) {
		return nil, ErrMalformedUpdate
	}
	ops := make([]Op, 0, count)
	for i := uint64(0); i < count; i++ {
		var op Op
		if op.ID.Replica, err = binary.ReadUvarint(r); err != nil {
			return nil, ErrMalformedUpdate
		}
		if op.ID.Seq, err = binary.ReadUvarint(r); err != nil {
			return nil, ErrMalformedUpdate
		}
		if op.Lamport, err = binary.ReadUvarint(r); err != nil {
			return nil, ErrMalformedUpdate
		}
		flags, err := r.ReadByte()
		if err != nil {
			return nil, ErrMalformedUpdate
		}
		op.Deleted = flags&opFlagDeleted != 0
		if op.Map, err = readString(r); err != nil {
			return nil, ErrMalformedUpdate
		}
		if op.Key, err = readString(r); err != nil {
			return nil, ErrMalformedUpdate
		}
		if !op.Deleted {
			if op.Value, err = readString(r); err != nil {
				return nil, ErrMalformedUpdate
			}
		}
		if op.ID.Seq == 0 {
			return nil, ErrMalformedUpdate
		}
		ops = append(ops, op)
	}
	if r.Len() != 0 {
		return nil, ErrMalformedUpdate
	}
	return ops, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	if n > math.MaxInt32 || n > uint64(r.Len()) {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
