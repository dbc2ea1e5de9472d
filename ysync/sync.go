// Package ysync implements the two-step sync protocol spoken over board
// sockets, patterned after the Yjs sync protocol: a joining side announces
// its state vector (step 1), the other side answers with the missing
// operations (step 2), and subsequent local edits travel as unsolicited
// update messages.
//
// Every frame is a leading varint message tag followed by a varint sub-step
// and a varint-length-prefixed payload.
package ysync

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/openboard/openboard/crdt"
)

// Message tags.
const (
	MessageSync      = 0
	MessageAwareness = 1
)

// Sync sub-steps.
const (
	SyncStep1  = 0
	SyncStep2  = 1
	SyncUpdate = 2
)

var (
	// ErrMalformedStateVector is returned when a step 1 payload cannot be
	// decoded.
	ErrMalformedStateVector = errors.New("ysync: malformed state vector")
	// ErrMalformedUpdate is returned when a step 2 or update payload cannot
	// be decoded or merged.
	ErrMalformedUpdate = errors.New("ysync: malformed update")
)

// EncodeStep1 builds a sync step 1 frame carrying the document's state
// vector: "tell me what I'm missing relative to this".
func EncodeStep1(doc *crdt.Doc) []byte {
	var sv []byte
	doc.View(func(tx crdt.ReadTx) {
		sv = tx.EncodeStateVector()
	})
	return frame(SyncStep1, sv)
}

// EncodeStep2 builds a sync step 2 frame carrying everything the remote
// state vector is missing.
func EncodeStep2(doc *crdt.Doc, remoteSV []byte) ([]byte, error) {
	sv, err := crdt.DecodeStateVector(remoteSV)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedStateVector, err.Error())
	}
	var diff []byte
	doc.View(func(tx crdt.ReadTx) {
		diff = tx.EncodeDiff(sv)
	})
	return frame(SyncStep2, diff), nil
}

// EncodeUpdate wraps raw update bytes in a sync update frame.
func EncodeUpdate(update []byte) []byte {
	return frame(SyncUpdate, update)
}

// Apply merges an update blob into the document.
func Apply(doc *crdt.Doc, update []byte) error {
	var applyErr error
	doc.Update(func(tx crdt.WriteTx) {
		applyErr = tx.ApplyUpdate(update)
	})
	if applyErr != nil {
		return errors.Wrap(ErrMalformedUpdate, applyErr.Error())
	}
	return nil
}

// Handle dispatches an incoming binary frame against the document and
// returns the response frame, if the protocol calls for one. Unknown tags,
// unknown sub-steps and empty frames are tolerated and yield (nil, nil);
// only payloads that fail to decode report an error.
func Handle(doc *crdt.Doc, msg []byte) ([]byte, error) {
	if len(msg) == 0 {
		return nil, nil
	}
	r := bytes.NewReader(msg)
	tag, err := binary.ReadUvarint(r)
	if err != nil || tag != MessageSync {
		return nil, nil
	}
	step, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, nil
	}
	switch step {
	case SyncStep1:
		sv, err := readPayload(r)
		if err != nil {
			return nil, errors.Wrap(ErrMalformedStateVector, err.Error())
		}
		return EncodeStep2(doc, sv)
	case SyncStep2, SyncUpdate:
		update, err := readPayload(r)
		if err != nil {
			return nil, errors.Wrap(ErrMalformedUpdate, err.Error())
		}
		return nil, Apply(doc, update)
	default:
		return nil, nil
	}
}

// Snapshot encodes the whole document as a self-contained update blob
// suitable for durable storage.
func Snapshot(doc *crdt.Doc) []byte {
	var snap []byte
	doc.View(func(tx crdt.ReadTx) {
		snap = tx.EncodeStateAsUpdate()
	})
	return snap
}

// Load replays a stored snapshot into the document.
func Load(doc *crdt.Doc, snapshot []byte) error {
	return Apply(doc, snapshot)
}

func frame(step uint64, payload []byte) []byte {
	buf := binary.AppendUvarint(nil, MessageSync)
	buf = binary.AppendUvarint(buf, step)
	buf = binary.AppendUvarint(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func readPayload(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > math.MaxInt32 || n > uint64(r.Len()) {
		return nil, io.ErrUnexpectedEOF
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
