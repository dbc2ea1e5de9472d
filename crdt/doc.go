// Package crdt implements the convergent document underlying a board room.
//
// A Doc is a keyed last-write-wins map CRDT. Every replica stamps its
// operations with a contiguous per-replica sequence number and a lamport
// clock; merges are commutative, associative and idempotent, so any two
// replicas that have exchanged their operation sets hold equal maps.
package crdt

import (
	crand "crypto/rand"
	"encoding/binary"
	"sort"
	"sync"
)

// ID identifies a single operation: the replica that created it and its
// position in that replica's operation log. Sequence numbers start at 1.
type ID struct {
	Replica uint64
	Seq     uint64
}

// Op is one map mutation. Value is ignored when Deleted is set.
type Op struct {
	ID      ID
	Lamport uint64
	Map     string
	Key     string
	Deleted bool
	Value   string
}

// StateVector summarizes a replica's integrated operations: for each known
// replica, the highest sequence number integrated without gaps.
type StateVector map[uint64]uint64

// Clone returns a copy of the state vector.
func (sv StateVector) Clone() StateVector {
	out := make(StateVector, len(sv))
	for r, s := range sv {
		out[r] = s
	}
	return out
}

type entry struct {
	lamport uint64
	replica uint64
	deleted bool
	value   string
}

// loses reports whether the entry is beaten by op under the last-write-wins
// order: higher lamport clock wins, replica id breaks ties.
func (e entry) loses(op Op) bool {
	if op.Lamport != e.lamport {
		return op.Lamport > e.lamport
	}
	return op.ID.Replica > e.replica
}

// Doc is a concurrent-safe CRDT document. All access goes through the scoped
// View and Update transactions; there is no raw field access.
type Doc struct {
	mu      sync.RWMutex
	replica uint64
	clock   uint64
	logs    map[uint64][]Op
	// Remote ops that arrived with a sequence gap. They are integrated once
	// the missing ops show up (typically via a sync step 2 exchange).
	pending map[uint64][]Op
	maps    map[string]map[string]entry
}

// NewDoc creates an empty document with a random replica id.
func NewDoc() *Doc {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		panic("crdt: cannot read entropy for replica id: " + err.Error())
	}
	return newDocWithReplica(binary.LittleEndian.Uint64(b[:]))
}

func newDocWithReplica(replica uint64) *Doc {
	return &Doc{
		replica: replica,
		logs:    make(map[uint64][]Op),
		pending: make(map[uint64][]Op),
		maps:    make(map[string]map[string]entry),
	}
}

// ReplicaID returns the document's own replica id.
func (d *Doc) ReplicaID() uint64 {
	return d.replica
}

// ReadTx is a read transaction over a Doc. It is only valid inside the
// closure passed to View or Update.
type ReadTx struct {
	doc *Doc
}

// WriteTx extends ReadTx with mutating operations. Only valid inside Update.
type WriteTx struct {
	ReadTx
}

// View runs fn inside a shared read transaction.
func (d *Doc) View(fn func(tx ReadTx)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn(ReadTx{doc: d})
}

// Update runs fn inside an exclusive write transaction.
func (d *Doc) Update(fn func(tx WriteTx)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(WriteTx{ReadTx{doc: d}})
}

// StateVector returns the transaction's view of integrated operations.
func (tx ReadTx) StateVector() StateVector {
	sv := make(StateVector, len(tx.doc.logs))
	for r, ops := range tx.doc.logs {
		if len(ops) > 0 {
			sv[r] = uint64(len(ops))
		}
	}
	return sv
}

// EncodeStateVector serializes the state vector in the v1 binary format.
func (tx ReadTx) EncodeStateVector() []byte {
	return EncodeStateVector(tx.StateVector())
}

// DiffSince collects every integrated operation not covered by the remote
// state vector, in per-replica sequence order.
func (tx ReadTx) DiffSince(remote StateVector) []Op {
	replicas := make([]uint64, 0, len(tx.doc.logs))
	for r := range tx.doc.logs {
		replicas = append(replicas, r)
	}
	sort.Slice(replicas, func(i, j int) bool { return replicas[i] < replicas[j] })

	var diff []Op
	for _, r := range replicas {
		ops := tx.doc.logs[r]
		from := remote[r]
		if from < uint64(len(ops)) {
			diff = append(diff, ops[from:]...)
		}
	}
	return diff
}

// EncodeDiff serializes DiffSince(remote) as an update blob.
func (tx ReadTx) EncodeDiff(remote StateVector) []byte {
	return EncodeOps(tx.DiffSince(remote))
}

// EncodeStateAsUpdate serializes the whole document as one update blob.
// Applying it to an empty document reproduces an equivalent state.
func (tx ReadTx) EncodeStateAsUpdate() []byte {
	return tx.EncodeDiff(nil)
}

// MapGet returns the live value stored under key in the named map.
func (tx ReadTx) MapGet(name, key string) (string, bool) {
	m, ok := tx.doc.maps[name]
	if !ok {
		return "", false
	}
	e, ok := m[key]
	if !ok || e.deleted {
		return "", false
	}
	return e.value, true
}

// MapEntries returns all live key/value pairs of the named map.
func (tx ReadTx) MapEntries(name string) map[string]string {
	out := make(map[string]string)
	for key, e := range tx.doc.maps[name] {
		if !e.deleted {
			out[key] = e.value
		}
	}
	return out
}

// MapLen returns the number of live entries in the named map.
func (tx ReadTx) MapLen(name string) int {
	n := 0
	for _, e := range tx.doc.maps[name] {
		if !e.deleted {
			n++
		}
	}
	return n
}

// MapSet writes key=value into the named map as a new local operation.
func (tx WriteTx) MapSet(name, key, value string) {
	tx.doc.localOp(Op{Map: name, Key: key, Value: value})
}

// MapDelete removes key from the named map. The removal is recorded as a
// tombstone so it survives merges with concurrent writes.
func (tx WriteTx) MapDelete(name, key string) {
	tx.doc.localOp(Op{Map: name, Key: key, Deleted: true})
}

// ApplyUpdate decodes an update blob and integrates its operations.
func (tx WriteTx) ApplyUpdate(update []byte) error {
	ops, err := DecodeOps(update)
	if err != nil {
		return err
	}
	tx.ApplyOps(ops)
	return nil
}

// ApplyOps integrates already-decoded remote operations.
func (tx WriteTx) ApplyOps(ops []Op) {
	for _, op := range ops {
		tx.doc.integrate(op)
	}
}

func (d *Doc) localOp(op Op) {
	d.clock++
	op.ID = ID{Replica: d.replica, Seq: uint64(len(d.logs[d.replica])) + 1}
	op.Lamport = d.clock
	d.logs[d.replica] = append(d.logs[d.replica], op)
	d.merge(op)
}

// integrate adds a remote op to the log if it is the next expected sequence
// number for its replica; earlier seqs are duplicates and dropped, later
// seqs are parked until the gap fills.
func (d *Doc) integrate(op Op) {
	next := uint64(len(d.logs[op.ID.Replica])) + 1
	switch {
	case op.ID.Seq < next:
		return
	case op.ID.Seq > next:
		d.park(op)
		return
	}
	d.admit(op)
	d.drainPending(op.ID.Replica)
}

func (d *Doc) admit(op Op) {
	d.logs[op.ID.Replica] = append(d.logs[op.ID.Replica], op)
	if op.Lamport > d.clock {
		d.clock = op.Lamport
	}
	d.merge(op)
}

func (d *Doc) merge(op Op) {
	m, ok := d.maps[op.Map]
	if !ok {
		m = make(map[string]entry)
		d.maps[op.Map] = m
	}
	cur, ok := m[op.Key]
	if !ok || cur.loses(op) {
		m[op.Key] = entry{
			lamport: op.Lamport,
			replica: op.ID.Replica,
			deleted: op.Deleted,
			value:   op.Value,
		}
	}
}

func (d *Doc) park(op Op) {
	buf := d.pending[op.ID.Replica]
	for _, p := range buf {
		if p.ID.Seq == op.ID.Seq {
			return
		}
	}
	buf = append(buf, op)
	sort.Slice(buf, func(i, j int) bool { return buf[i].ID.Seq < buf[j].ID.Seq })
	d.pending[op.ID.Replica] = buf
}

func (d *Doc) drainPending(replica uint64) {
	buf := d.pending[replica]
	for len(buf) > 0 {
		next := uint64(len(d.logs[replica])) + 1
		if buf[0].ID.Seq < next {
			buf = buf[1:]
			continue
		}
		if buf[0].ID.Seq > next {
			break
		}
		d.admit(buf[0])
		buf = buf[1:]
	}
	if len(buf) == 0 {
		delete(d.pending, replica)
	} else {
		d.pending[replica] = buf
	}
}
