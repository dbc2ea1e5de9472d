package crdt

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func elements(d *Doc) map[string]string {
	var out map[string]string
	d.View(func(tx ReadTx) {
		out = tx.MapEntries("elements")
	})
	return out
}

func exchange(a, b *Doc) {
	var fromA, fromB []byte
	a.View(func(tx ReadTx) { fromA = tx.EncodeStateAsUpdate() })
	b.View(func(tx ReadTx) { fromB = tx.EncodeStateAsUpdate() })
	a.Update(func(tx WriteTx) { _ = tx.ApplyUpdate(fromB) })
	b.Update(func(tx WriteTx) { _ = tx.ApplyUpdate(fromA) })
}

func TestMapSetGet(t *testing.T) {
	d := NewDoc()
	d.Update(func(tx WriteTx) {
		tx.MapSet("elements", "el1", `{"kind":"rect"}`)
		tx.MapSet("elements", "el2", `{"kind":"text"}`)
	})
	d.View(func(tx ReadTx) {
		v, ok := tx.MapGet("elements", "el1")
		require.True(t, ok)
		assert.Equal(t, `{"kind":"rect"}`, v)
		assert.Equal(t, 2, tx.MapLen("elements"))
	})
}

func TestMapDeleteTombstones(t *testing.T) {
	a := newDocWithReplica(1)
	b := newDocWithReplica(2)

	a.Update(func(tx WriteTx) { tx.MapSet("elements", "x", "1") })
	exchange(a, b)
	require.Equal(t, map[string]string{"x": "1"}, elements(b))

	b.Update(func(tx WriteTx) { tx.MapDelete("elements", "x") })
	exchange(a, b)

	assert.Empty(t, elements(a))
	assert.Empty(t, elements(b))
}

func TestLastWriteWins(t *testing.T) {
	a := newDocWithReplica(1)
	b := newDocWithReplica(2)

	// Concurrent writes to the same key; both replicas must agree on one
	// winner after exchanging updates, whichever direction applies first.
	a.Update(func(tx WriteTx) { tx.MapSet("elements", "k", "from-a") })
	b.Update(func(tx WriteTx) { tx.MapSet("elements", "k", "from-b") })
	exchange(a, b)

	assert.Equal(t, elements(a), elements(b))
	// Equal lamport clocks: the higher replica id wins.
	assert.Equal(t, map[string]string{"k": "from-b"}, elements(a))
}

func TestIdempotentApply(t *testing.T) {
	a := newDocWithReplica(1)
	b := newDocWithReplica(2)
	a.Update(func(tx WriteTx) {
		tx.MapSet("elements", "k1", "v1")
		tx.MapSet("elements", "k2", "v2")
	})

	var update []byte
	a.View(func(tx ReadTx) { update = tx.EncodeStateAsUpdate() })

	for i := 0; i < 3; i++ {
		b.Update(func(tx WriteTx) { require.NoError(t, tx.ApplyUpdate(update)) })
	}

	assert.Equal(t, elements(a), elements(b))
	var sv StateVector
	b.View(func(tx ReadTx) { sv = tx.StateVector() })
	assert.Equal(t, StateVector{1: 2}, sv)
}

func TestDiffSince(t *testing.T) {
	a := newDocWithReplica(1)
	b := newDocWithReplica(2)

	a.Update(func(tx WriteTx) { tx.MapSet("elements", "k1", "v1") })
	exchange(a, b)
	a.Update(func(tx WriteTx) { tx.MapSet("elements", "k2", "v2") })

	var remote StateVector
	b.View(func(tx ReadTx) { remote = tx.StateVector() })

	var diff []Op
	a.View(func(tx ReadTx) { diff = tx.DiffSince(remote) })
	require.Len(t, diff, 1)
	assert.Equal(t, "k2", diff[0].Key)
}

func TestPendingGapFill(t *testing.T) {
	a := newDocWithReplica(1)
	b := newDocWithReplica(2)

	var ops []Op
	a.Update(func(tx WriteTx) {
		tx.MapSet("elements", "k1", "v1")
		tx.MapSet("elements", "k2", "v2")
		tx.MapSet("elements", "k3", "v3")
	})
	a.View(func(tx ReadTx) { ops = tx.DiffSince(nil) })
	require.Len(t, ops, 3)

	// Deliver only the last op: it must be parked, not integrated.
	b.Update(func(tx WriteTx) { tx.ApplyOps(ops[2:]) })
	var sv StateVector
	b.View(func(tx ReadTx) { sv = tx.StateVector() })
	assert.Empty(t, sv)
	assert.Empty(t, elements(b))

	// Filling the gap integrates the parked op as well.
	b.Update(func(tx WriteTx) { tx.ApplyOps(ops[:2]) })
	b.View(func(tx ReadTx) { sv = tx.StateVector() })
	assert.Equal(t, StateVector{1: 3}, sv)
	assert.Equal(t, elements(a), elements(b))
}

func TestSnapshotRoundTrip(t *testing.T) {
	a := NewDoc()
	a.Update(func(tx WriteTx) {
		tx.MapSet("elements", "k1", "v1")
		tx.MapSet("elements", "k2", "v2")
		tx.MapDelete("elements", "k1")
		tx.MapSet("cursors", "u1", "{}")
	})

	var snap []byte
	a.View(func(tx ReadTx) { snap = tx.EncodeStateAsUpdate() })

	b := NewDoc()
	b.Update(func(tx WriteTx) { require.NoError(t, tx.ApplyUpdate(snap)) })

	assert.Equal(t, elements(a), elements(b))
	b.View(func(tx ReadTx) {
		assert.Equal(t, map[string]string{"u1": "{}"}, tx.MapEntries("cursors"))
	})
}

// Convergence under arbitrary interleavings: both replicas edit concurrently,
// updates are delivered in random order (and duplicated), and the final maps
// must match exactly.
func TestConvergenceRandomInterleavings(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		a := newDocWithReplica(1)
		b := newDocWithReplica(2)

		var updatesFromA, updatesFromB [][]byte
		record := func(d *Doc, store *[][]byte, mutate func(tx WriteTx)) {
			var before StateVector
			d.View(func(tx ReadTx) { before = tx.StateVector() })
			d.Update(mutate)
			var blob []byte
			d.View(func(tx ReadTx) { blob = tx.EncodeDiff(before) })
			*store = append(*store, blob)
		}

		for i := 0; i < 20; i++ {
			key := fmt.Sprintf("el%d", rng.Intn(6))
			val := fmt.Sprintf("v%d", rng.Intn(100))
			del := rng.Intn(4) == 0
			mutate := func(tx WriteTx) {
				if del {
					tx.MapDelete("elements", key)
				} else {
					tx.MapSet("elements", key, val)
				}
			}
			if rng.Intn(2) == 0 {
				record(a, &updatesFromA, mutate)
			} else {
				record(b, &updatesFromB, mutate)
			}
		}

		apply := func(d *Doc, updates [][]byte) {
			shuffled := make([][]byte, len(updates))
			copy(shuffled, updates)
			rng.Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})
			for _, u := range shuffled {
				d.Update(func(tx WriteTx) { require.NoError(t, tx.ApplyUpdate(u)) })
				if rng.Intn(3) == 0 { // duplicate delivery
					d.Update(func(tx WriteTx) { require.NoError(t, tx.ApplyUpdate(u)) })
				}
			}
		}
		apply(a, updatesFromB)
		apply(b, updatesFromA)

		require.Equal(t, elements(a), elements(b), "trial %d diverged", trial)
	}
}
