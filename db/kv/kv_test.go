package kv

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openboard/openboard/db"
)

func setupDB(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()
	boardID := uuid.New()

	got, err := store.Snapshot(ctx, boardID)
	require.NoError(t, err)
	assert.Nil(t, got)

	snap := []byte{0x01, 0x02, 0x03}
	require.NoError(t, store.SaveSnapshot(ctx, boardID, snap))
	got, err = store.Snapshot(ctx, boardID)
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	// Saves overwrite; the latest snapshot wins.
	snap2 := []byte{0xaa}
	require.NoError(t, store.SaveSnapshot(ctx, boardID, snap2))
	got, err = store.Snapshot(ctx, boardID)
	require.NoError(t, err)
	assert.Equal(t, snap2, got)
}

func TestSaveSnapshotBumpsUpdatedAt(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()

	board := &db.Board{
		ID:        uuid.New(),
		Name:      "roadmap",
		OwnerID:   uuid.New(),
		CreatedAt: time.Now().UTC().Add(-time.Hour),
		UpdatedAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, store.SaveBoard(ctx, board))
	require.NoError(t, store.SaveSnapshot(ctx, board.ID, []byte("snap")))

	stored, err := store.Board(ctx, board.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.UpdatedAt.After(board.UpdatedAt))
}

func TestBoardCRUD(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()
	owner := uuid.New()
	collaborator := uuid.New()
	stranger := uuid.New()

	board := &db.Board{ID: uuid.New(), Name: "b1", OwnerID: owner, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, store.SaveBoard(ctx, board))
	require.NoError(t, store.SetCollaborator(ctx, board.ID, collaborator, "editor"))

	got, err := store.Board(ctx, board.ID)
	require.NoError(t, err)
	assert.Equal(t, "b1", got.Name)

	for user, want := range map[uuid.UUID]int{owner: 1, collaborator: 1, stranger: 0} {
		boards, err := store.BoardsForUser(ctx, user)
		require.NoError(t, err)
		assert.Len(t, boards, want)
	}

	role, err := store.CollaboratorRole(ctx, board.ID, collaborator)
	require.NoError(t, err)
	assert.Equal(t, "editor", role)
	role, err = store.CollaboratorRole(ctx, board.ID, stranger)
	require.NoError(t, err)
	assert.Equal(t, "", role)

	require.NoError(t, store.DeleteBoard(ctx, board.ID))
	got, err = store.Board(ctx, board.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestShareLinks(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()
	boardID := uuid.New()

	link := &db.ShareLink{
		ID:        uuid.New(),
		BoardID:   boardID,
		Token:     "opaque-token",
		Role:      "viewer",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveShareLink(ctx, link))

	got, err := store.ShareLinkByToken(ctx, "opaque-token")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, link.ID, got.ID)
	assert.False(t, got.Expired(time.Now()))

	missing, err := store.ShareLinkByToken(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	links, err := store.ShareLinksForBoard(ctx, boardID)
	require.NoError(t, err)
	assert.Len(t, links, 1)

	require.NoError(t, store.DeleteShareLink(ctx, link.ID))
	got, err = store.ShareLinkByToken(ctx, "opaque-token")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestShareLinkExpiry(t *testing.T) {
	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)
	assert.True(t, (&db.ShareLink{ExpiresAt: &past}).Expired(time.Now()))
	assert.False(t, (&db.ShareLink{ExpiresAt: &future}).Expired(time.Now()))
	assert.False(t, (&db.ShareLink{}).Expired(time.Now()))

	// DeleteBoard sweeps the board's links.
	store := setupDB(t)
	ctx := context.Background()
	boardID := uuid.New()
	require.NoError(t, store.SaveShareLink(ctx, &db.ShareLink{ID: uuid.New(), BoardID: boardID, Token: "t1"}))
	require.NoError(t, store.DeleteBoard(ctx, boardID))
	links, err := store.ShareLinksForBoard(ctx, boardID)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestSaveShareLinkRejectsEmptyToken(t *testing.T) {
	store := setupDB(t)
	err := store.SaveShareLink(context.Background(), &db.ShareLink{ID: uuid.New()})
	assert.ErrorContains(t, err, "token")
}
