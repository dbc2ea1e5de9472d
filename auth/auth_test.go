package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openboard/openboard/db"
	"github.com/openboard/openboard/db/kv"
)

func setupOracle(t *testing.T) (*Oracle, *kv.Store) {
	t.Helper()
	store, err := kv.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return NewOracle(&Config{Secret: "test-secret", Database: store}), store
}

func TestIssueAndVerifyBearer(t *testing.T) {
	oracle, _ := setupOracle(t)
	userID := uuid.New()

	token, err := oracle.IssueToken(userID, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	principal, err := oracle.VerifyBearer(token)
	require.NoError(t, err)
	assert.Equal(t, userID, principal.ID)
	assert.Equal(t, "alice", principal.Name)
	assert.False(t, principal.Guest)
}

func TestVerifyBearerRejects(t *testing.T) {
	oracle, _ := setupOracle(t)
	other := NewOracle(&Config{Secret: "other-secret"})

	userID := uuid.New()
	wrongSecret, err := other.IssueToken(userID, "mallory")
	require.NoError(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Username: "late",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	expiredSigned, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	badSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Username: "nosub",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "not-a-uuid",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	badSubjectSigned, err := badSubject.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":      "not.a.token",
		"wrong secret": wrongSecret,
		"expired":      expiredSigned,
		"bad subject":  badSubjectSigned,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := oracle.VerifyBearer(token)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestResolveShare(t *testing.T) {
	oracle, store := setupOracle(t)
	ctx := context.Background()
	boardID := uuid.New()

	require.NoError(t, store.SaveShareLink(ctx, &db.ShareLink{
		ID:      uuid.New(),
		BoardID: boardID,
		Token:   "share-me",
		Role:    RoleViewer,
	}))

	p1, role, err := oracle.ResolveShare(ctx, "share-me", boardID)
	require.NoError(t, err)
	assert.Equal(t, GuestName, p1.Name)
	assert.True(t, p1.Guest)
	assert.Equal(t, RoleViewer, role)

	// Each resolution mints a fresh guest id.
	p2, _, err := oracle.ResolveShare(ctx, "share-me", boardID)
	require.NoError(t, err)
	assert.NotEqual(t, p1.ID, p2.ID)

	_, _, err = oracle.ResolveShare(ctx, "share-me", uuid.New())
	assert.ErrorIs(t, err, ErrUnauthorized, "token bound to another board")

	_, _, err = oracle.ResolveShare(ctx, "unknown", boardID)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestResolveShareExpired(t *testing.T) {
	oracle, store := setupOracle(t)
	ctx := context.Background()
	boardID := uuid.New()
	past := time.Now().UTC().Add(-time.Minute)

	require.NoError(t, store.SaveShareLink(ctx, &db.ShareLink{
		ID:        uuid.New(),
		BoardID:   boardID,
		Token:     "stale",
		Role:      RoleEditor,
		ExpiresAt: &past,
	}))

	_, _, err := oracle.ResolveShare(ctx, "stale", boardID)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRoleFor(t *testing.T) {
	oracle, store := setupOracle(t)
	ctx := context.Background()
	owner := uuid.New()
	editor := uuid.New()
	stranger := uuid.New()

	board := &db.Board{ID: uuid.New(), Name: "b", OwnerID: owner}
	require.NoError(t, store.SaveBoard(ctx, board))
	require.NoError(t, store.SetCollaborator(ctx, board.ID, editor, RoleEditor))

	for user, want := range map[uuid.UUID]string{
		owner:    RoleOwner,
		editor:   RoleEditor,
		stranger: "",
	} {
		role, err := oracle.RoleFor(ctx, board.ID, user)
		require.NoError(t, err)
		assert.Equal(t, want, role)
	}
}
