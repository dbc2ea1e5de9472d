// Package auth is the access oracle of the server: it validates bearer
// tokens, resolves share tokens to guest principals, and answers role
// queries for the HTTP surface.
package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/openboard/openboard/db"
)

var log = logrus.WithField("prefix", "auth")

// ErrUnauthorized is returned for any failed verification: bad signature,
// expired token, unknown or mismatched share token.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Roles a principal can hold on a board.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

const tokenLifetime = 24 * time.Hour

// GuestName is the display name assigned to share-token principals.
const GuestName = "Guest"

// Principal is the identity bound to one connection: either the subject of
// a verified bearer token or an ephemeral guest minted from a share token.
type Principal struct {
	ID    uuid.UUID
	Name  string
	Guest bool
}

// Claims is the bearer token payload.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Oracle verifies credentials against the configured secret and the share
// link store. Share-token lookups are cached briefly; expiry is still
// evaluated on every resolution.
type Oracle struct {
	secret     []byte
	links      db.ShareLinkStore
	boards     db.BoardStore
	collabs    db.CollaboratorStore
	shareCache *gocache.Cache
}

// Config options for the oracle.
type Config struct {
	Secret   string
	Database db.Database
}

// NewOracle creates an oracle from its configuration.
func NewOracle(cfg *Config) *Oracle {
	return &Oracle{
		secret:     []byte(cfg.Secret),
		links:      cfg.Database,
		boards:     cfg.Database,
		collabs:    cfg.Database,
		shareCache: gocache.New(30*time.Second, time.Minute),
	}
}

// IssueToken mints a signed bearer token for the user. Used by the HTTP
// surface and by tests; socket connections only ever verify.
func (o *Oracle) IssueToken(userID uuid.UUID, username string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(o.secret)
	if err != nil {
		return "", errors.Wrap(err, "could not sign token")
	}
	return signed, nil
}

// VerifyBearer validates the token's signature and expiry and returns its
// subject as a principal.
func (o *Oracle) VerifyBearer(tokenString string) (*Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return o.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrUnauthorized
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrUnauthorized
	}
	return &Principal{ID: userID, Name: claims.Username}, nil
}

// ResolveShare validates the share token against the requested board and
// mints a fresh guest principal. The returned role is the link's role.
func (o *Oracle) ResolveShare(ctx context.Context, token string, boardID uuid.UUID) (*Principal, string, error) {
	link, err := o.lookupShareLink(ctx, token)
	if err != nil {
		log.WithError(err).Warn("Share link lookup failed")
		return nil, "", ErrUnauthorized
	}
	if link == nil || link.BoardID != boardID || link.Expired(time.Now()) {
		return nil, "", ErrUnauthorized
	}
	return &Principal{ID: uuid.New(), Name: GuestName, Guest: true}, link.Role, nil
}

func (o *Oracle) lookupShareLink(ctx context.Context, token string) (*db.ShareLink, error) {
	if cached, ok := o.shareCache.Get(token); ok {
		return cached.(*db.ShareLink), nil
	}
	link, err := o.links.ShareLinkByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if link != nil {
		o.shareCache.SetDefault(token, link)
	}
	return link, nil
}

// ForgetShare drops a token from the resolution cache, e.g. after the link
// was deleted.
func (o *Oracle) ForgetShare(token string) {
	o.shareCache.Delete(token)
}

// RoleFor returns the principal's role on the board, or "" when the
// principal has no access. Owner beats any collaborator entry.
func (o *Oracle) RoleFor(ctx context.Context, boardID, userID uuid.UUID) (string, error) {
	board, err := o.boards.Board(ctx, boardID)
	if err != nil {
		return "", err
	}
	if board != nil && board.OwnerID == userID {
		return RoleOwner, nil
	}
	return o.collabs.CollaboratorRole(ctx, boardID, userID)
}
