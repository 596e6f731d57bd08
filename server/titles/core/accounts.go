package core

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/server/store"
	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pinIterations = 10000
	pinKeySize    = 32
	pinSaltSize   = 16
)

// User is a player account. Cards point at users.
type User struct {
	ID        string    `json:"id"`
	PINHash   string    `json:"pin_hash"`
	PINSalt   string    `json:"pin_salt"`
	CreatedAt time.Time `json:"created_at"`
}

// Card binds a physical card ID to a user.
type Card struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

// RefID is the per-game handle a cabinet uses for a user.
type RefID struct {
	RefID   string `json:"refid"`
	UserID  string `json:"user_id"`
	Game    string `json:"game"`
	Version int64  `json:"version"`
}

// Binding marks that a user has a profile on a game version.
type Binding struct {
	UserID  string    `json:"user_id"`
	Game    string    `json:"game"`
	Version int64     `json:"version"`
	BoundAt time.Time `json:"bound_at"`
}

// Accounts manages users, cards and refids in the record store.
type Accounts struct {
	store store.Store
}

func NewAccounts(s store.Store) *Accounts {
	return &Accounts{store: s}
}

// NormalizeCardID upper-cases a 16 digit hex card ID.
func NormalizeCardID(cardID string) (string, error) {
	id := strings.ToUpper(strings.TrimSpace(cardID))
	if len(id) != 16 {
		return "", errors.New(ErrInvalidCard, "card id must be 16 hex digits", nil).AddContext("card_id", cardID)
	}
	if _, err := hex.DecodeString(id); err != nil {
		return "", errors.New(ErrInvalidCard, "card id must be 16 hex digits", err).AddContext("card_id", cardID)
	}
	return id, nil
}

func validPIN(pin string) bool {
	if len(pin) != 4 {
		return false
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func hashPIN(pin string, salt []byte) string {
	return hex.EncodeToString(pbkdf2.Key([]byte(pin), salt, pinIterations, pinKeySize, sha256.New))
}

// UserForCard returns the user owning the card, or a not found error.
func (a *Accounts) UserForCard(ctx context.Context, cardID string) (User, error) {
	id, err := NormalizeCardID(cardID)
	if err != nil {
		return User{}, err
	}
	card, err := store.Get[Card](ctx, a.store, store.KindCard, id)
	if err != nil {
		return User{}, err
	}
	return store.Get[User](ctx, a.store, store.KindUser, card.UserID)
}

// CreateAccount creates a user for a card that has none.
func (a *Accounts) CreateAccount(ctx context.Context, cardID, pin string) (User, error) {
	id, err := NormalizeCardID(cardID)
	if err != nil {
		return User{}, err
	}
	if !validPIN(pin) {
		return User{}, errors.New(ErrInvalidPIN, "pin must be 4 digits", nil)
	}

	_, err = store.Get[Card](ctx, a.store, store.KindCard, id)
	switch {
	case err == nil:
		return User{}, errors.New(ErrCardTaken, "card already has an account", nil).AddContext("card_id", id)
	case !store.IsNotFound(err):
		return User{}, err
	}

	salt := make([]byte, pinSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return User{}, errors.New(errors.CommonInternal, "failed to generate salt", err)
	}
	user := User{
		ID:        uuid.NewString(),
		PINHash:   hashPIN(pin, salt),
		PINSalt:   hex.EncodeToString(salt),
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Put(ctx, a.store, store.KindUser, user.ID, user); err != nil {
		return User{}, err
	}
	// the card claim is the conditional write; a loser leaves an
	// unreachable user behind
	err = store.Create(ctx, a.store, store.KindCard, id, Card{ID: id, UserID: user.ID})
	switch {
	case store.IsExists(err):
		return User{}, errors.New(ErrCardTaken, "card already has an account", nil).AddContext("card_id", id)
	case err != nil:
		return User{}, err
	}
	return user, nil
}

// ValidatePIN checks pin against the user's stored hash.
func (a *Accounts) ValidatePIN(ctx context.Context, userID, pin string) (bool, error) {
	user, err := store.Get[User](ctx, a.store, store.KindUser, userID)
	if err != nil {
		return false, err
	}
	salt, err := hex.DecodeString(user.PINSalt)
	if err != nil {
		return false, errors.New(store.ErrInvalidRecord, "corrupt pin salt", err).AddContext("user_id", userID)
	}
	got := hashPIN(pin, salt)
	return subtle.ConstantTimeCompare([]byte(got), []byte(user.PINHash)) == 1, nil
}

func refIDIndexKey(game string, version int64, userID string) string {
	return fmt.Sprintf("%s:%d:%s", game, version, userID)
}

func newRefID() string {
	id := uuid.New()
	return strings.ToUpper(hex.EncodeToString(id[:8]))
}

// RefIDFor returns the user's refid for a game version, creating it on
// first use.
func (a *Accounts) RefIDFor(ctx context.Context, game string, version int64, userID string) (string, error) {
	index := refIDIndexKey(game, version, userID)
	existing, err := store.Get[RefID](ctx, a.store, store.KindRefID, index)
	if err == nil {
		return existing.RefID, nil
	}
	if !store.IsNotFound(err) {
		return "", err
	}

	ref := RefID{RefID: newRefID(), UserID: userID, Game: game, Version: version}
	if err := store.Put(ctx, a.store, store.KindRefID, ref.RefID, ref); err != nil {
		return "", err
	}
	err = store.Create(ctx, a.store, store.KindRefID, index, ref)
	if store.IsExists(err) {
		existing, err = store.Get[RefID](ctx, a.store, store.KindRefID, index)
		if err != nil {
			return "", err
		}
		return existing.RefID, nil
	}
	if err != nil {
		return "", err
	}
	return ref.RefID, nil
}

// UserForRefID resolves a refid issued for the given game version.
func (a *Accounts) UserForRefID(ctx context.Context, game string, version int64, refID string) (string, error) {
	ref, err := store.Get[RefID](ctx, a.store, store.KindRefID, refID)
	if err != nil {
		if store.IsNotFound(err) {
			return "", errors.New(ErrUnknownRefID, "unknown refid", err).AddContext("refid", refID)
		}
		return "", err
	}
	if ref.Game != game || ref.Version != version {
		return "", errors.New(ErrUnknownRefID, "refid belongs to another game", nil).
			AddContext("refid", refID).
			AddContext("game", ref.Game)
	}
	return ref.UserID, nil
}

func profileKey(game string, version int64, userID string) string {
	return refIDIndexKey(game, version, userID)
}

// HasProfile reports whether the user is bound to a game version.
func (a *Accounts) HasProfile(ctx context.Context, game string, version int64, userID string) (bool, error) {
	_, err := a.store.ReadRecord(ctx, store.KindProfile, profileKey(game, version, userID))
	if err == nil {
		return true, nil
	}
	if store.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// BindProfile binds the user to a game version.
func (a *Accounts) BindProfile(ctx context.Context, game string, version int64, userID string) error {
	key := profileKey(game, version, userID)
	b := Binding{UserID: userID, Game: game, Version: version, BoundAt: time.Now().UTC()}
	return store.Put(ctx, a.store, store.KindProfile, key, b)
}
