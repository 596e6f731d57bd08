package core

import (
	"context"
	"sync"
	"testing"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/server/dispatch"
	"github.com/gear6io/oxygen/server/protocol/kbin"
	"github.com/gear6io/oxygen/server/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testCard = "e004010000000001"
	testPIN  = "1234"
	sdvx5    = "KFC:J:A:A:2019020600"
	sdvx6    = "KFC:J:A:A:2021042800"
)

func cardmng(m string, attrs ...string) *kbin.Node {
	n := method("cardmng", m)
	for i := 0; i+1 < len(attrs); i += 2 {
		n.SetAttr(attrs[i], attrs[i+1])
	}
	return n
}

func TestCardLifecycle(t *testing.T) {
	f := newFixture()

	body := f.mustCall(t, sdvx5, cardmng("inquire", "cardid", testCard, "cardtype", "1", "update", "1"))
	assert.Equal(t, dispatch.Status(dispatch.StatusNotRegistered), body.Attr("status"))

	body = f.mustCall(t, sdvx5, cardmng("getrefid", "cardid", testCard, "passwd", testPIN))
	refID := body.Attr("refid")
	assert.Len(t, refID, 16)
	assert.Equal(t, refID, body.Attr("dataid"))

	body = f.mustCall(t, sdvx5, cardmng("inquire", "cardid", testCard))
	assert.Equal(t, refID, body.Attr("refid"))
	assert.Equal(t, "0", body.Attr("binded"))
	assert.Equal(t, "0", body.Attr("expired"))
	assert.Equal(t, "1", body.Attr("newflag"))
	assert.Equal(t, "1", body.Attr("ecflag"))

	body = f.mustCall(t, sdvx5, cardmng("authpass", "refid", refID, "pass", testPIN))
	assert.Equal(t, dispatch.Status(dispatch.StatusSuccess), body.Attr("status"))

	body = f.mustCall(t, sdvx5, cardmng("authpass", "refid", refID, "pass", "9999"))
	assert.Equal(t, dispatch.Status(dispatch.StatusInvalidPIN), body.Attr("status"))

	body = f.mustCall(t, sdvx5, cardmng("bindmodel", "refid", refID))
	assert.Equal(t, refID, body.Attr("dataid"))

	body = f.mustCall(t, sdvx5, cardmng("inquire", "cardid", testCard))
	assert.Equal(t, "1", body.Attr("binded"))
	assert.Equal(t, "0", body.Attr("expired"))
}

func TestCardInquireOlderVersion(t *testing.T) {
	f := newFixture()

	body := f.mustCall(t, sdvx5, cardmng("getrefid", "cardid", testCard, "passwd", testPIN))
	f.mustCall(t, sdvx5, cardmng("bindmodel", "refid", body.Attr("refid")))

	// the new version has not seen the card yet but knows the old model
	body = f.mustCall(t, sdvx6, cardmng("inquire", "cardid", testCard, "model", sdvx5))
	assert.Equal(t, "1", body.Attr("binded"))
	assert.Equal(t, "1", body.Attr("expired"))
	newRef := body.Attr("refid")

	// refids are per version
	old := f.mustCall(t, sdvx5, cardmng("inquire", "cardid", testCard))
	assert.NotEqual(t, old.Attr("refid"), newRef)

	body = f.mustCall(t, sdvx6, cardmng("inquire", "cardid", testCard))
	assert.Equal(t, "0", body.Attr("binded"))
	assert.Equal(t, "0", body.Attr("expired"))
	assert.Equal(t, newRef, body.Attr("refid"))
}

func TestCardGetRefIDRefusals(t *testing.T) {
	f := newFixture()
	f.mustCall(t, sdvx5, cardmng("getrefid", "cardid", testCard, "passwd", testPIN))

	tests := []struct {
		name   string
		cardID string
		pin    string
	}{
		{"card already registered", testCard, testPIN},
		{"short card id", "e0040100", testPIN},
		{"non hex card id", "z004010000000001", testPIN},
		{"short pin", "e004010000000002", "12"},
		{"letters in pin", "e004010000000003", "12a4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := f.mustCall(t, sdvx5, cardmng("getrefid", "cardid", tt.cardID, "passwd", tt.pin))
			assert.Equal(t, dispatch.Status(dispatch.StatusNotAllowed), body.Attr("status"))
			assert.Empty(t, body.Attr("refid"))
		})
	}
}

func TestCardRefIDIsScopedToGame(t *testing.T) {
	f := newFixture()
	body := f.mustCall(t, sdvx5, cardmng("getrefid", "cardid", testCard, "passwd", testPIN))
	refID := body.Attr("refid")

	body = f.mustCall(t, ldj, cardmng("authpass", "refid", refID, "pass", testPIN))
	assert.Equal(t, dispatch.Status(dispatch.StatusInvalidPIN), body.Attr("status"))

	body = f.mustCall(t, ldj, cardmng("bindmodel", "refid", refID))
	assert.Equal(t, dispatch.Status(dispatch.StatusNotAllowed), body.Attr("status"))

	body = f.mustCall(t, sdvx5, cardmng("authpass", "refid", "0000000000000000", "pass", testPIN))
	assert.Equal(t, dispatch.Status(dispatch.StatusInvalidPIN), body.Attr("status"))
}

func TestCardStubs(t *testing.T) {
	f := newFixture()
	body := f.mustCall(t, sdvx5, cardmng("getkeepspan"))
	assert.Equal(t, "30", body.Attr("keepspan"))

	body = f.mustCall(t, sdvx5, cardmng("getdatalist"))
	assert.Equal(t, "cardmng", body.Name)
	assert.Empty(t, body.Attrs)
}

func TestAccounts(t *testing.T) {
	ctx := context.Background()
	a := NewAccounts(store.NewMemory())

	user, err := a.CreateAccount(ctx, testCard, testPIN)
	require.NoError(t, err)
	assert.NotEqual(t, testPIN, user.PINHash)
	assert.Len(t, user.PINHash, 64)

	got, err := a.UserForCard(ctx, "E004010000000001")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	ok, err := a.ValidatePIN(ctx, user.ID, testPIN)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = a.ValidatePIN(ctx, user.ID, "4321")
	require.NoError(t, err)
	assert.False(t, ok)

	first, err := a.RefIDFor(ctx, "KFC", 1, user.ID)
	require.NoError(t, err)
	again, err := a.RefIDFor(ctx, "KFC", 1, user.ID)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	userID, err := a.UserForRefID(ctx, "KFC", 1, first)
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)

	_, err = a.UserForRefID(ctx, "KFC", 2, first)
	assert.True(t, errors.HasCode(err, ErrUnknownRefID))

	_, err = a.UserForCard(ctx, "e004010000000009")
	assert.True(t, store.IsNotFound(err))
}

func TestConcurrentAccountCreation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	const racers = 8
	var wg sync.WaitGroup
	users := make(chan User, racers)
	taken := make(chan error, racers)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			user, err := NewAccounts(st).CreateAccount(ctx, testCard, testPIN)
			if err != nil {
				taken <- err
				return
			}
			users <- user
		}()
	}
	close(start)
	wg.Wait()
	close(users)
	close(taken)

	require.Len(t, users, 1)
	winner := <-users
	for err := range taken {
		assert.True(t, errors.HasCode(err, ErrCardTaken), "%v", err)
	}

	owner, err := NewAccounts(st).UserForCard(ctx, testCard)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, owner.ID)
}

func TestConcurrentRefIDCreation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	const racers = 8
	var wg sync.WaitGroup
	refs := make(chan string, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref, err := NewAccounts(st).RefIDFor(ctx, "KFC", 6, "user-1")
			assert.NoError(t, err)
			refs <- ref
		}()
	}
	wg.Wait()
	close(refs)

	first := <-refs
	for ref := range refs {
		assert.Equal(t, first, ref)
	}
}
