package core

import (
	"context"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/server/dispatch"
	"github.com/gear6io/oxygen/server/protocol/kbin"
	"github.com/gear6io/oxygen/server/registry"
	"github.com/gear6io/oxygen/server/store"
)

// CardManager returns the cardmng routes. Titles include it in their own
// router when they need card management tied to their profiles.
func CardManager() *dispatch.Router {
	return dispatch.NewRouter("cardmng").
		RouteFunc("cardmng", "inquire", cardInquire).
		RouteFunc("cardmng", "authpass", cardAuthpass).
		RouteFunc("cardmng", "getrefid", cardGetRefID).
		RouteFunc("cardmng", "bindmodel", cardBindModel).
		RouteFunc("cardmng", "getkeepspan", cardGetKeepSpan).
		RouteFunc("cardmng", "getdatalist", cardGetDataList)
}

func cardStatus(status int) *kbin.Node {
	return kbin.NewVoid("cardmng").SetAttr("status", dispatch.Status(status))
}

func isAccountError(err error) bool {
	return store.IsNotFound(err) ||
		errors.HasCode(err, ErrInvalidCard) ||
		errors.HasCode(err, ErrInvalidPIN) ||
		errors.HasCode(err, ErrCardTaken) ||
		errors.HasCode(err, ErrUnknownRefID)
}

// cardInquire looks up the refid of a card. A card from an older version of
// the game reports the old binding and sets expired so the cabinet offers a
// profile migration.
func cardInquire(ctx context.Context, req *dispatch.Request) (*kbin.Node, error) {
	accounts := NewAccounts(req.Store)
	game, version := req.Model.Game, req.Model.Version

	user, err := accounts.UserForCard(ctx, req.Service.Attr("cardid"))
	if err != nil {
		if isAccountError(err) {
			return cardStatus(dispatch.StatusNotRegistered), nil
		}
		return nil, err
	}

	bound, err := accounts.HasProfile(ctx, game, version, user.ID)
	if err != nil {
		return nil, err
	}
	expired := false
	if !bound {
		if old, err := registry.ParseModel(req.Service.Attr("model")); err == nil {
			expired = true
			if bound, err = accounts.HasProfile(ctx, old.Game, old.Version, user.ID); err != nil {
				return nil, err
			}
		}
	}

	refID, err := accounts.RefIDFor(ctx, game, version, user.ID)
	if err != nil {
		return nil, err
	}
	return kbin.NewVoid("cardmng").
		SetAttr("refid", refID).
		SetAttr("dataid", refID).
		SetAttr("newflag", "1").
		SetAttr("binded", boolFlag(bound)).
		SetAttr("expired", boolFlag(expired)).
		SetAttr("ecflag", boolFlag(req.Paseli.Enabled)).
		SetAttr("useridflag", "1").
		SetAttr("extidflag", "1"), nil
}

func cardAuthpass(ctx context.Context, req *dispatch.Request) (*kbin.Node, error) {
	accounts := NewAccounts(req.Store)

	userID, err := accounts.UserForRefID(ctx, req.Model.Game, req.Model.Version, req.Service.Attr("refid"))
	if err != nil {
		if isAccountError(err) {
			return cardStatus(dispatch.StatusInvalidPIN), nil
		}
		return nil, err
	}
	valid, err := accounts.ValidatePIN(ctx, userID, req.Service.Attr("pass"))
	if err != nil {
		return nil, err
	}
	if !valid {
		req.Logger.Info().Str("refid", req.Service.Attr("refid")).Msg("Rejected PIN")
		return cardStatus(dispatch.StatusInvalidPIN), nil
	}
	return cardStatus(dispatch.StatusSuccess), nil
}

func cardGetRefID(ctx context.Context, req *dispatch.Request) (*kbin.Node, error) {
	accounts := NewAccounts(req.Store)

	user, err := accounts.CreateAccount(ctx, req.Service.Attr("cardid"), req.Service.Attr("passwd"))
	if err != nil {
		if isAccountError(err) {
			req.Logger.Info().Err(err).Msg("Refused account creation")
			return cardStatus(dispatch.StatusNotAllowed), nil
		}
		return nil, err
	}
	refID, err := accounts.RefIDFor(ctx, req.Model.Game, req.Model.Version, user.ID)
	if err != nil {
		return nil, err
	}
	return kbin.NewVoid("cardmng").
		SetAttr("dataid", refID).
		SetAttr("refid", refID), nil
}

func cardBindModel(ctx context.Context, req *dispatch.Request) (*kbin.Node, error) {
	accounts := NewAccounts(req.Store)
	refID := req.Service.Attr("refid")

	userID, err := accounts.UserForRefID(ctx, req.Model.Game, req.Model.Version, refID)
	if err != nil {
		if isAccountError(err) {
			return cardStatus(dispatch.StatusNotAllowed), nil
		}
		return nil, err
	}
	if err := accounts.BindProfile(ctx, req.Model.Game, req.Model.Version, userID); err != nil {
		return nil, err
	}
	return kbin.NewVoid("cardmng").SetAttr("dataid", refID), nil
}

func cardGetKeepSpan(ctx context.Context, req *dispatch.Request) (*kbin.Node, error) {
	return kbin.NewVoid("cardmng").SetAttr("keepspan", "30"), nil
}

func cardGetDataList(ctx context.Context, req *dispatch.Request) (*kbin.Node, error) {
	return kbin.NewVoid("cardmng"), nil
}
