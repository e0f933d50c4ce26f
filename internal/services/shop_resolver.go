package services

import (
	"context"
	"fmt"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/repositories"
)

// shopResolver picks the shop an operation applies to: the explicit id, else the configured
// default, else the shop with the lowest id.
type shopResolver struct {
	shops     repositories.ShopRepository
	defaultID int64
}

func (r shopResolver) resolve(ctx context.Context, explicit *int64) (domain.Shop, error) {
	id := r.defaultID
	if explicit != nil {
		id = *explicit
	}
	if id != 0 {
		if id < 0 {
			return domain.Shop{}, validation(CodeInvalidShop, "shop_id must be positive")
		}
		shop, err := r.shops.FindByID(ctx, id)
		if err != nil {
			if isNotFound(err) {
				return domain.Shop{}, validation(CodeInvalidShop, fmt.Sprintf("shop %d does not exist", id))
			}
			return domain.Shop{}, mapRepositoryError(err, "shop")
		}
		return shop, nil
	}

	shop, err := r.shops.First(ctx)
	if err != nil {
		if isNotFound(err) {
			return domain.Shop{}, newError(ErrValidation, CodeNoShop, "no shop configured")
		}
		return domain.Shop{}, mapRepositoryError(err, "shop")
	}
	return shop, nil
}

func requireRole(actor Principal, roles ...domain.Role) error {
	if actor.ID <= 0 || !actor.Role.Valid() {
		return newError(ErrUnauthenticated, "unauthenticated", "authentication required")
	}
	for _, role := range roles {
		if actor.Role == role {
			return nil
		}
	}
	return newError(ErrForbidden, CodeForbidden, "role not permitted for this operation")
}
