package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/platform/textutil"
	"github.com/watchfix/api/internal/repositories"
)

const (
	adminEventPersonCreated = "admin.delivery_person_created"
	adminEventPersonStatus  = "admin.delivery_person_status"
	adminEventShopCreated   = "admin.shop_created"

	maxPersonNameLength  = 120
	maxShopNameLength    = 255
	maxShopAddressLength = 1000
)

// AdminServiceDeps wires the admin management service.
type AdminServiceDeps struct {
	Delivery repositories.DeliveryPersonRepository
	Shops    repositories.ShopRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type adminService struct {
	delivery repositories.DeliveryPersonRepository
	shops    repositories.ShopRepository
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

var _ AdminService = (*adminService)(nil)

// NewAdminService constructs an AdminService.
func NewAdminService(deps AdminServiceDeps) (AdminService, error) {
	if deps.Delivery == nil || deps.Shops == nil {
		return nil, errors.New("admin service: repositories are required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &adminService{
		delivery: deps.Delivery,
		shops:    deps.Shops,
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

func (s *adminService) CreateDeliveryPerson(ctx context.Context, actor Principal, cmd CreateDeliveryPersonCommand) (domain.DeliveryPerson, error) {
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return domain.DeliveryPerson{}, err
	}
	phone := strings.TrimSpace(cmd.Phone)
	name := textutil.CleanText(cmd.Name, maxPersonNameLength)
	if phone == "" || name == "" {
		return domain.DeliveryPerson{}, validation(CodeValidation, "phone and name are required")
	}

	if _, err := s.delivery.FindByPhone(ctx, phone); err == nil {
		return domain.DeliveryPerson{}, newError(ErrConflict, CodePhoneExists, "delivery person with this phone already exists")
	} else if !isNotFound(err) {
		return domain.DeliveryPerson{}, mapRepositoryError(err, "delivery person")
	}

	now := s.clock()
	person, err := s.delivery.Insert(ctx, domain.DeliveryPerson{
		Phone:     phone,
		Name:      name,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		if isConflict(err) {
			return domain.DeliveryPerson{}, wrapError(ErrConflict, CodePhoneExists, "delivery person with this phone already exists", err)
		}
		return domain.DeliveryPerson{}, mapRepositoryError(err, "delivery person")
	}
	s.logger(ctx, adminEventPersonCreated, map[string]any{"deliveryPersonId": person.ID, "adminId": actor.ID})
	return person, nil
}

func (s *adminService) ListDeliveryPersonnel(ctx context.Context, actor Principal, active *bool) ([]domain.DeliveryPerson, error) {
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return nil, err
	}
	people, err := s.delivery.List(ctx, active)
	if err != nil {
		return nil, mapRepositoryError(err, "delivery person")
	}
	return people, nil
}

func (s *adminService) SetDeliveryPersonActive(ctx context.Context, actor Principal, id int64, active bool) (domain.DeliveryPerson, error) {
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return domain.DeliveryPerson{}, err
	}
	person, err := s.delivery.SetActive(ctx, id, active, s.clock())
	if err != nil {
		return domain.DeliveryPerson{}, mapRepositoryError(err, "delivery person")
	}
	s.logger(ctx, adminEventPersonStatus, map[string]any{"deliveryPersonId": id, "active": active, "adminId": actor.ID})
	return person, nil
}

func (s *adminService) ListShops(ctx context.Context, actor Principal) ([]domain.Shop, error) {
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return nil, err
	}
	shops, err := s.shops.List(ctx)
	if err != nil {
		return nil, mapRepositoryError(err, "shop")
	}
	return shops, nil
}

func (s *adminService) CreateShop(ctx context.Context, actor Principal, cmd CreateShopCommand) (domain.Shop, error) {
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return domain.Shop{}, err
	}
	name := textutil.CleanText(cmd.Name, maxShopNameLength)
	address := textutil.CleanText(cmd.Address, maxShopAddressLength)
	if name == "" || address == "" {
		return domain.Shop{}, validation(CodeValidation, "name and address are required")
	}
	now := s.clock()
	shop, err := s.shops.Insert(ctx, domain.Shop{
		Name:      name,
		Address:   address,
		Phone:     strings.TrimSpace(cmd.Phone),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.Shop{}, mapRepositoryError(err, "shop")
	}
	s.logger(ctx, adminEventShopCreated, map[string]any{"shopId": shop.ID, "adminId": actor.ID})
	return shop, nil
}
