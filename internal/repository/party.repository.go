package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimasrn/courier-dispatch/internal/model"
	"github.com/nimasrn/courier-dispatch/pkg/pg"
	"gorm.io/gorm"
)

type DeliverymanRepository struct {
	*pg.DB
}

func NewDeliverymanRepository(db *pg.DB) *DeliverymanRepository {
	return &DeliverymanRepository{db}
}

func (r *DeliverymanRepository) Create(ctx context.Context, req model.CreateDeliverymanRequest) (*model.Deliveryman, error) {
	entity := &DeliverymanEntity{
		Name:     req.Name,
		Email:    req.Email,
		AvatarID: req.AvatarID,
	}

	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		var n int64
		if err := r.Write(ctx).Model(&DeliverymanEntity{}).Where("email = ?", req.Email).Count(&n).Error; err != nil {
			return fmt.Errorf("check deliveryman email: %w", err)
		}
		if n > 0 {
			return ErrDuplicateEmail
		}
		if err := r.Write(ctx).Create(entity).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateEmail
			}
			return fmt.Errorf("create deliveryman: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toDeliverymanModel(entity), nil
}

func (r *DeliverymanRepository) FindByID(ctx context.Context, id int64) (*model.Deliveryman, error) {
	var entity DeliverymanEntity
	if err := r.Read(ctx).First(&entity, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeliverymanNotFound
		}
		return nil, fmt.Errorf("find deliveryman %d: %w", id, err)
	}
	return toDeliverymanModel(&entity), nil
}

func (r *DeliverymanRepository) Exists(ctx context.Context, id int64) (bool, error) {
	return exists(r.Read(ctx), &DeliverymanEntity{}, id)
}

type RecipientRepository struct {
	*pg.DB
}

func NewRecipientRepository(db *pg.DB) *RecipientRepository {
	return &RecipientRepository{db}
}

func (r *RecipientRepository) Create(ctx context.Context, req model.CreateRecipientRequest) (*model.Recipient, error) {
	entity := &RecipientEntity{
		Name:       req.Name,
		Street:     req.Street,
		Number:     req.Number,
		Complement: req.Complement,
		State:      req.State,
		City:       req.City,
		ZipCode:    req.ZipCode,
	}
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, fmt.Errorf("create recipient: %w", err)
	}
	return toRecipientModel(entity), nil
}

func (r *RecipientRepository) FindByID(ctx context.Context, id int64) (*model.Recipient, error) {
	var entity RecipientEntity
	if err := r.Read(ctx).First(&entity, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, fmt.Errorf("find recipient %d: %w", id, err)
	}
	return toRecipientModel(&entity), nil
}

func (r *RecipientRepository) Exists(ctx context.Context, id int64) (bool, error) {
	return exists(r.Read(ctx), &RecipientEntity{}, id)
}

func exists(db *gorm.DB, table interface{}, id int64) (bool, error) {
	var n int64
	if err := db.Model(table).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}
