package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nimasrn/courier-dispatch/internal/model"
	"github.com/nimasrn/courier-dispatch/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrDeliveryNotFound    = errors.New("delivery not found")
	ErrProblemNotFound     = errors.New("delivery problem not found")
	ErrDeliverymanNotFound = errors.New("deliveryman not found")
	ErrRecipientNotFound   = errors.New("recipient not found")
	ErrDuplicateEmail      = errors.New("email already registered")
)

const defaultListLimit = 20

const activeCondition = "start_date IS NOT NULL AND end_date IS NULL AND canceled_at IS NULL"

var stateConditions = map[model.DeliveryState]string{
	model.DeliveryStateCreated:   "start_date IS NULL AND end_date IS NULL AND canceled_at IS NULL",
	model.DeliveryStateStarted:   activeCondition,
	model.DeliveryStateDelivered: "end_date IS NOT NULL",
	model.DeliveryStateCanceled:  "canceled_at IS NOT NULL",
}

type DeliveryRepository struct {
	*pg.DB
	filesBaseURL string
}

func NewDeliveryRepository(db *pg.DB, filesBaseURL string) *DeliveryRepository {
	return &DeliveryRepository{
		DB:           db,
		filesBaseURL: filesBaseURL,
	}
}

func hydrate(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Deliveryman").
		Preload("Recipient").
		Preload("Signature").
		Preload("Problems", func(db *gorm.DB) *gorm.DB {
			return db.Order("delivery_problems.id ASC")
		})
}

// FindByID returns the delivery with its deliveryman, recipient, signature
// and problems joined.
func (r *DeliveryRepository) FindByID(ctx context.Context, id int64) (*model.Delivery, error) {
	var entity DeliveryEntity
	err := hydrate(r.Read(ctx)).First(&entity, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("find delivery %d: %w", id, err)
	}
	return toDeliveryModel(&entity, r.filesBaseURL), nil
}

// LockByID reads the bare delivery row with SELECT ... FOR UPDATE. It only
// locks when ctx carries a transaction.
func (r *DeliveryRepository) LockByID(ctx context.Context, id int64) (*model.Delivery, error) {
	var entity DeliveryEntity
	err := r.Write(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("lock delivery %d: %w", id, err)
	}
	return toDeliveryModel(&entity, r.filesBaseURL), nil
}

func (r *DeliveryRepository) List(ctx context.Context, filter model.DeliveryFilter) ([]*model.Delivery, error) {
	q := hydrate(r.Read(ctx)).Model(&DeliveryEntity{})

	if filter.DeliverymanID != nil {
		q = q.Where("deliveryman_id = ?", *filter.DeliverymanID)
	}
	if filter.Product != "" {
		q = q.Where("LOWER(product) LIKE ?", "%"+strings.ToLower(filter.Product)+"%")
	}
	if len(filter.States) > 0 {
		conds := make([]string, 0, len(filter.States))
		for _, s := range filter.States {
			c, ok := stateConditions[s]
			if !ok {
				return nil, fmt.Errorf("unknown delivery state %q", s)
			}
			conds = append(conds, "("+c+")")
		}
		q = q.Where(strings.Join(conds, " OR "))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var entities []*DeliveryEntity
	err := q.Order("id ASC").Limit(limit).Offset(filter.Offset).Find(&entities).Error
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return toDeliveryModels(entities, r.filesBaseURL), nil
}

// Create inserts the delivery row only; associations are not written.
func (r *DeliveryRepository) Create(ctx context.Context, d *model.Delivery) (*model.Delivery, error) {
	entity := toDeliveryEntity(d)
	if err := r.Write(ctx).Omit(clause.Associations).Create(entity).Error; err != nil {
		return nil, fmt.Errorf("create delivery: %w", err)
	}
	return toDeliveryModel(entity, r.filesBaseURL), nil
}

func (r *DeliveryRepository) Update(ctx context.Context, id int64, changes model.DeliveryChanges) error {
	updates := map[string]interface{}{}
	if changes.RecipientID != nil {
		updates["recipient_id"] = *changes.RecipientID
	}
	if changes.DeliverymanID != nil {
		updates["deliveryman_id"] = *changes.DeliverymanID
	}
	if changes.SignatureID != nil {
		updates["signature_id"] = *changes.SignatureID
	}
	if changes.Product != nil {
		updates["product"] = *changes.Product
	}
	if changes.StartDate != nil {
		updates["start_date"] = *changes.StartDate
	}
	if changes.EndDate != nil {
		updates["end_date"] = *changes.EndDate
	}
	if changes.CanceledAt != nil {
		updates["canceled_at"] = *changes.CanceledAt
	}
	if len(updates) == 0 {
		return nil
	}

	result := r.Write(ctx).Model(&DeliveryEntity{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update delivery %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// Delete removes the delivery together with its problems.
func (r *DeliveryRepository) Delete(ctx context.Context, id int64) error {
	return r.WithinTransaction(ctx, func(ctx context.Context) error {
		entity := &DeliveryEntity{ID: id}
		result := r.Write(ctx).Select("Problems").Delete(entity)
		if result.Error != nil {
			return fmt.Errorf("delete delivery %d: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrDeliveryNotFound
		}
		return nil
	})
}

// CountActive counts deliveries of the deliveryman that are started and
// neither ended nor canceled.
func (r *DeliveryRepository) CountActive(ctx context.Context, deliverymanID int64) (int64, error) {
	var n int64
	err := r.Read(ctx).Model(&DeliveryEntity{}).
		Where("deliveryman_id = ?", deliverymanID).
		Where(activeCondition).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count active deliveries: %w", err)
	}
	return n, nil
}

// LockDeliveryman takes a row lock on the deliveryman, serializing every
// transaction that checks and consumes the deliveryman's quota.
func (r *DeliveryRepository) LockDeliveryman(ctx context.Context, deliverymanID int64) error {
	var entity DeliverymanEntity
	err := r.Write(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("id = ?", deliverymanID).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDeliverymanNotFound
		}
		return fmt.Errorf("lock deliveryman %d: %w", deliverymanID, err)
	}
	return nil
}

func (r *DeliveryRepository) AddProblem(ctx context.Context, p *model.DeliveryProblem) (*model.DeliveryProblem, error) {
	entity := &DeliveryProblemEntity{
		DeliveryID:  p.DeliveryID,
		Description: p.Description,
	}
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, fmt.Errorf("create delivery problem: %w", err)
	}
	return toProblemModel(entity), nil
}

func (r *DeliveryRepository) FindProblem(ctx context.Context, id int64) (*model.DeliveryProblem, error) {
	var entity DeliveryProblemEntity
	if err := r.Read(ctx).First(&entity, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProblemNotFound
		}
		return nil, fmt.Errorf("find delivery problem %d: %w", id, err)
	}
	return toProblemModel(&entity), nil
}

func (r *DeliveryRepository) ListProblems(ctx context.Context, deliveryID int64) ([]*model.DeliveryProblem, error) {
	var entities []*DeliveryProblemEntity
	err := r.Read(ctx).
		Where("delivery_id = ?", deliveryID).
		Order("id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, fmt.Errorf("list delivery problems: %w", err)
	}
	return toProblemModels(entities), nil
}

func (r *DeliveryRepository) ListAllProblems(ctx context.Context, limit, offset int) ([]*model.DeliveryProblem, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var entities []*DeliveryProblemEntity
	err := r.Read(ctx).
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&entities).Error
	if err != nil {
		return nil, fmt.Errorf("list delivery problems: %w", err)
	}
	return toProblemModels(entities), nil
}

// CreateFile stores signature file metadata.
func (r *DeliveryRepository) CreateFile(ctx context.Context, name, path string) (int64, error) {
	entity := &FileEntity{Name: name, Path: path}
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	return entity.ID, nil
}
