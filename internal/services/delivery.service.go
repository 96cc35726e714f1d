package services

import (
	"context"
	"fmt"
	"time"

	"github.com/nimasrn/courier-dispatch/internal/model"
	"github.com/nimasrn/courier-dispatch/pkg/logger"
	"github.com/nimasrn/courier-dispatch/pkg/prom"
)

type DeliveryRepository interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	FindByID(ctx context.Context, id int64) (*model.Delivery, error)
	LockByID(ctx context.Context, id int64) (*model.Delivery, error)
	List(ctx context.Context, filter model.DeliveryFilter) ([]*model.Delivery, error)
	Create(ctx context.Context, d *model.Delivery) (*model.Delivery, error)
	Update(ctx context.Context, id int64, changes model.DeliveryChanges) error
	Delete(ctx context.Context, id int64) error
	LockDeliveryman(ctx context.Context, deliverymanID int64) error
	AddProblem(ctx context.Context, p *model.DeliveryProblem) (*model.DeliveryProblem, error)
	FindProblem(ctx context.Context, id int64) (*model.DeliveryProblem, error)
	ListProblems(ctx context.Context, deliveryID int64) ([]*model.DeliveryProblem, error)
	ListAllProblems(ctx context.Context, limit, offset int) ([]*model.DeliveryProblem, error)
}

// Lookup answers existence checks for recipients and deliverymen.
type Lookup interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

type TimeWindowPolicy interface {
	IsWithinBusinessHours(t time.Time) bool
}

// QuotaPolicy must read through the transaction carried by ctx.
type QuotaPolicy interface {
	CanStart(ctx context.Context, deliverymanID int64) (bool, error)
}

// Notifier hands a delivery snapshot to the notification queue. It never
// reports failure to the caller.
type Notifier interface {
	NotifyDeliveryman(ctx context.Context, d *model.Delivery)
}

type DeliveryService struct {
	repo        DeliveryRepository
	recipients  Lookup
	deliverymen Lookup
	window      TimeWindowPolicy
	quota       QuotaPolicy
	notifier    Notifier
}

func NewDeliveryService(repo DeliveryRepository, recipients, deliverymen Lookup, window TimeWindowPolicy, quota QuotaPolicy, notifier Notifier) *DeliveryService {
	return &DeliveryService{
		repo:        repo,
		recipients:  recipients,
		deliverymen: deliverymen,
		window:      window,
		quota:       quota,
		notifier:    notifier,
	}
}

// TransitionOption narrows a transition to a delivery owned by a given
// deliveryman, as used by the deliveryman-facing routes.
type TransitionOption func(*transitionOptions)

type transitionOptions struct {
	deliverymanID *int64
}

func OwnedBy(deliverymanID int64) TransitionOption {
	return func(o *transitionOptions) {
		o.deliverymanID = &deliverymanID
	}
}

func (o transitionOptions) check(d *model.Delivery) error {
	if o.deliverymanID != nil && d.DeliverymanID != *o.deliverymanID {
		return fmt.Errorf("%w: delivery %d does not belong to deliveryman %d", ErrNotFound, d.ID, *o.deliverymanID)
	}
	return nil
}

func buildOptions(opts []TransitionOption) transitionOptions {
	var o transitionOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (s *DeliveryService) Create(ctx context.Context, req model.CreateDeliveryRequest) (*model.Delivery, error) {
	if err := req.Validate(); err != nil {
		return nil, validationError(err)
	}
	if err := s.ensureExists(ctx, s.recipients, "recipient", req.RecipientID); err != nil {
		return nil, err
	}
	if err := s.ensureExists(ctx, s.deliverymen, "deliveryman", req.DeliverymanID); err != nil {
		return nil, err
	}
	if req.StartDate != nil {
		if err := s.checkWindow(*req.StartDate); err != nil {
			return nil, err
		}
	}

	var created *model.Delivery
	err := s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		if req.StartDate != nil {
			if err := s.reserveQuota(ctx, req.DeliverymanID); err != nil {
				return err
			}
		}
		d, err := s.repo.Create(ctx, &model.Delivery{
			RecipientID:   req.RecipientID,
			DeliverymanID: req.DeliverymanID,
			Product:       req.Product,
			StartDate:     req.StartDate,
		})
		if err != nil {
			return err
		}
		created, err = s.repo.FindByID(ctx, d.ID)
		return err
	})
	if err != nil {
		return nil, mapRepositoryError(err)
	}

	prom.DeliveryTransition("created")
	logger.Info("delivery created", "delivery_id", created.ID, "deliveryman_id", created.DeliverymanID, "state", created.State())

	if created.StartDate != nil {
		prom.DeliveryTransition("started")
		s.notifier.NotifyDeliveryman(ctx, created)
	}
	return created, nil
}

func (s *DeliveryService) SetStartDate(ctx context.Context, id int64, at time.Time, opts ...TransitionOption) (*model.Delivery, error) {
	o := buildOptions(opts)

	var started *model.Delivery
	err := s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		d, err := s.repo.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if err := o.check(d); err != nil {
			return err
		}
		if state := d.State(); state != model.DeliveryStateCreated {
			return fmt.Errorf("%w: cannot start a %s delivery", ErrInvalidTransition, state)
		}
		if err := s.checkWindow(at); err != nil {
			return err
		}
		if err := s.reserveQuota(ctx, d.DeliverymanID); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, id, model.DeliveryChanges{StartDate: &at}); err != nil {
			return err
		}
		started, err = s.repo.FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, mapRepositoryError(err)
	}

	prom.DeliveryTransition("started")
	logger.Info("delivery started", "delivery_id", id, "deliveryman_id", started.DeliverymanID)
	s.notifier.NotifyDeliveryman(ctx, started)
	return started, nil
}

func (s *DeliveryService) SetEndDate(ctx context.Context, id int64, at time.Time, signatureID *int64, opts ...TransitionOption) (*model.Delivery, error) {
	o := buildOptions(opts)

	var delivered *model.Delivery
	err := s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		d, err := s.repo.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if err := o.check(d); err != nil {
			return err
		}
		if state := d.State(); state != model.DeliveryStateStarted {
			return fmt.Errorf("%w: cannot deliver a %s delivery", ErrInvalidTransition, state)
		}
		if at.Before(*d.StartDate) {
			return fmt.Errorf("%w: end date %s is before start date %s", ErrValidation, at.Format(time.RFC3339), d.StartDate.Format(time.RFC3339))
		}
		if err := s.repo.Update(ctx, id, model.DeliveryChanges{EndDate: &at, SignatureID: signatureID}); err != nil {
			return err
		}
		delivered, err = s.repo.FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, mapRepositoryError(err)
	}

	prom.DeliveryTransition("delivered")
	logger.Info("delivery delivered", "delivery_id", id, "deliveryman_id", delivered.DeliverymanID)
	return delivered, nil
}

func (s *DeliveryService) Cancel(ctx context.Context, id int64, at time.Time) (*model.Delivery, error) {
	var canceled *model.Delivery
	err := s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		d, err := s.repo.LockByID(ctx, id)
		if err != nil {
			return err
		}
		switch state := d.State(); state {
		case model.DeliveryStateDelivered, model.DeliveryStateCanceled:
			return fmt.Errorf("%w: cannot cancel a %s delivery", ErrInvalidTransition, state)
		}
		if err := s.repo.Update(ctx, id, model.DeliveryChanges{CanceledAt: &at}); err != nil {
			return err
		}
		canceled, err = s.repo.FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, mapRepositoryError(err)
	}

	prom.DeliveryTransition("canceled")
	logger.Info("delivery canceled", "delivery_id", id)
	return canceled, nil
}

func (s *DeliveryService) AddProblem(ctx context.Context, deliveryID int64, description string) (*model.DeliveryProblem, error) {
	req := model.CreateProblemRequest{Description: description}
	if err := req.Validate(); err != nil {
		return nil, validationError(err)
	}

	var problem *model.DeliveryProblem
	err := s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		d, err := s.repo.LockByID(ctx, deliveryID)
		if err != nil {
			return err
		}
		if d.State() == model.DeliveryStateCanceled {
			return fmt.Errorf("%w: delivery %d is canceled", ErrInvalidTransition, deliveryID)
		}
		problem, err = s.repo.AddProblem(ctx, &model.DeliveryProblem{
			DeliveryID:  deliveryID,
			Description: req.Description,
		})
		return err
	})
	if err != nil {
		return nil, mapRepositoryError(err)
	}

	logger.Info("delivery problem reported", "delivery_id", deliveryID, "problem_id", problem.ID)
	return problem, nil
}

// Destroy deletes the delivery and its problems.
func (s *DeliveryService) Destroy(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return mapRepositoryError(err)
	}
	logger.Info("delivery destroyed", "delivery_id", id)
	return nil
}

// CancelByProblem deletes the delivery a problem was reported on. The
// delivery record is removed, not marked canceled.
func (s *DeliveryService) CancelByProblem(ctx context.Context, problemID int64) error {
	problem, err := s.repo.FindProblem(ctx, problemID)
	if err != nil {
		return mapRepositoryError(err)
	}
	if err := s.repo.Delete(ctx, problem.DeliveryID); err != nil {
		return mapRepositoryError(err)
	}
	logger.Warn("delivery deleted through problem", "problem_id", problemID, "delivery_id", problem.DeliveryID)
	return nil
}

func (s *DeliveryService) Get(ctx context.Context, id int64) (*model.Delivery, error) {
	d, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return d, nil
}

func (s *DeliveryService) List(ctx context.Context, filter model.DeliveryFilter) ([]*model.Delivery, error) {
	list, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return list, nil
}

// ListForDeliveryman returns the deliveryman's delivered deliveries when done
// is set, and the ones still waiting to be delivered otherwise.
func (s *DeliveryService) ListForDeliveryman(ctx context.Context, deliverymanID int64, done bool, limit, offset int) ([]*model.Delivery, error) {
	if err := s.ensureExists(ctx, s.deliverymen, "deliveryman", deliverymanID); err != nil {
		return nil, err
	}
	states := []model.DeliveryState{model.DeliveryStateCreated, model.DeliveryStateStarted}
	if done {
		states = []model.DeliveryState{model.DeliveryStateDelivered}
	}
	return s.List(ctx, model.DeliveryFilter{
		DeliverymanID: &deliverymanID,
		States:        states,
		Limit:         limit,
		Offset:        offset,
	})
}

func (s *DeliveryService) ListProblems(ctx context.Context, deliveryID int64) ([]*model.DeliveryProblem, error) {
	if _, err := s.repo.FindByID(ctx, deliveryID); err != nil {
		return nil, mapRepositoryError(err)
	}
	problems, err := s.repo.ListProblems(ctx, deliveryID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return problems, nil
}

func (s *DeliveryService) ListAllProblems(ctx context.Context, limit, offset int) ([]*model.DeliveryProblem, error) {
	return s.repo.ListAllProblems(ctx, limit, offset)
}

// Update patches non-transition fields. A patched start date follows the
// same rules as SetStartDate. The deliveryman is notified after every
// successful update.
func (s *DeliveryService) Update(ctx context.Context, id int64, req model.UpdateDeliveryRequest) (*model.Delivery, error) {
	if err := req.Validate(); err != nil {
		return nil, validationError(err)
	}
	if req.RecipientID != nil {
		if err := s.ensureExists(ctx, s.recipients, "recipient", *req.RecipientID); err != nil {
			return nil, err
		}
	}
	if req.DeliverymanID != nil {
		if err := s.ensureExists(ctx, s.deliverymen, "deliveryman", *req.DeliverymanID); err != nil {
			return nil, err
		}
	}

	var updated *model.Delivery
	err := s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		d, err := s.repo.LockByID(ctx, id)
		if err != nil {
			return err
		}

		owner := d.DeliverymanID
		if req.DeliverymanID != nil {
			owner = *req.DeliverymanID
		}

		switch {
		case req.StartDate != nil:
			if state := d.State(); state != model.DeliveryStateCreated {
				return fmt.Errorf("%w: cannot start a %s delivery", ErrInvalidTransition, state)
			}
			if err := s.checkWindow(*req.StartDate); err != nil {
				return err
			}
			if err := s.reserveQuota(ctx, owner); err != nil {
				return err
			}
		case d.State() == model.DeliveryStateStarted && owner != d.DeliverymanID:
			// an active delivery moving to another deliveryman takes one of their slots
			if err := s.reserveQuota(ctx, owner); err != nil {
				return err
			}
		}

		err = s.repo.Update(ctx, id, model.DeliveryChanges{
			RecipientID:   req.RecipientID,
			DeliverymanID: req.DeliverymanID,
			Product:       req.Product,
			StartDate:     req.StartDate,
		})
		if err != nil {
			return err
		}
		updated, err = s.repo.FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, mapRepositoryError(err)
	}

	if req.StartDate != nil {
		prom.DeliveryTransition("started")
	}
	logger.Info("delivery updated", "delivery_id", id, "deliveryman_id", updated.DeliverymanID)
	s.notifier.NotifyDeliveryman(ctx, updated)
	return updated, nil
}

func (s *DeliveryService) checkWindow(at time.Time) error {
	if !s.window.IsWithinBusinessHours(at) {
		prom.DeliveryRejected("time_window")
		return fmt.Errorf("%w: %s", ErrInvalidTimeWindow, at.Format(time.RFC3339))
	}
	return nil
}

// reserveQuota locks the deliveryman row and checks the quota. ctx must
// carry the transaction that will write the start date.
func (s *DeliveryService) reserveQuota(ctx context.Context, deliverymanID int64) error {
	if err := s.repo.LockDeliveryman(ctx, deliverymanID); err != nil {
		return err
	}
	ok, err := s.quota.CanStart(ctx, deliverymanID)
	if err != nil {
		return fmt.Errorf("check quota: %w", err)
	}
	if !ok {
		prom.DeliveryRejected("quota")
		return fmt.Errorf("%w: deliveryman %d", ErrQuotaExceeded, deliverymanID)
	}
	return nil
}

func (s *DeliveryService) ensureExists(ctx context.Context, lookup Lookup, kind string, id int64) error {
	ok, err := lookup.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("lookup %s %d: %w", kind, id, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s %d", ErrNotFound, kind, id)
	}
	return nil
}
