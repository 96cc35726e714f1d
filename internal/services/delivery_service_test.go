package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/courier-dispatch/internal/model"
	"github.com/nimasrn/courier-dispatch/internal/policy"
	"github.com/nimasrn/courier-dispatch/internal/repository"
	"github.com/nimasrn/courier-dispatch/pkg/pg"
	"github.com/nimasrn/courier-dispatch/test/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	morning = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	evening = time.Date(2024, 3, 4, 19, 0, 0, 0, time.UTC)
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyDeliveryman(ctx context.Context, d *model.Delivery) {
	m.Called(ctx, d)
}

type serviceFixture struct {
	db          *pg.DB
	repo        *repository.DeliveryRepository
	service     *DeliveryService
	notifier    *MockNotifier
	deliveryman *model.Deliveryman
	recipient   *model.Recipient
}

func newServiceFixture(t *testing.T, notifier Notifier) *serviceFixture {
	db := helpers.SetupTestDB(t)
	repo := repository.NewDeliveryRepository(db, "http://files.test")

	mockNotifier, _ := notifier.(*MockNotifier)
	if notifier == nil {
		mockNotifier = new(MockNotifier)
		mockNotifier.On("NotifyDeliveryman", mock.Anything, mock.Anything).Return().Maybe()
		notifier = mockNotifier
	}

	svc := NewDeliveryService(
		repo,
		repository.NewRecipientRepository(db),
		repository.NewDeliverymanRepository(db),
		policy.DefaultBusinessHours(),
		policy.NewQuota(repo, policy.DefaultQuotaLimit),
		notifier,
	)
	return &serviceFixture{
		db:          db,
		repo:        repo,
		service:     svc,
		notifier:    mockNotifier,
		deliveryman: helpers.CreateTestDeliveryman(t, db, "Ana"),
		recipient:   helpers.CreateTestRecipient(t, db, "Bruno"),
	}
}

func (f *serviceFixture) request(start *time.Time) model.CreateDeliveryRequest {
	return model.CreateDeliveryRequest{
		RecipientID:   f.recipient.ID,
		DeliverymanID: f.deliveryman.ID,
		Product:       "box",
		StartDate:     start,
	}
}

func (f *serviceFixture) fillActive(t *testing.T, n int) {
	for i := 0; i < n; i++ {
		helpers.CreateTestDelivery(t, f.db, f.deliveryman.ID, f.recipient.ID, &morning)
	}
}

func (f *serviceFixture) notifications() int {
	n := 0
	for _, c := range f.notifier.Calls {
		if c.Method == "NotifyDeliveryman" {
			n++
		}
	}
	return n
}

func TestDeliveryService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("without start date stays created and does not notify", func(t *testing.T) {
		f := newServiceFixture(t, nil)

		d, err := f.service.Create(ctx, f.request(nil))
		require.NoError(t, err)
		assert.Equal(t, model.DeliveryStateCreated, d.State())
		assert.Equal(t, "Ana", d.Deliveryman.Name)
		assert.Equal(t, "Bruno", d.Recipient.Name)
		assert.NotNil(t, d.Problems)
		assert.Zero(t, f.notifications())
	})

	t.Run("with start date is started and notifies once", func(t *testing.T) {
		f := newServiceFixture(t, nil)

		d, err := f.service.Create(ctx, f.request(&morning))
		require.NoError(t, err)
		assert.Equal(t, model.DeliveryStateStarted, d.State())
		require.Equal(t, 1, f.notifications())

		notified := f.notifier.Calls[0].Arguments.Get(1).(*model.Delivery)
		assert.Equal(t, "box", notified.Product)
		assert.Equal(t, f.deliveryman.Email, notified.Deliveryman.Email)
	})

	t.Run("outside business hours persists nothing", func(t *testing.T) {
		f := newServiceFixture(t, nil)

		_, err := f.service.Create(ctx, f.request(&evening))
		assert.ErrorIs(t, err, ErrInvalidTimeWindow)

		all, err := f.service.List(ctx, model.DeliveryFilter{})
		require.NoError(t, err)
		assert.Empty(t, all)
		assert.Zero(t, f.notifications())
	})

	t.Run("unknown recipient or deliveryman", func(t *testing.T) {
		f := newServiceFixture(t, nil)

		req := f.request(nil)
		req.RecipientID = 999
		_, err := f.service.Create(ctx, req)
		assert.ErrorIs(t, err, ErrNotFound)

		req = f.request(nil)
		req.DeliverymanID = 999
		_, err = f.service.Create(ctx, req)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("missing product", func(t *testing.T) {
		f := newServiceFixture(t, nil)

		req := f.request(nil)
		req.Product = "  "
		_, err := f.service.Create(ctx, req)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("quota reached", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		f.fillActive(t, 5)

		_, err := f.service.Create(ctx, f.request(&morning))
		assert.ErrorIs(t, err, ErrQuotaExceeded)

		all, err := f.service.List(ctx, model.DeliveryFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 5)
		assert.Zero(t, f.notifications())
	})
}

func TestDeliveryService_SetStartDate_Quota(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)
	f.fillActive(t, 4)

	fifth, err := f.service.Create(ctx, f.request(nil))
	require.NoError(t, err)
	sixth, err := f.service.Create(ctx, f.request(nil))
	require.NoError(t, err)

	started, err := f.service.SetStartDate(ctx, fifth.ID, morning)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStateStarted, started.State())

	n, err := f.repo.CountActive(ctx, f.deliveryman.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	_, err = f.service.SetStartDate(ctx, sixth.ID, morning)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	still, err := f.service.Get(ctx, sixth.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStateCreated, still.State())
	assert.Equal(t, 1, f.notifications())
}

func TestDeliveryService_QuotaFreedByCompletion(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	var ids []int64
	for i := 0; i < 5; i++ {
		d, err := f.service.Create(ctx, f.request(&morning))
		require.NoError(t, err)
		ids = append(ids, d.ID)
	}

	_, err := f.service.SetEndDate(ctx, ids[0], morning.Add(time.Hour), nil)
	require.NoError(t, err)
	_, err = f.service.Cancel(ctx, ids[1], morning.Add(time.Hour))
	require.NoError(t, err)

	_, err = f.service.Create(ctx, f.request(&morning))
	assert.NoError(t, err)
	_, err = f.service.Create(ctx, f.request(&morning))
	assert.NoError(t, err)
	_, err = f.service.Create(ctx, f.request(&morning))
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestDeliveryService_StateMachine(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	d, err := f.service.Create(ctx, f.request(nil))
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStateCreated, d.State())

	_, err = f.service.SetEndDate(ctx, d.ID, morning, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.service.SetStartDate(ctx, d.ID, evening)
	assert.ErrorIs(t, err, ErrInvalidTimeWindow)

	d, err = f.service.SetStartDate(ctx, d.ID, morning)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStateStarted, d.State())

	_, err = f.service.SetStartDate(ctx, d.ID, morning)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.service.SetEndDate(ctx, d.ID, morning.Add(-time.Minute), nil)
	assert.ErrorIs(t, err, ErrValidation)

	fileID, err := f.repo.CreateFile(ctx, "signature.png", "sig-1.png")
	require.NoError(t, err)

	d, err = f.service.SetEndDate(ctx, d.ID, morning.Add(2*time.Hour), &fileID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStateDelivered, d.State())
	require.NotNil(t, d.Signature)
	assert.Equal(t, "sig-1.png", d.Signature.Path)

	_, err = f.service.Cancel(ctx, d.ID, morning.Add(3*time.Hour))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.service.SetEndDate(ctx, 999, morning, nil)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.service.SetStartDate(ctx, 999, morning)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.service.Cancel(ctx, 999, morning)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeliveryService_Cancel(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	created, err := f.service.Create(ctx, f.request(nil))
	require.NoError(t, err)
	started, err := f.service.Create(ctx, f.request(&morning))
	require.NoError(t, err)

	for _, id := range []int64{created.ID, started.ID} {
		d, err := f.service.Cancel(ctx, id, morning.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, model.DeliveryStateCanceled, d.State())
		assert.Nil(t, d.EndDate)
	}

	_, err = f.service.Cancel(ctx, created.ID, morning.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.service.SetStartDate(ctx, created.ID, morning)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.service.SetEndDate(ctx, started.ID, morning.Add(time.Hour), nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.service.AddProblem(ctx, created.ID, "late")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDeliveryService_ConcurrentStarts(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)
	f.fillActive(t, 4)

	a, err := f.service.Create(ctx, f.request(nil))
	require.NoError(t, err)
	b, err := f.service.Create(ctx, f.request(nil))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	start := make(chan struct{})
	for i, id := range []int64{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			<-start
			_, errs[i] = f.service.SetStartDate(ctx, id, morning)
		}(i, id)
	}
	close(start)
	wg.Wait()

	succeeded, rejected := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrQuotaExceeded):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)

	n, err := f.repo.CountActive(ctx, f.deliveryman.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestDeliveryService_OwnedBy(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)
	other := helpers.CreateTestDeliveryman(t, f.db, "Caio")

	d, err := f.service.Create(ctx, f.request(nil))
	require.NoError(t, err)

	_, err = f.service.SetStartDate(ctx, d.ID, morning, OwnedBy(other.ID))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.service.SetStartDate(ctx, d.ID, morning, OwnedBy(f.deliveryman.ID))
	require.NoError(t, err)

	_, err = f.service.SetEndDate(ctx, d.ID, morning.Add(time.Hour), nil, OwnedBy(other.ID))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeliveryService_Problems(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	d, err := f.service.Create(ctx, f.request(&morning))
	require.NoError(t, err)

	_, err = f.service.AddProblem(ctx, d.ID, "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.service.AddProblem(ctx, 999, "lost")
	assert.ErrorIs(t, err, ErrNotFound)

	p, err := f.service.AddProblem(ctx, d.ID, "recipient absent")
	require.NoError(t, err)

	got, err := f.service.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStateStarted, got.State())
	require.Len(t, got.Problems, 1)
	assert.Equal(t, p.ID, got.Problems[0].ID)

	problems, err := f.service.ListProblems(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, problems, 1)

	_, err = f.service.ListProblems(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := f.service.ListAllProblems(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDeliveryService_Destroy(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	d, err := f.service.Create(ctx, f.request(nil))
	require.NoError(t, err)
	_, err = f.service.AddProblem(ctx, d.ID, "damaged")
	require.NoError(t, err)

	require.NoError(t, f.service.Destroy(ctx, d.ID))

	_, err = f.service.Get(ctx, d.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	all, err := f.service.ListAllProblems(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, all)

	assert.ErrorIs(t, f.service.Destroy(ctx, d.ID), ErrNotFound)
}

func TestDeliveryService_CancelByProblem(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	d, err := f.service.Create(ctx, f.request(&morning))
	require.NoError(t, err)
	p, err := f.service.AddProblem(ctx, d.ID, "package destroyed")
	require.NoError(t, err)

	require.NoError(t, f.service.CancelByProblem(ctx, p.ID))

	_, err = f.service.Get(ctx, d.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, f.service.CancelByProblem(ctx, p.ID), ErrNotFound)
}

func TestDeliveryService_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("notifies on every update", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		d, err := f.service.Create(ctx, f.request(nil))
		require.NoError(t, err)

		updated, err := f.service.Update(ctx, d.ID, model.UpdateDeliveryRequest{Product: helpers.Ptr("crate")})
		require.NoError(t, err)
		assert.Equal(t, "crate", updated.Product)
		assert.Equal(t, model.DeliveryStateCreated, updated.State())
		assert.Equal(t, 1, f.notifications())

		_, err = f.service.Update(ctx, d.ID, model.UpdateDeliveryRequest{})
		require.NoError(t, err)
		assert.Equal(t, 2, f.notifications())
	})

	t.Run("reassignment is validated", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		d, err := f.service.Create(ctx, f.request(nil))
		require.NoError(t, err)

		_, err = f.service.Update(ctx, d.ID, model.UpdateDeliveryRequest{RecipientID: helpers.Ptr(int64(999))})
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = f.service.Update(ctx, d.ID, model.UpdateDeliveryRequest{DeliverymanID: helpers.Ptr(int64(999))})
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = f.service.Update(ctx, 999, model.UpdateDeliveryRequest{Product: helpers.Ptr("x")})
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = f.service.Update(ctx, d.ID, model.UpdateDeliveryRequest{Product: helpers.Ptr("")})
		assert.ErrorIs(t, err, ErrValidation)
		assert.Zero(t, f.notifications())
	})

	t.Run("patched start date runs the policies", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		d, err := f.service.Create(ctx, f.request(nil))
		require.NoError(t, err)

		_, err = f.service.Update(ctx, d.ID, model.UpdateDeliveryRequest{StartDate: &evening})
		assert.ErrorIs(t, err, ErrInvalidTimeWindow)

		f.fillActive(t, 5)
		_, err = f.service.Update(ctx, d.ID, model.UpdateDeliveryRequest{StartDate: &morning})
		assert.ErrorIs(t, err, ErrQuotaExceeded)

		other := helpers.CreateTestDeliveryman(t, f.db, "Caio")
		updated, err := f.service.Update(ctx, d.ID, model.UpdateDeliveryRequest{
			DeliverymanID: &other.ID,
			StartDate:     &morning,
		})
		require.NoError(t, err)
		assert.Equal(t, model.DeliveryStateStarted, updated.State())
		assert.Equal(t, "Caio", updated.Deliveryman.Name)

		_, err = f.service.Update(ctx, d.ID, model.UpdateDeliveryRequest{StartDate: &morning})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("moving an active delivery consumes the new owner's quota", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		busy := helpers.CreateTestDeliveryman(t, f.db, "Caio")
		for i := 0; i < 5; i++ {
			helpers.CreateTestDelivery(t, f.db, busy.ID, f.recipient.ID, &morning)
		}

		d, err := f.service.Create(ctx, f.request(&morning))
		require.NoError(t, err)

		_, err = f.service.Update(ctx, d.ID, model.UpdateDeliveryRequest{DeliverymanID: &busy.ID})
		assert.ErrorIs(t, err, ErrQuotaExceeded)
	})
}

func TestDeliveryService_ListForDeliveryman(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	pending, err := f.service.Create(ctx, f.request(nil))
	require.NoError(t, err)
	doneOne, err := f.service.Create(ctx, f.request(&morning))
	require.NoError(t, err)
	_, err = f.service.SetEndDate(ctx, doneOne.ID, morning.Add(time.Hour), nil)
	require.NoError(t, err)

	open, err := f.service.ListForDeliveryman(ctx, f.deliveryman.ID, false, 0, 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, pending.ID, open[0].ID)

	done, err := f.service.ListForDeliveryman(ctx, f.deliveryman.ID, true, 0, 0)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, doneOne.ID, done[0].ID)

	_, err = f.service.ListForDeliveryman(ctx, 999, false, 0, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}
