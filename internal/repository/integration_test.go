//go:build integration

package repository

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/nimasrn/courier-dispatch/internal/model"
	"github.com/nimasrn/courier-dispatch/pkg/pg"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	postgresdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var errQuotaForTest = errors.New("quota exceeded")

type PostgresIntegrationSuite struct {
	suite.Suite
	container *postgres.PostgresContainer
	db        *pg.DB
	repo      *DeliveryRepository
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("courier"),
		postgres.WithUsername("courier"),
		postgres.WithPassword("courier"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)

	sqlDB, err := sql.Open("postgres", connStr)
	s.Require().NoError(err)
	defer sqlDB.Close()
	s.Require().NoError(pg.MigrateDB(sqlDB, "postgres", "../../migrations"))

	gdb, err := gorm.Open(postgresdriver.Open(connStr), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	s.Require().NoError(err)

	s.db = pg.NewFromGorm(gdb, gdb)
	s.repo = NewDeliveryRepository(s.db, "http://files.test")
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.container != nil {
		s.Require().NoError(s.container.Terminate(context.Background()))
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	s.Require().NoError(s.db.Write(context.Background()).
		Exec("TRUNCATE delivery_problems, deliveries, files, recipients, deliverymen RESTART IDENTITY CASCADE").Error)
}

// startWithQuota mirrors the quota section of a start transition: lock the
// deliveryman, count, then write.
func (s *PostgresIntegrationSuite) startWithQuota(ctx context.Context, deliveryID, deliverymanID int64, at time.Time) error {
	return s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.LockDeliveryman(ctx, deliverymanID); err != nil {
			return err
		}
		n, err := s.repo.CountActive(ctx, deliverymanID)
		if err != nil {
			return err
		}
		if n >= 5 {
			return errQuotaForTest
		}
		// widen the race window between count and write
		time.Sleep(50 * time.Millisecond)
		return s.repo.Update(ctx, deliveryID, model.DeliveryChanges{StartDate: &at})
	})
}

func (s *PostgresIntegrationSuite) TestConcurrentStartsRespectQuota() {
	ctx := context.Background()
	dm := seedDeliveryman(s.T(), s.db, "Ana")
	rc := seedRecipient(s.T(), s.db, "Bruno")
	at := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		seedDelivery(s.T(), s.db, dm.ID, rc.ID, &at, nil, nil)
	}
	first := seedDelivery(s.T(), s.db, dm.ID, rc.ID, nil, nil, nil)
	second := seedDelivery(s.T(), s.db, dm.ID, rc.ID, nil, nil, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []int64{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			errs[i] = s.startWithQuota(ctx, id, dm.ID, at)
		}(i, id)
	}
	wg.Wait()

	succeeded, rejected := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, errQuotaForTest):
			rejected++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, succeeded)
	s.Equal(1, rejected)

	n, err := s.repo.CountActive(ctx, dm.ID)
	s.Require().NoError(err)
	s.Equal(int64(5), n)
}

func (s *PostgresIntegrationSuite) TestDeleteCascadesProblems() {
	ctx := context.Background()
	dm := seedDeliveryman(s.T(), s.db, "Ana")
	rc := seedRecipient(s.T(), s.db, "Bruno")
	d := seedDelivery(s.T(), s.db, dm.ID, rc.ID, nil, nil, nil)

	_, err := s.repo.AddProblem(ctx, &model.DeliveryProblem{DeliveryID: d.ID, Description: "damaged"})
	s.Require().NoError(err)

	s.Require().NoError(s.repo.Delete(ctx, d.ID))

	var n int64
	s.Require().NoError(s.db.Read(ctx).Model(&DeliveryProblemEntity{}).Count(&n).Error)
	s.Zero(n)
}

func (s *PostgresIntegrationSuite) TestTerminalMarkersAreExclusive() {
	ctx := context.Background()
	dm := seedDeliveryman(s.T(), s.db, "Ana")
	rc := seedRecipient(s.T(), s.db, "Bruno")
	at := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	d := seedDelivery(s.T(), s.db, dm.ID, rc.ID, &at, nil, nil)

	end := at.Add(time.Hour)
	s.Require().NoError(s.repo.Update(ctx, d.ID, model.DeliveryChanges{EndDate: &end}))
	s.Error(s.repo.Update(ctx, d.ID, model.DeliveryChanges{CanceledAt: &end}))
}

func TestPostgresIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}
	suite.Run(t, new(PostgresIntegrationSuite))
}

