package helpers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/nimasrn/courier-dispatch/internal/model"
	"github.com/nimasrn/courier-dispatch/internal/repository"
	"github.com/nimasrn/courier-dispatch/pkg/pg"
	"github.com/nimasrn/courier-dispatch/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB opens a private in-memory sqlite database with the schema
// migrated. The pool holds a single connection so transactions serialize,
// which stands in for the row lock Postgres takes.
func SetupTestDB(t *testing.T) *pg.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&repository.DeliverymanEntity{},
		&repository.RecipientEntity{},
		&repository.FileEntity{},
		&repository.DeliveryEntity{},
		&repository.DeliveryProblemEntity{},
	)
	require.NoError(t, err)

	t.Cleanup(func() { _ = sqlDB.Close() })
	return pg.NewFromGorm(db, db)
}

// SetupTestRedis starts a miniredis server behind a uniquely named adapter.
func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	t.Helper()
	mr := miniredis.RunT(t)

	adapter, err := redis.NewRedisAdapter("test-"+uuid.NewString(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })

	return mr, adapter
}

func CreateTestDeliveryman(t *testing.T, db *pg.DB, name string) *model.Deliveryman {
	t.Helper()
	dm, err := repository.NewDeliverymanRepository(db).Create(context.Background(), model.CreateDeliverymanRequest{
		Name:  name,
		Email: uuid.NewString() + "@courier.test",
	})
	require.NoError(t, err)
	return dm
}

func CreateTestRecipient(t *testing.T, db *pg.DB, name string) *model.Recipient {
	t.Helper()
	rc, err := repository.NewRecipientRepository(db).Create(context.Background(), model.CreateRecipientRequest{
		Name:       name,
		Street:     "Rua Vergueiro",
		Number:     "1000",
		Complement: "Bloco B",
		State:      "SP",
		City:       "Sao Paulo",
		ZipCode:    "04101-000",
	})
	require.NoError(t, err)
	return rc
}

// CreateTestDelivery inserts a delivery directly, bypassing every policy.
func CreateTestDelivery(t *testing.T, db *pg.DB, deliverymanID, recipientID int64, start *time.Time) *model.Delivery {
	t.Helper()
	d, err := repository.NewDeliveryRepository(db, "").Create(context.Background(), &model.Delivery{
		DeliverymanID: deliverymanID,
		RecipientID:   recipientID,
		Product:       "box",
		StartDate:     start,
	})
	require.NoError(t, err)
	return d
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func Ptr[T any](v T) *T {
	return &v
}
