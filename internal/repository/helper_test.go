package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/courier-dispatch/pkg/pg"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testFilesURL = "http://files.test"

// setupTestDB opens a private in-memory sqlite database limited to one
// connection, so transactions run one after another.
func setupTestDB(t *testing.T) *pg.DB {
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
		&DeliverymanEntity{},
		&RecipientEntity{},
		&FileEntity{},
		&DeliveryEntity{},
		&DeliveryProblemEntity{},
	)
	require.NoError(t, err)

	t.Cleanup(func() { _ = sqlDB.Close() })
	return pg.NewFromGorm(db, db)
}

func seedDeliveryman(t *testing.T, db *pg.DB, name string) *DeliverymanEntity {
	e := &DeliverymanEntity{Name: name, Email: uuid.NewString() + "@courier.test"}
	require.NoError(t, db.Write(context.Background()).Create(e).Error)
	return e
}

func seedRecipient(t *testing.T, db *pg.DB, name string) *RecipientEntity {
	e := &RecipientEntity{
		Name:       name,
		Street:     "Rua das Flores",
		Number:     "42",
		Complement: "apto 3",
		State:      "SP",
		City:       "Sao Paulo",
		ZipCode:    "01000-000",
	}
	require.NoError(t, db.Write(context.Background()).Create(e).Error)
	return e
}

func seedDelivery(t *testing.T, db *pg.DB, deliverymanID, recipientID int64, start, end, canceled *time.Time) *DeliveryEntity {
	e := &DeliveryEntity{
		DeliverymanID: deliverymanID,
		RecipientID:   recipientID,
		Product:       "box",
		StartDate:     start,
		EndDate:       end,
		CanceledAt:    canceled,
	}
	require.NoError(t, db.Write(context.Background()).Omit("Deliveryman", "Recipient", "Signature", "Problems").Create(e).Error)
	return e
}

func ptr[T any](v T) *T {
	return &v
}
