package repository

import (
	"time"

	"github.com/nimasrn/courier-dispatch/internal/model"
)

type DeliverymanEntity struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;column:id"`
	Name      string    `gorm:"column:name;not null"`
	Email     string    `gorm:"column:email;not null;uniqueIndex"`
	AvatarID  *int64    `gorm:"column:avatar_id"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (DeliverymanEntity) TableName() string {
	return "deliverymen"
}

type RecipientEntity struct {
	ID         int64     `gorm:"primaryKey;autoIncrement;column:id"`
	Name       string    `gorm:"column:name;not null"`
	Street     string    `gorm:"column:street;not null"`
	Number     string    `gorm:"column:number;not null"`
	Complement string    `gorm:"column:complement"`
	State      string    `gorm:"column:state;not null"`
	City       string    `gorm:"column:city;not null"`
	ZipCode    string    `gorm:"column:zip_code;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (RecipientEntity) TableName() string {
	return "recipients"
}

func toDeliverymanModel(e *DeliverymanEntity) *model.Deliveryman {
	if e == nil {
		return nil
	}
	return &model.Deliveryman{
		ID:        e.ID,
		Name:      e.Name,
		Email:     e.Email,
		AvatarID:  e.AvatarID,
		CreatedAt: e.CreatedAt,
	}
}

func toRecipientModel(e *RecipientEntity) *model.Recipient {
	if e == nil {
		return nil
	}
	return &model.Recipient{
		ID:         e.ID,
		Name:       e.Name,
		Street:     e.Street,
		Number:     e.Number,
		Complement: e.Complement,
		State:      e.State,
		City:       e.City,
		ZipCode:    e.ZipCode,
		CreatedAt:  e.CreatedAt,
	}
}
