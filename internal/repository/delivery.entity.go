package repository

import (
	"strings"
	"time"

	"github.com/nimasrn/courier-dispatch/internal/model"
)

type DeliveryEntity struct {
	ID            int64                   `gorm:"primaryKey;autoIncrement;column:id"`
	RecipientID   int64                   `gorm:"column:recipient_id;not null;index"`
	Recipient     *RecipientEntity        `gorm:"foreignKey:RecipientID;references:ID"`
	DeliverymanID int64                   `gorm:"column:deliveryman_id;not null;index"`
	Deliveryman   *DeliverymanEntity      `gorm:"foreignKey:DeliverymanID;references:ID"`
	SignatureID   *int64                  `gorm:"column:signature_id"`
	Signature     *FileEntity             `gorm:"foreignKey:SignatureID;references:ID"`
	Product       string                  `gorm:"column:product;not null"`
	StartDate     *time.Time              `gorm:"column:start_date"`
	EndDate       *time.Time              `gorm:"column:end_date"`
	CanceledAt    *time.Time              `gorm:"column:canceled_at"`
	Problems      []DeliveryProblemEntity `gorm:"foreignKey:DeliveryID;references:ID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (DeliveryEntity) TableName() string {
	return "deliveries"
}

type DeliveryProblemEntity struct {
	ID          int64     `gorm:"primaryKey;autoIncrement;column:id"`
	DeliveryID  int64     `gorm:"column:delivery_id;not null;index"`
	Description string    `gorm:"column:description;type:text;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (DeliveryProblemEntity) TableName() string {
	return "delivery_problems"
}

type FileEntity struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;column:id"`
	Name      string    `gorm:"column:name;not null"`
	Path      string    `gorm:"column:path;not null;unique"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (FileEntity) TableName() string {
	return "files"
}

func toDeliveryEntity(m *model.Delivery) *DeliveryEntity {
	if m == nil {
		return nil
	}
	return &DeliveryEntity{
		ID:            m.ID,
		RecipientID:   m.RecipientID,
		DeliverymanID: m.DeliverymanID,
		SignatureID:   m.SignatureID,
		Product:       m.Product,
		StartDate:     m.StartDate,
		EndDate:       m.EndDate,
		CanceledAt:    m.CanceledAt,
	}
}

// toDeliveryModel maps e and whatever associations were preloaded on it.
func toDeliveryModel(e *DeliveryEntity, filesBaseURL string) *model.Delivery {
	if e == nil {
		return nil
	}
	m := &model.Delivery{
		ID:            e.ID,
		RecipientID:   e.RecipientID,
		DeliverymanID: e.DeliverymanID,
		SignatureID:   e.SignatureID,
		Product:       e.Product,
		StartDate:     e.StartDate,
		EndDate:       e.EndDate,
		CanceledAt:    e.CanceledAt,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
		Problems:      make([]model.ProblemSummary, 0, len(e.Problems)),
	}
	if e.Deliveryman != nil {
		m.Deliveryman = &model.DeliverymanInfo{Name: e.Deliveryman.Name, Email: e.Deliveryman.Email}
	}
	if e.Recipient != nil {
		m.Recipient = &model.RecipientAddress{
			Name:       e.Recipient.Name,
			Street:     e.Recipient.Street,
			Number:     e.Recipient.Number,
			Complement: e.Recipient.Complement,
		}
	}
	if e.Signature != nil {
		m.Signature = &model.SignatureFile{
			Path: e.Signature.Path,
			URL:  strings.TrimRight(filesBaseURL, "/") + "/files/" + e.Signature.Path,
		}
	}
	for _, p := range e.Problems {
		m.Problems = append(m.Problems, model.ProblemSummary{ID: p.ID, Description: p.Description})
	}
	return m
}

func toDeliveryModels(entities []*DeliveryEntity, filesBaseURL string) []*model.Delivery {
	models := make([]*model.Delivery, len(entities))
	for i, e := range entities {
		models[i] = toDeliveryModel(e, filesBaseURL)
	}
	return models
}

func toProblemModel(e *DeliveryProblemEntity) *model.DeliveryProblem {
	if e == nil {
		return nil
	}
	return &model.DeliveryProblem{
		ID:          e.ID,
		DeliveryID:  e.DeliveryID,
		Description: e.Description,
		CreatedAt:   e.CreatedAt,
	}
}

func toProblemModels(entities []*DeliveryProblemEntity) []*model.DeliveryProblem {
	models := make([]*model.DeliveryProblem, len(entities))
	for i, e := range entities {
		models[i] = toProblemModel(e)
	}
	return models
}
