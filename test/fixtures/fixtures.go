package fixtures

import (
	"time"

	"github.com/nimasrn/courier-dispatch/internal/model"
)

var (
	// Monday inside business hours.
	MorningStart = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	// Same day, after closing.
	EveningStart = time.Date(2024, 3, 4, 19, 0, 0, 0, time.UTC)

	DeliverymanAna = model.CreateDeliverymanRequest{
		Name:  "Ana Souza",
		Email: "ana.souza@courier.test",
	}

	DeliverymanCaio = model.CreateDeliverymanRequest{
		Name:  "Caio Lima",
		Email: "caio.lima@courier.test",
	}

	RecipientBruno = model.CreateRecipientRequest{
		Name:       "Bruno Alves",
		Street:     "Rua Augusta",
		Number:     "1500",
		Complement: "Sala 12",
		State:      "SP",
		City:       "Sao Paulo",
		ZipCode:    "01304-001",
	}

	RecipientCarla = model.CreateRecipientRequest{
		Name:    "Carla Dias",
		Street:  "Av. Paulista",
		Number:  "900",
		State:   "SP",
		City:    "Sao Paulo",
		ZipCode: "01310-100",
	}
)
