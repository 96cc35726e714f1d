package processor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nimasrn/courier-dispatch/internal/model"
)

const (
	NotifyDeliverymanSubject  = "Nova encomenda solicita pra você"
	NotifyDeliverymanTemplate = "notifyDeliveryman"
)

var ptBRMonths = [12]string{
	"janeiro", "fevereiro", "março", "abril", "maio", "junho",
	"julho", "agosto", "setembro", "outubro", "novembro", "dezembro",
}

// FormatDeliveryDate renders t as "dia DD de MONTH, às H:MMh".
func FormatDeliveryDate(t time.Time) string {
	return fmt.Sprintf("dia %02d de %s, às %d:%02dh", t.Day(), ptBRMonths[t.Month()-1], t.Hour(), t.Minute())
}

// AddressLine renders "{name} - {street}, {number} - {complement}". The
// complement part is left out when empty.
func AddressLine(r model.RecipientAddress) string {
	line := fmt.Sprintf("%s - %s, %s", r.Name, r.Street, r.Number)
	if c := strings.TrimSpace(r.Complement); c != "" {
		line += " - " + c
	}
	return line
}

// Renderer builds the deliveryman mail from a queued snapshot. A nil
// location keeps the offset the start date was stored with.
type Renderer struct {
	location *time.Location
}

func NewRenderer(location *time.Location) *Renderer {
	return &Renderer{location: location}
}

func (r *Renderer) Render(p model.NotifyDeliverymanPayload) (model.Mail, error) {
	d := p.Delivery
	if strings.TrimSpace(d.Deliveryman.Email) == "" {
		return model.Mail{}, errors.New("deliveryman email is missing")
	}

	date := ""
	if d.StartDate != "" {
		t, err := time.Parse(time.RFC3339, d.StartDate)
		if err != nil {
			return model.Mail{}, fmt.Errorf("invalid start date %q: %w", d.StartDate, err)
		}
		if r.location != nil {
			t = t.In(r.location)
		}
		date = FormatDeliveryDate(t)
	}

	return model.Mail{
		To:       fmt.Sprintf("%s <%s>", d.Deliveryman.Name, d.Deliveryman.Email),
		Subject:  NotifyDeliverymanSubject,
		Template: NotifyDeliverymanTemplate,
		Context: map[string]string{
			"deliveryman": d.Deliveryman.Name,
			"recipient":   AddressLine(d.Recipient),
			"product":     d.Product,
			"date":        date,
		},
	}, nil
}
