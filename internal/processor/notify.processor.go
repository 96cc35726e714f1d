package processor

import (
	"context"
	"fmt"

	gateway "github.com/nimasrn/courier-dispatch/internal/gateways"
	"github.com/nimasrn/courier-dispatch/internal/model"
	"github.com/nimasrn/courier-dispatch/internal/queue"
	"github.com/nimasrn/courier-dispatch/pkg/logger"
)

// Mailer is the mail transport.
type Mailer interface {
	Send(ctx context.Context, mail model.Mail) error
}

type NotifyDeliverymanMailProcessor struct {
	mailer   Mailer
	renderer *Renderer
}

func NewNotifyDeliverymanMailProcessor(mailer Mailer, renderer *Renderer) *NotifyDeliverymanMailProcessor {
	if renderer == nil {
		renderer = NewRenderer(nil)
	}
	return &NotifyDeliverymanMailProcessor{mailer: mailer, renderer: renderer}
}

func (p *NotifyDeliverymanMailProcessor) GetType() model.JobKind {
	return model.JobNotifyDeliverymanMail
}

// Process renders and sends the mail. Any error leaves the job for a retry.
func (p *NotifyDeliverymanMailProcessor) Process(ctx context.Context, job *queue.Job) error {
	var payload model.NotifyDeliverymanPayload
	if err := job.Unmarshal(&payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	mail, err := p.renderer.Render(payload)
	if err != nil {
		return fmt.Errorf("render mail: %w", err)
	}

	if err := p.mailer.Send(gateway.WithMailID(ctx, job.JobID), mail); err != nil {
		return err
	}

	logger.Info("deliveryman notified", "job_id", job.JobID, "to", mail.To, "attempt", job.Attempt)
	return nil
}
