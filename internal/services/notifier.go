package services

import (
	"context"
	"time"

	"github.com/nimasrn/courier-dispatch/internal/model"
	"github.com/nimasrn/courier-dispatch/pkg/logger"
	"github.com/nimasrn/courier-dispatch/pkg/prom"
)

const defaultEnqueueTimeout = 3 * time.Second

type JobProducer interface {
	Enqueue(ctx context.Context, kind model.JobKind, payload interface{}) (string, error)
}

// QueueNotifier publishes NotifyDeliverymanMail jobs. Failures are logged
// and counted, never returned.
type QueueNotifier struct {
	producer JobProducer
	timeout  time.Duration
}

func NewQueueNotifier(producer JobProducer) *QueueNotifier {
	return &QueueNotifier{producer: producer, timeout: defaultEnqueueTimeout}
}

func (n *QueueNotifier) NotifyDeliveryman(ctx context.Context, d *model.Delivery) {
	payload := model.NewNotifyDeliverymanPayload(d)

	// the write has committed; a canceled request must not drop the job
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	kind := model.JobNotifyDeliverymanMail
	jobID, err := n.producer.Enqueue(ctx, kind, payload)
	if err != nil {
		prom.NotificationEnqueued(string(kind), "failed")
		logger.Error("failed to enqueue notification", "job_key", kind, "delivery_id", d.ID, "error", err)
		return
	}

	prom.NotificationEnqueued(string(kind), "ok")
	logger.Debug("notification enqueued", "job_key", kind, "job_id", jobID, "delivery_id", d.ID)
}
