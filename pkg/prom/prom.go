package prom

import (
	"errors"
	"fmt"
	"sync"

	xhttp "github.com/nimasrn/courier-dispatch/pkg/http"
	"github.com/nimasrn/courier-dispatch/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	SystemDeliveries    = "delivery"
	SystemNotifications = "notification"
)

const (
	MetricDeliveryTransitions     = "transitions_total"
	MetricDeliveryRejections      = "rejections_total"
	MetricNotificationEnqueued    = "enqueued_total"
	MetricNotificationProcessed   = "processed_total"
	MetricNotificationDuration    = "processing_duration_seconds"
	MetricNotificationDeadLetters = "dead_letters_total"
	MetricNotificationLost        = "lost_total"
	MetricNotificationQueueLength = "queue_length"
)

const (
	TypeCounter      = "counter"
	TypeCounterVec   = "counterVec"
	TypeHistogramVec = "histogramVec"
	TypeGaugeVec     = "gaugeVec"
)

var lockCreateMetricLock = &sync.RWMutex{}
var namespace = "none"

var MetricSystemEnabled = false

var MetricCollectionCounters = make(map[string]prometheus.Counter)
var MetricCollectionCounterVec = make(map[string]*prometheus.CounterVec)
var MetricCollectionGaugeVec = make(map[string]*prometheus.GaugeVec)
var MetricCollectionHistogramVec = make(map[string]*prometheus.HistogramVec)

var defaultLabels prometheus.Labels

// Create registers the application metrics on the default registry.
// Calling it twice is harmless.
func Create(host string, env string, nameSpace string) error {
	defaultLabels = prometheus.Labels{"env": env, "instance": host}
	namespace = nameSpace
	MetricSystemEnabled = true

	return errors.Join(
		createCounterVec(SystemDeliveries, MetricDeliveryTransitions, []string{"transition"}),
		createCounterVec(SystemDeliveries, MetricDeliveryRejections, []string{"reason"}),
		createCounterVec(SystemNotifications, MetricNotificationEnqueued, []string{"job", "status"}),
		createCounterVec(SystemNotifications, MetricNotificationProcessed, []string{"job", "status"}),
		createHistogramVec(SystemNotifications, MetricNotificationDuration, []string{"job"}),
		createCounter(SystemNotifications, MetricNotificationDeadLetters),
		createCounter(SystemNotifications, MetricNotificationLost),
		createGaugeVec(SystemNotifications, MetricNotificationQueueLength, []string{"stream"}),
	)
}

func CreateMetric(metricType, metricSubsystem, metricName string, labelsValues ...string) error {
	switch metricType {
	case TypeCounter:
		return createCounter(metricSubsystem, metricName)
	case TypeCounterVec:
		return createCounterVec(metricSubsystem, metricName, labelsValues)
	case TypeHistogramVec:
		return createHistogramVec(metricSubsystem, metricName, labelsValues)
	case TypeGaugeVec:
		return createGaugeVec(metricSubsystem, metricName, labelsValues)
	}
	return fmt.Errorf("metric type %s is not defined", metricType)
}

func ListenAndServer(addr string, url string) {
	hh := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	s := xhttp.CreateServer()
	s.GET(url, hh)
	logger.Info("[metrics-server] listening...", "addr", addr, "url", url)
	if err := s.ListenAndServe(addr); err != nil {
		logger.Error("[metrics-server] http listen error", "error", err)
	}
}

// register keeps the already registered collector when the same metric
// is created twice.
func register(c prometheus.Collector) (prometheus.Collector, error) {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector, nil
		}
		return nil, err
	}
	return c, nil
}

func createCounter(subsystem, name string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	c, err := register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
	}))
	if err != nil {
		return err
	}
	MetricCollectionCounters[subsystem+name] = c.(prometheus.Counter)
	return nil
}

func createCounterVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	c, err := register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
	}, labels))
	if err != nil {
		return err
	}
	MetricCollectionCounterVec[subsystem+name] = c.(*prometheus.CounterVec)
	return nil
}

func createHistogramVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	c, err := register(prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
		Buckets:     prometheus.DefBuckets,
	}, labels))
	if err != nil {
		return err
	}
	MetricCollectionHistogramVec[subsystem+name] = c.(*prometheus.HistogramVec)
	return nil
}

func createGaugeVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	c, err := register(prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
	}, labels))
	if err != nil {
		return err
	}
	MetricCollectionGaugeVec[subsystem+name] = c.(*prometheus.GaugeVec)
	return nil
}

func IncCounter(subsystem, name string) {
	if !MetricSystemEnabled {
		return
	}
	lockCreateMetricLock.RLock()
	v, ok := MetricCollectionCounters[subsystem+name]
	lockCreateMetricLock.RUnlock()
	if ok {
		v.Inc()
		return
	}
	logger.Warn("[metrics-server] counter not found", "subsystem", subsystem, "name", name)
}

func IncCounterVec(subsystem, name string, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	lockCreateMetricLock.RLock()
	v, ok := MetricCollectionCounterVec[subsystem+name]
	lockCreateMetricLock.RUnlock()
	if ok {
		v.WithLabelValues(labelValues...).Inc()
		return
	}
	logger.Warn("[metrics-server] counter vec not found", "subsystem", subsystem, "name", name)
}

func SetGaugeVec(subsystem, name string, num float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	lockCreateMetricLock.RLock()
	v, ok := MetricCollectionGaugeVec[subsystem+name]
	lockCreateMetricLock.RUnlock()
	if ok {
		v.WithLabelValues(labelValues...).Set(num)
		return
	}
	logger.Warn("[metrics-server] gauge not found", "subsystem", subsystem, "name", name)
}

func AddHistogramVec(subsystem, name string, number float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	lockCreateMetricLock.RLock()
	v, ok := MetricCollectionHistogramVec[subsystem+name]
	lockCreateMetricLock.RUnlock()
	if ok {
		v.WithLabelValues(labelValues...).Observe(number)
		return
	}
	logger.Warn("[metrics-server] histogram vec not found", "subsystem", subsystem, "name", name)
}

// Domain helpers

func DeliveryTransition(transition string) {
	IncCounterVec(SystemDeliveries, MetricDeliveryTransitions, transition)
}

func DeliveryRejected(reason string) {
	IncCounterVec(SystemDeliveries, MetricDeliveryRejections, reason)
}

func NotificationEnqueued(job, status string) {
	IncCounterVec(SystemNotifications, MetricNotificationEnqueued, job, status)
}

func NotificationProcessed(job, status string, seconds float64) {
	IncCounterVec(SystemNotifications, MetricNotificationProcessed, job, status)
	AddHistogramVec(SystemNotifications, MetricNotificationDuration, seconds, job)
}

func NotificationDeadLettered() {
	IncCounter(SystemNotifications, MetricNotificationDeadLetters)
}

// NotificationLost counts pending jobs whose stream entry vanished.
func NotificationLost() {
	IncCounter(SystemNotifications, MetricNotificationLost)
}

func QueueLength(stream string, length int64) {
	SetGaugeVec(SystemNotifications, MetricNotificationQueueLength, float64(length), stream)
}
