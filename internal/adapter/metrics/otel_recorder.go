package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/flashmart/flash-sale/internal/core/domain"
)

// OTelRecorder publishes pipeline observations through the OpenTelemetry
// metric API. With no SDK installed the global meter provider is a no-op, so
// recording is always safe and never blocks the pipeline.
type OTelRecorder struct {
	orders     metric.Int64Counter
	stock      metric.Int64Gauge
	processing metric.Float64Histogram
}

func NewOTelRecorder(meter metric.Meter, logger *zap.Logger) (*OTelRecorder, error) {
	orders, err := meter.Int64Counter("flashsale.orders",
		metric.WithDescription("Orders by terminal or transitional status"))
	if err != nil {
		return nil, err
	}
	stock, err := meter.Int64Gauge("flashsale.stock.level",
		metric.WithDescription("Current stock level per product"))
	if err != nil {
		return nil, err
	}
	processing, err := meter.Float64Histogram("flashsale.order.processing.duration",
		metric.WithDescription("Reservation job processing duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	logger.Info("metrics recorder initialized")
	return &OTelRecorder{orders: orders, stock: stock, processing: processing}, nil
}

func (r *OTelRecorder) RecordOrderStatus(ctx context.Context, status domain.OrderStatus) {
	r.orders.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

func (r *OTelRecorder) RecordStockLevel(ctx context.Context, productID string, level int) {
	r.stock.Record(ctx, int64(level), metric.WithAttributes(attribute.String("product_id", productID)))
}

func (r *OTelRecorder) RecordProcessingTime(ctx context.Context, d time.Duration) {
	r.processing.Record(ctx, d.Seconds())
}

// Noop discards all observations; used in tests and as a default.
type Noop struct{}

func (Noop) RecordOrderStatus(context.Context, domain.OrderStatus) {}

func (Noop) RecordStockLevel(context.Context, string, int) {}

func (Noop) RecordProcessingTime(context.Context, time.Duration) {}
