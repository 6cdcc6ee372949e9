package port

import (
	"context"
	"time"

	"github.com/flashmart/flash-sale/internal/core/domain"
)

// MetricsRecorder accepts fire-and-forget observations. Implementations must
// never block the caller on delivery and never influence correctness
// decisions; recorded values may briefly lag the authoritative state.
type MetricsRecorder interface {
	RecordOrderStatus(ctx context.Context, status domain.OrderStatus)
	RecordStockLevel(ctx context.Context, productID string, level int)
	RecordProcessingTime(ctx context.Context, d time.Duration)
}
