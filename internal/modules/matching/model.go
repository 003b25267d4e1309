// README: Driver rejection tracking for re-offer exclusion.
package matching

import (
	"fmt"
	"time"

	"platter/internal/types"
)

const (
	rejectionKeyPrefix = "rejections:order:%s"
	// RejectionTTL bounds how long a driver stays excluded from an order.
	RejectionTTL = 24 * time.Hour
)

var ErrBadRequest = fmt.Errorf("matching: %w", types.ErrValidation)

func rejectionKey(orderID types.ID) string {
	return fmt.Sprintf(rejectionKeyPrefix, string(orderID))
}
