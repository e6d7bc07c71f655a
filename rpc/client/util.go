package client

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("client")
)

var (
	// ErrSenderClosed is returned by Send after Close was called
	ErrSenderClosed = errors.New("sender closed")

	// ErrInvalidMessageType is returned by Send for message types above common.MaxMessageType
	ErrInvalidMessageType = errors.New("invalid message type")
)

// AvailabilityState is the health of a sender as reported to callers
type AvailabilityState uint8

const (
	Operational AvailabilityState = iota
	Failed
)

// String returns the string representation of an AvailabilityState.
func (a AvailabilityState) String() string {
	switch a {
	case Operational:
		return "OPERATIONAL"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// deliveryCounter returns the process wide counter of send outcomes for a type
func deliveryCounter(messageType uint8, status common.DeliveryStatus) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`dmsg_client_messages_total{type="%d",status="%s"}`, messageType, status))
}
