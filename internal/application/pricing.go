package application

import (
	"github.com/example/coaching-marketplace/internal/persistence"
)

const (
	platformFeePercent    = 15
	processorFeePerMille  = 29
	processorFlatFeeCents = 30
)

// computePrice derives the money split for a client charge. The platform
// keeps 15% rounded down, the coach receives the remainder, and the
// processor estimate is 2.9% plus a flat 30 cents. The processor fee is
// informational and never subtracted from the payout.
func computePrice(clientChargeCents int64) persistence.PriceBreakdown {
	fee := clientChargeCents * platformFeePercent / 100
	return persistence.PriceBreakdown{
		ClientChargeCents: clientChargeCents,
		PlatformFeeCents:  fee,
		CoachPayoutCents:  clientChargeCents - fee,
		ProcessorFeeCents: clientChargeCents*processorFeePerMille/1000 + processorFlatFeeCents,
	}
}
