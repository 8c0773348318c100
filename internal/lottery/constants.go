package lottery

import (
	"time"

	"github.com/temporanet/tempora/internal/temporatime"
)

const (
	// SlotsPerDraw is the number of ordered production slots one draw
	// awards: the primary winner plus nine backups.
	SlotsPerDraw = temporatime.SlotsPerSlice

	// GracePeriod is how long each slot holder has to publish a signed
	// slice before the next backup becomes eligible.
	GracePeriod = 30 * time.Second

	// AutomatedCapPercent and HumanCapPercent bound how many of the
	// awarded slots may go to each participant class within one
	// allocation. The caps hold simultaneously: a draw may resolve with
	// fewer than SlotsPerDraw filled slots when both classes run out of
	// headroom.
	AutomatedCapPercent = 80
	HumanCapPercent     = 20

	automatedSlotCap = SlotsPerDraw * AutomatedCapPercent / 100
	humanSlotCap     = SlotsPerDraw * HumanCapPercent / 100
)

const (
	seedPrefix   = "$seed"
	ticketPrefix = "$ticket"
)
