package tcfsm

import (
	"time"

	"github.com/usbpdgo/pdstack/pdtimer"
)

// Type-C connection timing constants.
const (
	tCCDebounce    = 140 * time.Millisecond
	tPDDebounce    = 11 * time.Millisecond
	tRdDebounce    = 12 * time.Millisecond
	tSrcDisconnect = 2 * time.Millisecond
	tDRPToggle     = 75 * time.Millisecond
	tDRPTry        = 110 * time.Millisecond
	tTryTimeout    = 800 * time.Millisecond
	tErrorRecovery = 250 * time.Millisecond
)

// Timer ID offset within the band rooted at a Port's timerBase. A Port only
// ever has one timer running at a time, so a single slot suffices.
const offState pdtimer.TimerID = 0

