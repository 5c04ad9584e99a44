package pe

import "time"

// Policy engine timing constants (values as used by the sink branch this is
// grounded on; source-side equivalents and swap timers follow the same
// magnitudes used throughout the standard's sink implementation this module
// mirrors).
const (
	tPSTransition      = 550 * time.Millisecond
	tSinkPPSPeriodic   = 10 * time.Second
	tSinkRequest       = 100 * time.Millisecond
	tSinkWaitCap       = 620 * time.Millisecond
	tNoResponse        = 5 * time.Second
	tSrcCapTimer       = 150 * time.Millisecond
	tCblDscId          = 49 * time.Millisecond
	tEPRKeepAliveSnk   = 375 * time.Millisecond
	tEPRKeepAliveSrc   = 900 * time.Millisecond
	tDataReset         = 220 * time.Millisecond
	tDataResetComplete = 250 * time.Millisecond
)

// maxSourceCapRetries caps how many times a source resends Source_Capabilities
// to an unresponsive or non-PD partner before giving up and asking the DPM to
// fall back to a fixed 5V/Default-current offer via the non-PD pseudo-state.
const maxSourceCapRetries = 6

// maxHardResetRetries caps consecutive hard resets. On reaching it the engine
// stays in the hard-reset state and HardResetExceeded reports true until
// Reinit; the connection FSM is not driven into ErrorRecovery.
const maxHardResetRetries = 3

// cableDiscoveryCount is the default number of SOP' Discover_Identity
// attempts before giving up on cable discovery (overridable via
// config.PortConfig.CableDiscoveryCount).
const cableDiscoveryCount = 20
