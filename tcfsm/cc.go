// Package tcfsm implements the USB Type-C connection state machine: CC-line
// attach/detach detection, Dual-Role-Power toggling, Try.SRC role
// contention (there is no Try.SNK), and accessory (audio/debug) detection. It owns the CC lines
// until a port attaches and hands control to the Policy Engine (see
// Port.Released).
package tcfsm

// CCState is the sensed termination on one CC line.
type CCState uint8

// Sensed CC termination states. A Source reads CCRa/CCRd/CCOpen on its
// partner's CC lines; a Sink reads CCOpen/CCRpDefault/CCRp1A5/CCRp3A0.
const (
	CCOpen CCState = iota
	CCRa
	CCRd
	CCRpDefault
	CCRp1A5
	CCRp3A0
)

// Current is the Rp pull-up current advertisement a Source can present.
type Current uint8

// Rp current advertisements.
const (
	CurrentDefault Current = iota
	Current1A5
	Current3A0
)

// Role identifies which side of the connection a port has settled into.
type Role uint8

// Connection roles reported in an attach Indication.
const (
	RoleSink Role = iota
	RoleSource
)

// Accessory identifies a non-PD accessory detected on attach.
type Accessory uint8

// Accessory kinds. AccessoryNone means a normal port partner attached.
const (
	AccessoryNone Accessory = iota
	AccessoryAudio
	AccessoryDebug
)

// CCSource is the board-level CC transceiver: reading sensed termination
// states and driving the port's own Rp/Rd/open presentation. Implementations
// talk to whatever comparator or port-controller IC is on the board; tcfsm
// never touches GPIO or I2C directly.
type CCSource interface {
	// Read returns the currently sensed termination on each CC line.
	Read() (cc1, cc2 CCState)

	// SetRp presents a Source termination at the given current on both CC
	// lines.
	SetRp(Current)

	// SetRd presents a Sink termination on both CC lines.
	SetRd()

	// SetOpen disconnects both CC lines (used during ErrorRecovery and
	// Disabled).
	SetOpen()
}
