// Package config decodes the binary PortConfig blob produced by a
// configurator tool into a PortConfig a dpm.Port can be built from.
package config

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/usbpdgo/pdstack/pdmsg"
	"github.com/usbpdgo/pdstack/tcfsm"
)

// ErrBadSignature is returned by Decode when the blob doesn't start with the
// expected 'P','D','S','C' magic.
var ErrBadSignature = errors.New("config: bad signature")

const (
	maxSrcPdos    = 7
	maxSnkPdos    = 7
	maxEPRSrcPdos = 6
	maxEPRSnkPdos = 6
)

// rawConfig mirrors the exact little-endian wire layout of the
// configuration blob: fixed-size fields only, decoded in one binary.Read.
type rawConfig struct {
	Signature           [4]byte
	Version             uint16 // 8.8 fixed point
	MfgInfoLen          uint8
	PDRevision          uint8 // pdmsg.Revision wire value (0=1.0 .. 4=3.2)
	VID                 uint16
	PID                 uint16
	MfgName             [22]byte
	ExtSrcCapEnable     uint8
	ExtSnkCapEnable     uint8
	ExtSrcCap           [25]byte
	ExtSnkCap           [25]byte
	PortRole            uint8 // 0 sink, 1 source, 2 DRP
	DefaultRole         uint8
	RpCurrentLevel      uint8 // 0=900mA, 1=1.5A, 2=3A
	CableDiscoveryCount uint8
	SrcPdoFlags         uint16
	SnkPdoFlags         uint16
	Flags               uint16 // see flag bit constants below
	SrcPdoCount         uint8
	SrcPdoMask          uint8
	SnkPdoCount         uint8
	SnkPdoMask          uint8
	SrcPdo              [maxSrcPdos]uint32
	SnkPdo              [maxSnkPdos]uint32
	SnkMinMax           [maxSnkPdos]uint16 // high bit = give-back, low 10 bits = value
	Reserved1           [2]byte
	GetRevisionResponse uint32
	GetSourceInfoResp   uint32
	EPRSrcPdoCount      uint8
	EPRSrcPdoMask       uint8
	EPRSnkPdoCount      uint8
	EPRSnkPdoMask       uint8
	EPRSrcPdo           [maxEPRSrcPdos]uint32
	EPRSnkPdo           [maxEPRSnkPdos]uint32
}

// Flags bit positions within rawConfig.Flags. The blob layout in the
// configurator tool's documentation groups these as "boolean fields"
// without naming bit positions; this packing is this module's own choice,
// recorded as an Open Question resolution.
const (
	flagDRPToggleEnable   = 1 << 0
	flagRpSupportedMask   = 0x7 << 1 // 3 bits: which of 900mA/1.5A/3A this port can advertise
	flagPDOpEnable        = 1 << 4
	flagTrySrcEnable      = 1 << 5
	flagTrySnkEnable      = 1 << 6
	flagPortDisable       = 1 << 7
	flagCableDiscEnable   = 1 << 8
	flagDeadBatterySupport = 1 << 9
	flagErrorRecovery     = 1 << 10
	flagAccessoryEnable   = 1 << 11
	flagRpDetachEnable    = 1 << 12
	flagVConnRetain       = 1 << 13
	flagFRSConfigMask     = 0x3 << 14 // 2 bits
)

// SinkMinMax is one entry of the sink's min/max current table: a give-back
// capable current floor paired with the PDO's advertised ceiling.
type SinkMinMax struct {
	GiveBack bool
	Value    uint16 // 10-bit, same units as PDO current fields (10 mA)
}

// PortConfig is the decoded, clamped, in-memory form of the configuration
// blob: everything dpm.NewPort needs to build a port's static identity.
type PortConfig struct {
	VersionMajor, VersionMinor uint8
	VID, PID                   uint16
	MfgName                    string

	ExtSrcCapEnable bool
	ExtSnkCapEnable bool
	ExtSrcCap       [25]byte
	ExtSnkCap       [25]byte

	Role                tcfsm.Role
	DRP                 bool
	DefaultRole         tcfsm.Role
	RpCurrentLevel      tcfsm.Current
	CableDiscoveryCount int
	Revision            pdmsg.Revision

	DRPToggleEnable     bool
	RpSupportedMask      uint8
	PDEnable             bool
	TrySrcEnable         bool
	TrySnkEnable         bool
	PortDisable          bool
	CableDiscoveryEnable bool
	DeadBatterySupport   bool
	ErrorRecoveryEnable  bool
	AccessoryEnable      bool
	RpDetachEnable       bool
	VConnRetain          bool
	FRSConfig            uint8

	SrcPDOs []pdmsg.PDO
	SnkPDOs []pdmsg.PDO
	SnkMinMax []SinkMinMax

	GetRevisionResponse   uint32
	GetSourceInfoResponse uint32

	EPRSrcPDOs []pdmsg.PDO
	EPRSnkPDOs []pdmsg.PDO
}

// Decode reads a configuration blob from r, validates its signature, and
// clamps every count field to the data model's invariants (srcPdoCount/
// snkPdoCount <= 7, EPR counts <= 6) before returning a usable PortConfig.
func Decode(r io.Reader) (*PortConfig, error) {
	var raw rawConfig
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return nil, fmt.Errorf("config: read blob: %w", err)
	}
	if !bytes.Equal(raw.Signature[:], []byte{'P', 'D', 'S', 'C'}) {
		return nil, ErrBadSignature
	}

	cfg := &PortConfig{
		VersionMajor: uint8(raw.Version >> 8),
		VersionMinor: uint8(raw.Version & 0xff),
		VID:          raw.VID,
		PID:          raw.PID,
		MfgName:      nullTerminated(raw.MfgName[:]),

		ExtSrcCapEnable: raw.ExtSrcCapEnable != 0,
		ExtSnkCapEnable: raw.ExtSnkCapEnable != 0,
		ExtSrcCap:       raw.ExtSrcCap,
		ExtSnkCap:       raw.ExtSnkCap,

		Role:                portRole(raw.PortRole),
		DRP:                 raw.PortRole == 2,
		DefaultRole:         portRole(raw.DefaultRole),
		RpCurrentLevel:      tcfsm.Current(clamp(raw.RpCurrentLevel, 2)),
		CableDiscoveryCount: int(raw.CableDiscoveryCount),
		Revision:            pdmsg.Revision(clamp(raw.PDRevision, int(pdmsg.Revision32))),

		DRPToggleEnable:      raw.Flags&flagDRPToggleEnable != 0,
		RpSupportedMask:      uint8((raw.Flags & flagRpSupportedMask) >> 1),
		PDEnable:             raw.Flags&flagPDOpEnable != 0,
		TrySrcEnable:         raw.Flags&flagTrySrcEnable != 0,
		TrySnkEnable:         raw.Flags&flagTrySnkEnable != 0,
		PortDisable:          raw.Flags&flagPortDisable != 0,
		CableDiscoveryEnable: raw.Flags&flagCableDiscEnable != 0,
		DeadBatterySupport:   raw.Flags&flagDeadBatterySupport != 0,
		ErrorRecoveryEnable:  raw.Flags&flagErrorRecovery != 0,
		AccessoryEnable:      raw.Flags&flagAccessoryEnable != 0,
		RpDetachEnable:       raw.Flags&flagRpDetachEnable != 0,
		VConnRetain:          raw.Flags&flagVConnRetain != 0,
		FRSConfig:            uint8((raw.Flags & flagFRSConfigMask) >> 14),

		GetRevisionResponse:   raw.GetRevisionResponse,
		GetSourceInfoResponse: raw.GetSourceInfoResp,
	}

	srcCount := clamp(raw.SrcPdoCount, maxSrcPdos)
	cfg.SrcPDOs = make([]pdmsg.PDO, srcCount)
	for i := range cfg.SrcPDOs {
		cfg.SrcPDOs[i] = pdmsg.PDO(raw.SrcPdo[i])
	}

	snkCount := clamp(raw.SnkPdoCount, maxSnkPdos)
	cfg.SnkPDOs = make([]pdmsg.PDO, snkCount)
	cfg.SnkMinMax = make([]SinkMinMax, snkCount)
	for i := range cfg.SnkPDOs {
		cfg.SnkPDOs[i] = pdmsg.PDO(raw.SnkPdo[i])
		cfg.SnkMinMax[i] = SinkMinMax{
			GiveBack: raw.SnkMinMax[i]&0x8000 != 0,
			Value:    raw.SnkMinMax[i] & 0x03ff,
		}
	}

	eprSrcCount := clamp(raw.EPRSrcPdoCount, maxEPRSrcPdos)
	cfg.EPRSrcPDOs = make([]pdmsg.PDO, eprSrcCount)
	for i := range cfg.EPRSrcPDOs {
		cfg.EPRSrcPDOs[i] = pdmsg.PDO(raw.EPRSrcPdo[i])
	}

	eprSnkCount := clamp(raw.EPRSnkPdoCount, maxEPRSnkPdos)
	cfg.EPRSnkPDOs = make([]pdmsg.PDO, eprSnkCount)
	for i := range cfg.EPRSnkPDOs {
		cfg.EPRSnkPDOs[i] = pdmsg.PDO(raw.EPRSnkPdo[i])
	}

	return cfg, nil
}

func portRole(b uint8) tcfsm.Role {
	if b == 1 {
		return tcfsm.RoleSource
	}
	return tcfsm.RoleSink
}

func clamp(v uint8, max int) int {
	n := int(v)
	if n > max {
		return max
	}
	return n
}

func nullTerminated(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
