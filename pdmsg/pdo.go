package pdmsg

// PDO is a generic Power Data Object. Based on its type, it should be
// converted to a specific PDO type to allow extracting its fields.
type PDO uint32

// Type returns the type of the power data object.
func (o PDO) Type() PDOType {
	h := (o >> 30) & 0b11
	if h == 0b11 {
		return PDOType((((o >> 28) & 0b11) << 3) | 0b100 | h)
	}
	return PDOType(h)
}

// PDOType represents the type of a power data object.
type PDOType uint8

// Power data object types. The APDO subtypes are pdstack-internal
// discriminants (the standard only defines bits 31:30 and requires reading
// bits 29:28 to tell PPS from AVS); they are never transmitted as-is.
const (
	PDOTypeFixedSupply    PDOType = 0b00
	PDOTypeBattery        PDOType = 0b01
	PDOTypeVariableSupply PDOType = 0b10
	PDOTypePPS            PDOType = 0b00111 // Augmented, subtype 00 (SPR PPS)
	PDOTypeAVS            PDOType = 0b01111 // Augmented, subtype 01 (SPR AVS)
	PDOTypeEPRAVS         PDOType = 0b10111 // Augmented, subtype 10 (EPR AVS)
)

// FixedSupplyPDO represents a Fixed Supply Power Data Object.
type FixedSupplyPDO uint32

// NewFixedSupplyPDO returns a new blank FixedSupplyPDO.
func NewFixedSupplyPDO() FixedSupplyPDO {
	return FixedSupplyPDO(0)
}

// Voltage returns voltage in millivolts.
func (o FixedSupplyPDO) Voltage() uint16 {
	return uint16(((o >> 10) & (1<<10 - 1)) * 50)
}

// SetVoltage sets the voltage in millivolts, truncated down to a multiple of
// 50mV.
func (o *FixedSupplyPDO) SetVoltage(v uint16) {
	*o = (*o & ^((FixedSupplyPDO(1)<<10 - 1) << 10)) | ((FixedSupplyPDO(v)/50)&(1<<10-1))<<10
}

// MaxCurrent returns maximum current in milliamps.
func (o FixedSupplyPDO) MaxCurrent() uint16 {
	return uint16((o & (1<<10 - 1)) * 10)
}

// SetMaxCurrent sets the maximum current in milliamps, truncated down to a
// multiple of 10mA.
func (o *FixedSupplyPDO) SetMaxCurrent(v uint16) {
	*o = (*o & ^(FixedSupplyPDO(1)<<10 - 1)) | (FixedSupplyPDO(v)/10)&(1<<10-1)
}

// DualRoleData returns true if the source of this PDO supports data swap.
func (o FixedSupplyPDO) DualRoleData() bool {
	return o&(1<<25) != 0
}

// USBCommCapable returns true if the source of this PDO is USB-communications
// capable.
func (o FixedSupplyPDO) USBCommCapable() bool {
	return o&(1<<26) != 0
}

// UnconstrainedPower returns true if the source of this PDO is
// externally/mains powered.
func (o FixedSupplyPDO) UnconstrainedPower() bool {
	return o&(1<<27) != 0
}

// EPRModeCapable returns true if the source of this PDO supports Extended
// Power Range mode.
func (o FixedSupplyPDO) EPRModeCapable() bool {
	return o&(1<<23) != 0
}

// VariablePDO represents a Variable Supply (non-battery, non-augmented)
// Power Data Object.
type VariablePDO uint32

// MinVoltage returns minimum voltage in millivolts.
func (o VariablePDO) MinVoltage() uint16 {
	return uint16(((o >> 10) & (1<<10 - 1)) * 50)
}

// MaxVoltage returns maximum voltage in millivolts.
func (o VariablePDO) MaxVoltage() uint16 {
	return uint16(((o >> 20) & (1<<10 - 1)) * 50)
}

// MaxCurrent returns maximum current in milliamps.
func (o VariablePDO) MaxCurrent() uint16 {
	return uint16((o & (1<<10 - 1)) * 10)
}

// BatteryPDO represents a Battery Supply Power Data Object.
type BatteryPDO uint32

// MinVoltage returns minimum voltage in millivolts.
func (o BatteryPDO) MinVoltage() uint16 {
	return uint16(((o >> 10) & (1<<10 - 1)) * 50)
}

// MaxVoltage returns maximum voltage in millivolts.
func (o BatteryPDO) MaxVoltage() uint16 {
	return uint16(((o >> 20) & (1<<10 - 1)) * 50)
}

// MaxPower returns maximum power in milliwatts.
func (o BatteryPDO) MaxPower() uint16 {
	return uint16((o & (1<<10 - 1)) * 250)
}

// PPSPDO represents a Programmable Power Supply Augmented Power Data Object
// (SPR PPS).
type PPSPDO uint32

// NewPPSPDO returns a new blank programmable power supply power data object.
func NewPPSPDO() PPSPDO {
	return PPSPDO(0b11) << 30
}

// IsPowerLimited returns true if the supply is current-limited below what
// MaxCurrent advertises under some conditions (e.g. thermal).
func (o PPSPDO) IsPowerLimited() bool {
	return o&(1<<27) != 0
}

// MinVoltage returns minimum voltage in millivolts.
func (o PPSPDO) MinVoltage() uint16 {
	return ((uint16(o) >> 8) & (uint16(1)<<8 - 1)) * 100
}

// SetMinVoltage sets the minimum voltage in millivolts. The voltage is
// truncated down to a multiple of 100mV.
func (o *PPSPDO) SetMinVoltage(v uint16) {
	*o = (*o & ^((PPSPDO(1)<<8 - 1) << 8)) | PPSPDO((v/100)&(1<<8-1))<<8
}

// MaxVoltage returns maximum voltage in millivolts.
func (o PPSPDO) MaxVoltage() uint16 {
	return (uint16(o>>17) & (uint16(1)<<8 - 1)) * 100
}

// SetMaxVoltage sets the maximum voltage in millivolts. The voltage is
// truncated down to a multiple of 100mV.
func (o *PPSPDO) SetMaxVoltage(v uint16) {
	*o = (*o & ^((PPSPDO(1)<<8 - 1) << 17)) | PPSPDO((v/100)&(1<<8-1))<<17
}

// MaxCurrent returns maximum current in milliamps.
func (o PPSPDO) MaxCurrent() uint16 {
	return (uint16(o) & (uint16(1)<<7 - 1)) * 50
}

// SetMaxCurrent sets the maximum current in milliamps. The current is
// truncated down to a multiple of 50mA.
func (o *PPSPDO) SetMaxCurrent(c uint16) {
	*o = (*o & ^(PPSPDO(1)<<8 - 1)) | PPSPDO((c/50)&(1<<7-1))
}

// AVSPDO represents an SPR Adjustable Voltage Supply Augmented Power Data
// Object. Current steps are ×4 relative to a normal fixed PDO's ×1 (10mA)
// unit.
type AVSPDO uint32

// MinVoltage returns minimum voltage in millivolts.
func (o AVSPDO) MinVoltage() uint16 {
	return ((uint16(o) >> 8) & (uint16(1)<<8 - 1)) * 100
}

// MaxVoltage returns maximum voltage in millivolts.
func (o AVSPDO) MaxVoltage() uint16 {
	return (uint16(o>>17) & (uint16(1)<<8 - 1)) * 100
}

// MaxCurrent returns maximum current in milliamps.
func (o AVSPDO) MaxCurrent() uint16 {
	return (uint16(o) & (uint16(1)<<7 - 1)) * 40 // ×4 of the fixed PDO 10mA base unit
}

// EPRAVSPDO represents an EPR Adjustable Voltage Supply Augmented Power Data
// Object. Its voltage step is a flat 1000mV ("EPR AVS small step").
type EPRAVSPDO uint32

// MaxVoltage returns maximum voltage in millivolts (100mV-resolution field,
// used for voltages up to 20V where the small 1000mV step does not yet
// apply).
func (o EPRAVSPDO) MaxVoltage() uint16 {
	return (uint16(o>>20) & (uint16(1)<<9 - 1)) * 100
}

// PDP returns the PD Power rating of this EPR AVS PDO, in watts.
func (o EPRAVSPDO) PDP() uint16 {
	return uint16(o>>10) & (1<<8 - 1)
}

// PeakCurrent returns the peak current overload capability code (0-3).
func (o EPRAVSPDO) PeakCurrent() uint8 {
	return uint8((o >> 8) & 0b11)
}
