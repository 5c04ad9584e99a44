package pdmsg

import "testing"

func TestFixedSupplyPDOVoltageAndCurrentRounding(t *testing.T) {
	var o FixedSupplyPDO
	o.SetVoltage(5000)
	o.SetMaxCurrent(3000)
	if v := o.Voltage(); v != 5000 {
		t.Errorf("Voltage() = %d, want 5000", v)
	}
	if c := o.MaxCurrent(); c != 3000 {
		t.Errorf("MaxCurrent() = %d, want 3000", c)
	}
}

func TestFixedSupplyPDOFlags(t *testing.T) {
	o := FixedSupplyPDO(1<<23 | 1<<25 | 1<<26 | 1<<27)
	if !o.EPRModeCapable() {
		t.Error("EPRModeCapable() = false, want true")
	}
	if !o.DualRoleData() {
		t.Error("DualRoleData() = false, want true")
	}
	if !o.USBCommCapable() {
		t.Error("USBCommCapable() = false, want true")
	}
	if !o.UnconstrainedPower() {
		t.Error("UnconstrainedPower() = false, want true")
	}
}

func TestPDOTypeDiscriminatesAugmented(t *testing.T) {
	fixed := PDO(0) // bits 31:30 = 00
	if fixed.Type() != PDOTypeFixedSupply {
		t.Errorf("fixed PDO Type() = %v, want PDOTypeFixedSupply", fixed.Type())
	}

	pps := PDO(0b11 << 30) // augmented, subtype bits 29:28 = 00 -> PPS
	if pps.Type() != PDOTypePPS {
		t.Errorf("PPS PDO Type() = %v, want PDOTypePPS", pps.Type())
	}

	avs := PDO(0b11<<30 | 0b01<<28) // augmented, subtype 01 -> AVS
	if avs.Type() != PDOTypeAVS {
		t.Errorf("AVS PDO Type() = %v, want PDOTypeAVS", avs.Type())
	}

	eprAVS := PDO(0b11<<30 | 0b10<<28) // augmented, subtype 10 -> EPR AVS
	if eprAVS.Type() != PDOTypeEPRAVS {
		t.Errorf("EPR AVS PDO Type() = %v, want PDOTypeEPRAVS", eprAVS.Type())
	}
}

func TestPPSPDOVoltageCurrentRoundTrip(t *testing.T) {
	o := NewPPSPDO()
	o.SetMinVoltage(3300)
	o.SetMaxVoltage(11000)
	o.SetMaxCurrent(3000)
	if v := o.MinVoltage(); v != 3300 {
		t.Errorf("MinVoltage() = %d, want 3300", v)
	}
	if v := o.MaxVoltage(); v != 11000 {
		t.Errorf("MaxVoltage() = %d, want 11000", v)
	}
	if c := o.MaxCurrent(); c != 3000 {
		t.Errorf("MaxCurrent() = %d, want 3000", c)
	}
	if o.IsPowerLimited() {
		t.Error("IsPowerLimited() = true on a freshly built PDO, want false")
	}
}

func TestPPSPDOIsPowerLimited(t *testing.T) {
	o := NewPPSPDO() | PPSPDO(1<<27)
	if !o.IsPowerLimited() {
		t.Error("IsPowerLimited() = false, want true")
	}
}

func TestEPRAVSPDOFields(t *testing.T) {
	o := EPRAVSPDO(0)
	o |= EPRAVSPDO(150) << 20 // 15000mV
	o |= EPRAVSPDO(100) << 10 // 100W
	o |= EPRAVSPDO(2) << 8    // peak current code 2

	if v := o.MaxVoltage(); v != 15000 {
		t.Errorf("MaxVoltage() = %d, want 15000", v)
	}
	if p := o.PDP(); p != 100 {
		t.Errorf("PDP() = %d, want 100", p)
	}
	if c := o.PeakCurrent(); c != 2 {
		t.Errorf("PeakCurrent() = %d, want 2", c)
	}
}
