package pe

import "github.com/usbpdgo/pdstack/pdmsg"

// SetCableDiscoveryCount overrides the number of SOP' Discover_Identity
// attempts DiscoverCable makes, e.g. from config.PortConfig.
// CableDiscoveryCount. A value of 0 restores the package default.
func (e *Engine) SetCableDiscoveryCount(n int) {
	e.cableDiscoveryAttempts = n
}

// DiscoverCable sends an SOP' Discover_Identity to the cable marker. A send
// that prl refuses is retried at once, up to cableDiscoveryCount times (or
// the count set by SetCableDiscoveryCount), with no delay between attempts;
// it returns after the first accepted send and neither waits for nor
// processes the cable's response. It is invoked by
// the DPM after Startup, independent of the SOP message exchange the rest
// of the engine drives -- cable discovery has its own request/response
// cadence and doesn't gate contract negotiation.
func (e *Engine) DiscoverCable() error {
	var m pdmsg.Message
	m.SetExtended(false)
	m.SetDataObjectCount(1)
	m.SetType(pdmsg.TypeVendorDefined)
	m.Data[0] = discoverIdentityVDMHeader()
	attempts := cableDiscoveryCount
	if e.cableDiscoveryAttempts > 0 {
		attempts = e.cableDiscoveryAttempts
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := e.prl.Send(pdmsg.SOPPrime, m); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// discoverIdentityVDMHeader builds the Discover_Identity VDM header: the
// Standard SVID, Structured VDM, Req command type, Discover_Identity
// command.
func discoverIdentityVDMHeader() uint32 {
	var h pdmsg.VDMHeader
	h.SetSVID(pdmsg.SVIDStandard)
	h.SetStructured(true)
	h.SetCommandType(pdmsg.VDMCommandTypeReq)
	h.SetCommand(pdmsg.VDMCommandDiscoverIdentity)
	return uint32(h)
}
