package tcfsm

// The state variables are initialized in init() to avoid circular
// references between states, the same structuring the Policy Engine uses
// for its own state table.
var (
	stateDisabled      *state
	stateErrorRecovery *state
	stateUnattachedSNK *state
	stateUnattachedSRC *state
	stateAttachWaitSNK *state
	stateAttachWaitSRC *state
	stateTrySRC        *state
	stateTryWaitSNK    *state
	stateAttachedSNK   *state
	stateAttachedSRC   *state
	stateAudioAccessory *state
	stateDebugAccessory *state
)

func init() {
	stateDisabled = &state{
		Name: "disabled",
		Enter: func(p *Port) *state {
			p.cc.SetOpen()
			return nil
		},
	}

	stateErrorRecovery = &state{
		Name: "error-recovery",
		Enter: func(p *Port) *state {
			p.cc.SetOpen()
			p.armTimer(tErrorRecovery)
			return nil
		},
		Process: func(p *Port, cc1, cc2 CCState, e Event) *state {
			if e == EventTimerTimeout {
				return p.initialState()
			}
			return nil
		},
	}

	stateUnattachedSNK = &state{
		Name: "unattached-snk",
		Enter: func(p *Port) *state {
			p.cc.SetRd()
			if p.drp {
				p.armTimer(tDRPToggle)
			}
			return nil
		},
		Process: func(p *Port, cc1, cc2 CCState, e Event) *state {
			if e == EventTimerTimeout {
				return stateUnattachedSRC // DRP toggle
			}
			if isRpPresent(cc1) || isRpPresent(cc2) {
				return stateAttachWaitSNK
			}
			return nil
		},
	}

	stateUnattachedSRC = &state{
		Name: "unattached-src",
		Enter: func(p *Port) *state {
			p.cc.SetRp(CurrentDefault)
			if p.drp {
				p.armTimer(tDRPToggle)
			}
			return nil
		},
		Process: func(p *Port, cc1, cc2 CCState, e Event) *state {
			if e == EventTimerTimeout {
				return stateUnattachedSNK // DRP toggle
			}
			if cc1 == CCRa && cc2 == CCRa {
				return stateAttachWaitSRC // candidate audio accessory
			}
			if cc1 == CCRd || cc2 == CCRd {
				return stateAttachWaitSRC
			}
			return nil
		},
	}

	stateAttachWaitSNK = &state{
		Name: "attach-wait-snk",
		Enter: func(p *Port) *state {
			p.candidateCC1, p.candidateCC2 = p.cc.Read()
			p.armTimer(tCCDebounce)
			return nil
		},
		Process: func(p *Port, cc1, cc2 CCState, e Event) *state {
			if cc1 != p.candidateCC1 || cc2 != p.candidateCC2 {
				p.candidateCC1, p.candidateCC2 = cc1, cc2
				p.armTimer(tCCDebounce)
				return nil
			}
			if e != EventTimerTimeout {
				return nil
			}
			if !isRpPresent(cc1) && !isRpPresent(cc2) {
				return stateUnattachedSNK
			}
			if p.tryEnabled && p.tryRole == RoleSource {
				return stateTrySRC
			}
			return stateAttachedSNK
		},
	}

	stateAttachWaitSRC = &state{
		Name: "attach-wait-src",
		Enter: func(p *Port) *state {
			p.candidateCC1, p.candidateCC2 = p.cc.Read()
			p.armTimer(tCCDebounce)
			return nil
		},
		Process: func(p *Port, cc1, cc2 CCState, e Event) *state {
			if cc1 != p.candidateCC1 || cc2 != p.candidateCC2 {
				p.candidateCC1, p.candidateCC2 = cc1, cc2
				p.armTimer(tCCDebounce)
				return nil
			}
			if e != EventTimerTimeout {
				return nil
			}
			switch {
			case cc1 == CCOpen && cc2 == CCOpen:
				return stateUnattachedSRC
			case cc1 == CCRa && cc2 == CCRa:
				return stateAudioAccessory
			case cc1 == CCRd && cc2 == CCRd:
				return stateDebugAccessory
			case cc1 == CCRd || cc2 == CCRd:
				return stateAttachedSRC
			default:
				return stateUnattachedSRC
			}
		},
	}

	stateTrySRC = &state{
		Name: "try-src",
		Enter: func(p *Port) *state {
			p.cc.SetRp(CurrentDefault)
			p.candidateCC1, p.candidateCC2 = p.cc.Read()
			p.armTimer(tDRPTry)
			return nil
		},
		Process: func(p *Port, cc1, cc2 CCState, e Event) *state {
			if cc1 == CCRd || cc2 == CCRd {
				return stateAttachedSRC
			}
			if e == EventTimerTimeout {
				return stateTryWaitSNK
			}
			return nil
		},
	}

	stateTryWaitSNK = &state{
		Name: "try-wait-snk",
		Enter: func(p *Port) *state {
			p.cc.SetRd()
			// No candidate yet: the first Rp reading taken with Rd presented
			// opens the tCCDebounce window.
			p.candidateCC1, p.candidateCC2 = CCOpen, CCOpen
			p.armTimer(tTryTimeout)
			return nil
		},
		Process: func(p *Port, cc1, cc2 CCState, e Event) *state {
			if isRpPresent(cc1) || isRpPresent(cc2) {
				if cc1 != p.candidateCC1 || cc2 != p.candidateCC2 {
					p.candidateCC1, p.candidateCC2 = cc1, cc2
					p.armTimer(tCCDebounce)
					return nil
				}
				if e == EventTimerTimeout {
					return stateAttachedSNK
				}
				return nil
			}
			if e == EventTimerTimeout {
				return stateUnattachedSNK
			}
			return nil
		},
	}

	stateAttachedSNK = &state{
		Name: "attached-snk",
		Enter: func(p *Port) *state {
			p.mu.Lock()
			p.role = RoleSink
			p.accessory = AccessoryNone
			p.released = true
			p.mu.Unlock()
			p.detachArmed = false
			p.post(Indication{Kind: IndAttached, Role: RoleSink})
			return nil
		},
		Process: func(p *Port, cc1, cc2 CCState, e Event) *state {
			if cc1 != CCOpen || cc2 != CCOpen {
				p.detachArmed = false
				return nil
			}
			if !p.detachArmed {
				p.detachArmed = true
				p.armTimer(tPDDebounce)
				return nil
			}
			if e == EventTimerTimeout {
				return detach(p)
			}
			return nil
		},
	}

	stateAttachedSRC = &state{
		Name: "attached-src",
		Enter: func(p *Port) *state {
			p.mu.Lock()
			p.role = RoleSource
			p.accessory = AccessoryNone
			p.released = true
			p.mu.Unlock()
			p.detachArmed = false
			p.post(Indication{Kind: IndAttached, Role: RoleSource})
			return nil
		},
		Process: func(p *Port, cc1, cc2 CCState, e Event) *state {
			if cc1 == CCRd || cc2 == CCRd {
				p.detachArmed = false
				return nil
			}
			if !p.detachArmed {
				p.detachArmed = true
				p.armTimer(tSrcDisconnect)
				return nil
			}
			if e == EventTimerTimeout {
				return detach(p)
			}
			return nil
		},
	}

	stateAudioAccessory = &state{
		Name: "audio-accessory",
		Enter: func(p *Port) *state {
			p.mu.Lock()
			p.role = RoleSource
			p.accessory = AccessoryAudio
			p.released = true
			p.mu.Unlock()
			p.post(Indication{Kind: IndAttached, Role: RoleSource, Accessory: AccessoryAudio})
			return nil
		},
		Process: func(p *Port, cc1, cc2 CCState, e Event) *state {
			if cc1 != CCRa || cc2 != CCRa {
				return detach(p)
			}
			return nil
		},
	}

	stateDebugAccessory = &state{
		Name: "debug-accessory",
		Enter: func(p *Port) *state {
			p.mu.Lock()
			p.role = RoleSource
			p.accessory = AccessoryDebug
			p.released = true
			p.mu.Unlock()
			p.post(Indication{Kind: IndAttached, Role: RoleSource, Accessory: AccessoryDebug})
			return nil
		},
		Process: func(p *Port, cc1, cc2 CCState, e Event) *state {
			if cc1 != CCRd || cc2 != CCRd {
				return detach(p)
			}
			return nil
		},
	}
}

// ForceDetach tears down an Attached (or accessory) state immediately,
// bypassing CC debounce, for callers that detect loss through an
// out-of-band signal -- VBUS sensing on the sink side -- rather than CC
// termination. It is a no-op outside an Attached state. Returns whatever
// Indications the transition produced, just like Poll.
func (p *Port) ForceDetach() []Indication {
	switch p.cur {
	case stateAttachedSNK, stateAttachedSRC, stateAudioAccessory, stateDebugAccessory:
		p.transition(detach(p))
	}
	return p.drain()
}

// detach tears down the released/attached bookkeeping and reports
// IndDetached before the caller transitions back to an Unattached state.
func detach(p *Port) *state {
	p.mu.Lock()
	wasRole, wasAccessory := p.role, p.accessory
	p.released = false
	p.mu.Unlock()
	p.post(Indication{Kind: IndDetached, Role: wasRole, Accessory: wasAccessory})
	return p.initialState()
}

func isRpPresent(cc CCState) bool {
	return cc == CCRpDefault || cc == CCRp1A5 || cc == CCRp3A0
}
