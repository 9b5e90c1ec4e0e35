package modem

import "github.com/tuhh-eit/ahoi-modem/pack"

// Command type bytes, per the wire command catalog.
const (
	typeGetVersion      byte = 0x80
	typeGetConfig       byte = 0x83
	typeID              byte = 0x84
	typeGetBatVoltage   byte = 0x85
	typeStartBootloader byte = 0x86
	typeReset           byte = 0x87
	typeSleep           byte = 0x88
	typePktPin          byte = 0x89
	typeFreqBandsNum    byte = 0x90
	typeFreqBands       byte = 0x91
	typeFreqCarrierNum  byte = 0x92
	typeFreqCarriers    byte = 0x93
	typeRxThresh        byte = 0x94
	typeBitSpread       byte = 0x95
	typeFilterRaw       byte = 0x96
	typeSyncLen         byte = 0x97
	typeAGC             byte = 0x98
	typeRxGainRaw       byte = 0x99
	typeTxGain          byte = 0x9A
	typePeakWinLen      byte = 0x9B
	typeTransducer      byte = 0x9C
	typeRxGain          byte = 0x9E
	typeSample          byte = 0xA0
	typeSniffMode       byte = 0xA1
	typeRangeDelay      byte = 0xA8
	typeTestFreq        byte = 0xB1
	typeTestSweep       byte = 0xB2
	typeTestNoise       byte = 0xB3
	typeTestSound       byte = 0xB4
	typeGetPowerLevel   byte = 0xB8
	typeRxLevel         byte = 0xB9
	typeGetPacketStat   byte = 0xC0
	typeClearPacketStat byte = 0xC1
	typeGetSyncStat     byte = 0xC2
	typeClearSyncStat   byte = 0xC3
	typeGetSfdStat      byte = 0xC4
	typeClearSfdStat    byte = 0xC5
)

func (m *Modem) cmd(typ byte, payload []byte) error {
	p := pack.Make(0, pack.AddrBcast, typ, pack.AckNone, 0, payload)
	return m.sendPacket(p)
}

func u8(v byte) []byte { return []byte{v} }

func u16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

func u32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// GetVersion retrieves the firmware version.
func (m *Modem) GetVersion() error { return m.cmd(typeGetVersion, nil) }

// GetConfig retrieves the modem's full configuration.
func (m *Modem) GetConfig() error { return m.cmd(typeGetConfig, nil) }

// ID gets the modem's address, or sets it when id is non-nil.
func (m *Modem) ID(id *byte) error {
	if id == nil {
		return m.cmd(typeID, nil)
	}
	return m.cmd(typeID, u8(*id))
}

// GetBatVoltage retrieves the battery voltage reading.
func (m *Modem) GetBatVoltage() error { return m.cmd(typeGetBatVoltage, nil) }

// StartBootloader restarts the MCU into its bootloader.
func (m *Modem) StartBootloader() error { return m.cmd(typeStartBootloader, nil) }

// Reset resets the modem's MCU.
func (m *Modem) Reset() error { return m.cmd(typeReset, nil) }

// Sleep puts the modem into sleep mode.
func (m *Modem) Sleep() error { return m.cmd(typeSleep, nil) }

// PktPin gets, or sets when mode is non-nil, the packet pin mode.
func (m *Modem) PktPin(mode *byte) error {
	if mode == nil {
		return m.cmd(typePktPin, nil)
	}
	return m.cmd(typePktPin, u8(*mode))
}

// FreqBandsNum gets, or sets when num is non-nil, the number of frequency
// bands.
func (m *Modem) FreqBandsNum(num *byte) error {
	if num == nil {
		return m.cmd(typeFreqBandsNum, nil)
	}
	return m.cmd(typeFreqBandsNum, u8(*num))
}

// FreqBands retrieves the configured frequency bands. There is no setter:
// the bands are derived from FreqBandsNum.
func (m *Modem) FreqBands() error { return m.cmd(typeFreqBands, nil) }

// FreqCarrierNum gets, or sets when num is non-nil, the number of carriers.
func (m *Modem) FreqCarrierNum(num *byte) error {
	if num == nil {
		return m.cmd(typeFreqCarrierNum, nil)
	}
	return m.cmd(typeFreqCarrierNum, u8(*num))
}

// FreqCarriers retrieves the configured carriers. There is no setter.
func (m *Modem) FreqCarriers() error { return m.cmd(typeFreqCarriers, nil) }

// RxThresh gets, or sets when thresh is non-nil, the receive threshold.
func (m *Modem) RxThresh(thresh *byte) error {
	if thresh == nil {
		return m.cmd(typeRxThresh, nil)
	}
	return m.cmd(typeRxThresh, u8(*thresh))
}

// BitSpread gets, or sets when chips is non-nil, the number of chips used
// to carry one data bit.
func (m *Modem) BitSpread(chips *byte) error {
	if chips == nil {
		return m.cmd(typeBitSpread, nil)
	}
	return m.cmd(typeBitSpread, u8(*chips))
}

// FilterRaw gets, or sets when stage is non-nil, the RX board's raw gain
// filter. levelHex is taken as a hex-digit string and decoded to raw bytes
// that follow the stage byte in the payload.
func (m *Modem) FilterRaw(stage *byte, levelHex string) error {
	if stage == nil {
		return m.cmd(typeFilterRaw, nil)
	}
	raw, err := hexDecode(levelHex)
	if err != nil {
		return ErrInvalidArgument
	}
	payload := append(u8(*stage), raw...)
	return m.cmd(typeFilterRaw, payload)
}

// SyncLen gets, or sets when both are non-nil, the TX/RX sync length.
func (m *Modem) SyncLen(txLen, rxLen *byte) error {
	if txLen == nil || rxLen == nil {
		return m.cmd(typeSyncLen, nil)
	}
	return m.cmd(typeSyncLen, []byte{*txLen, *rxLen})
}

// AGC gets, or sets when status is non-nil, the automatic-gain-control
// state.
func (m *Modem) AGC(status *byte) error {
	if status == nil {
		return m.cmd(typeAGC, nil)
	}
	return m.cmd(typeAGC, u8(*status))
}

// RxGainRaw gets, or sets when both are non-nil, the raw RX gain stage.
func (m *Modem) RxGainRaw(stage, level *byte) error {
	if stage == nil || level == nil {
		return m.cmd(typeRxGainRaw, nil)
	}
	return m.cmd(typeRxGainRaw, []byte{*stage, *level})
}

// TxGain gets, or sets when value is non-nil, the TX gain.
func (m *Modem) TxGain(value *byte) error {
	if value == nil {
		return m.cmd(typeTxGain, nil)
	}
	return m.cmd(typeTxGain, u8(*value))
}

// PeakWinLen gets, or sets when winLen is non-nil, the peak detection
// window length in microseconds. Rejects values above MaxPeakWinLen.
func (m *Modem) PeakWinLen(winLen *uint16) error {
	if winLen == nil {
		return m.cmd(typePeakWinLen, nil)
	}
	if *winLen > MaxPeakWinLen {
		return ErrInvalidArgument
	}
	return m.cmd(typePeakWinLen, u16(*winLen))
}

// Transducer gets, or sets when t is non-nil, the transducer type.
func (m *Modem) Transducer(t *byte) error {
	if t == nil {
		return m.cmd(typeTransducer, nil)
	}
	return m.cmd(typeTransducer, u8(*t))
}

// RxGain gets, or sets when level is non-nil, the AGC-derived RX gain
// level.
func (m *Modem) RxGain(level *byte) error {
	if level == nil {
		return m.cmd(typeRxGain, nil)
	}
	return m.cmd(typeRxGain, u8(*level))
}

// Sample requests an oscilloscope capture. All three arguments are
// required.
func (m *Modem) Sample(trigger byte, num, post uint16) error {
	payload := append(u8(trigger), u16(num)...)
	payload = append(payload, u16(post)...)
	return m.cmd(typeSample, payload)
}

// SniffMode gets, or sets when status is non-nil, sniff mode.
func (m *Modem) SniffMode(status *byte) error {
	if status == nil {
		return m.cmd(typeSniffMode, nil)
	}
	return m.cmd(typeSniffMode, u8(*status))
}

// RangeDelay gets, or sets when delay is non-nil, the ranging-answer delay.
func (m *Modem) RangeDelay(delay *uint32) error {
	if delay == nil {
		return m.cmd(typeRangeDelay, nil)
	}
	return m.cmd(typeRangeDelay, u32(*delay))
}

// TestFreq transmits a single test tone at freqIdx/freqLvl, or queries
// state when freqIdx is nil.
func (m *Modem) TestFreq(freqIdx, freqLvl *byte) error {
	if freqIdx == nil {
		return m.cmd(typeTestFreq, nil)
	}
	lvl := byte(0)
	if freqLvl != nil {
		lvl = *freqLvl
	}
	return m.cmd(typeTestFreq, []byte{*freqIdx, lvl})
}

// TestSweep runs a frequency sweep test.
func (m *Modem) TestSweep(gc bool, gap byte) error {
	return m.cmd(typeTestSweep, []byte{boolByte(gc), gap})
}

// TestNoise runs a noise-floor test. Rejects step or dur below 1.
func (m *Modem) TestNoise(gc bool, step, dur byte) error {
	if step < 1 || dur < 1 {
		return ErrInvalidArgument
	}
	return m.cmd(typeTestNoise, []byte{boolByte(gc), step, dur})
}

// TestSound emits an audible test tone for dur, which must be in [1, 250].
func (m *Modem) TestSound(dur byte) error {
	if dur < 1 || dur > 250 {
		return ErrInvalidArgument
	}
	return m.cmd(typeTestSound, u8(dur))
}

// GetPowerLevel retrieves the modem's reported transmit power level.
func (m *Modem) GetPowerLevel() error { return m.cmd(typeGetPowerLevel, nil) }

// RxLevel retrieves the current receive level.
func (m *Modem) RxLevel() error { return m.cmd(typeRxLevel, nil) }

// GetPacketStat retrieves packet statistics.
func (m *Modem) GetPacketStat() error { return m.cmd(typeGetPacketStat, nil) }

// ClearPacketStat clears packet statistics.
func (m *Modem) ClearPacketStat() error { return m.cmd(typeClearPacketStat, nil) }

// GetSyncStat retrieves sync statistics.
func (m *Modem) GetSyncStat() error { return m.cmd(typeGetSyncStat, nil) }

// ClearSyncStat clears sync statistics.
func (m *Modem) ClearSyncStat() error { return m.cmd(typeClearSyncStat, nil) }

// GetSfdStat retrieves start-of-frame-delimiter statistics.
func (m *Modem) GetSfdStat() error { return m.cmd(typeGetSfdStat, nil) }

// ClearSfdStat clears start-of-frame-delimiter statistics.
func (m *Modem) ClearSfdStat() error { return m.cmd(typeClearSfdStat, nil) }

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, ErrInvalidArgument
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, ok1 := hexNibble(s[i*2])
		lo, ok2 := hexNibble(s[i*2+1])
		if !ok1 || !ok2 {
			return nil, ErrInvalidArgument
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
