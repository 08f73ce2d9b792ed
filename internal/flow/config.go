package flow

import "time"

// MaxSDUGapUnreliable is the all-ones sentinel meaning "no gap tolerance
// limit" — an unreliable flow delivers data as it arrives (spec.md §3).
const MaxSDUGapUnreliable = ^uint64(0)

// Defaults applied by New (through Config.derive) when the corresponding
// config field is zero (spec.md §4.8).
const (
	DefaultMPL         = 1000 * time.Millisecond
	DefaultInitialTR   = 1000 * time.Millisecond
	DefaultDataRxmsMax = 10
	DefaultMaxRtxqLen  = 64
	MaxSeqqLen         = 64
)

// FCConfig is the window-based flow-control policy's configuration.
// spec.md §3 names fc_type as a policy selector; "window" credit-based
// flow control is the only policy implemented (§9, selective/negative ACK
// and congestion control are left as hooks).
type FCConfig struct {
	MaxCwqLen     int
	InitialCredit uint64
}

// RtxConfig configures retransmission control.
type RtxConfig struct {
	InitialTR   time.Duration
	DataRxmsMax int
}

// DTCPConfig is the nested dtcp configuration block of spec.md §3.
type DTCPConfig struct {
	FlowControl bool
	RtxControl  bool
	InitialA    time.Duration
	FC          FCConfig
	Rtx         RtxConfig
}

// Config is a flow's configuration (spec.md §3 "Flow configuration").
type Config struct {
	DTCPPresent      bool
	InOrderDelivery  bool
	MaxSDUGap        uint64
	MaxPDULifetime   time.Duration // MPL, 0 selects DefaultMPL
	DTCP             DTCPConfig
}

// derived holds the values flow_init computes from Config (spec.md §4.8).
type derived struct {
	mplRA       time.Duration
	maxCwqLen   int
	maxRtxqLen  int
}

func (c Config) derive() derived {
	mpl := c.MaxPDULifetime
	if mpl == 0 {
		mpl = DefaultMPL
	}
	initialTR := c.DTCP.Rtx.InitialTR
	if initialTR == 0 {
		initialTR = DefaultInitialTR
	}
	dataRxmsMax := c.DTCP.Rtx.DataRxmsMax
	if dataRxmsMax == 0 {
		dataRxmsMax = DefaultDataRxmsMax
	}
	mplRA := mpl + initialTR*time.Duration(dataRxmsMax) + c.DTCP.InitialA

	maxCwqLen := c.DTCP.FC.MaxCwqLen
	if maxCwqLen <= 0 {
		maxCwqLen = DefaultMaxRtxqLen
	}

	return derived{
		mplRA:      mplRA,
		maxCwqLen:  maxCwqLen,
		maxRtxqLen: DefaultMaxRtxqLen,
	}
}
