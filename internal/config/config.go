// Package config loads ipcpd's configuration from environment variables
// with command-line overrides, the same Load/LoadWithOverrides/
// validate shape the teacher server used for its HTTP listener and TLS
// settings, adapted to an IPC process's address, PCI flavour, and DTCP
// policy defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/samsneelam1981/rlite-go/internal/flow"
	"github.com/samsneelam1981/rlite-go/internal/pci"
)

var (
	globalConfig *Config
	configMutex  sync.Mutex
)

// Config holds ipcpd's full configuration.
type Config struct {
	IPCP    IPCPConfig
	DTCP    DTCPConfig
	Metrics MetricsConfig
	Logging LoggingConfig
}

// LoadOptions holds command-line override options; a zero value leaves
// the corresponding environment-or-default value in place.
type LoadOptions struct {
	Address     uint64
	LogLevel    string
	MetricsAddr string
	FlowControl *bool
	RtxControl  *bool
}

// IPCPConfig is this IPC process's identity and wire-format selection.
type IPCPConfig struct {
	Address   uint64 `json:"address" env:"IPCP_ADDRESS" default:"1"`
	AddrWidth int    `json:"addrWidth" env:"IPCP_ADDR_WIDTH" default:"4"`
	SeqWidth  int    `json:"seqWidth" env:"IPCP_SEQ_WIDTH" default:"4"`
	LenWidth  int    `json:"lenWidth" env:"IPCP_LEN_WIDTH" default:"2"`
	CEPWidth  int    `json:"cepWidth" env:"IPCP_CEP_WIDTH" default:"2"`
	QoSWidth  int    `json:"qosWidth" env:"IPCP_QOS_WIDTH" default:"2"`
}

// DTCPConfig is the default per-flow DTCP policy new flows are
// initialised with, matching spec.md §3's "dtcp" configuration block.
type DTCPConfig struct {
	FlowControl   bool          `json:"flowControl" env:"DTCP_FLOW_CONTROL" default:"true"`
	RtxControl    bool          `json:"rtxControl" env:"DTCP_RTX_CONTROL" default:"true"`
	InitialCredit uint64        `json:"initialCredit" env:"DTCP_INITIAL_CREDIT" default:"64"`
	MaxCwqLen     int           `json:"maxCwqLen" env:"DTCP_MAX_CWQ_LEN" default:"64"`
	InitialA      time.Duration `json:"initialA" env:"DTCP_INITIAL_A" default:"0s"`
	InitialTR     time.Duration `json:"initialTR" env:"DTCP_INITIAL_TR" default:"1s"`
	DataRxmsMax   int           `json:"dataRxmsMax" env:"DTCP_DATA_RXMS_MAX" default:"10"`
}

// MetricsConfig configures the Prometheus HTTP listener.
type MetricsConfig struct {
	ListenAddr string `json:"listenAddr" env:"METRICS_LISTEN_ADDR" default:":9090"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `json:"level" env:"LOG_LEVEL" default:"info"`
}

// Load loads configuration from environment variables with defaults.
func Load() (*Config, error) {
	return LoadWithOverrides(LoadOptions{})
}

// LoadWithOverrides loads configuration with command-line overrides.
func LoadWithOverrides(opts LoadOptions) (*Config, error) {
	cfg := &Config{}

	cfg.IPCP.Address = getUintOverrideOrEnv(opts.Address, "IPCP_ADDRESS", 1)
	cfg.IPCP.AddrWidth = getIntWithDefault("IPCP_ADDR_WIDTH", 4)
	cfg.IPCP.SeqWidth = getIntWithDefault("IPCP_SEQ_WIDTH", 4)
	cfg.IPCP.LenWidth = getIntWithDefault("IPCP_LEN_WIDTH", 2)
	cfg.IPCP.CEPWidth = getIntWithDefault("IPCP_CEP_WIDTH", 2)
	cfg.IPCP.QoSWidth = getIntWithDefault("IPCP_QOS_WIDTH", 2)

	cfg.DTCP.FlowControl = getBoolOverrideOrEnv(opts.FlowControl, "DTCP_FLOW_CONTROL", true)
	cfg.DTCP.RtxControl = getBoolOverrideOrEnv(opts.RtxControl, "DTCP_RTX_CONTROL", true)
	cfg.DTCP.InitialCredit = uint64(getIntWithDefault("DTCP_INITIAL_CREDIT", 64))
	cfg.DTCP.MaxCwqLen = getIntWithDefault("DTCP_MAX_CWQ_LEN", 64)
	cfg.DTCP.InitialA = getDurationWithDefault("DTCP_INITIAL_A", 0)
	cfg.DTCP.InitialTR = getDurationWithDefault("DTCP_INITIAL_TR", time.Second)
	cfg.DTCP.DataRxmsMax = getIntWithDefault("DTCP_DATA_RXMS_MAX", 10)

	cfg.Metrics.ListenAddr = getOverrideOrEnv(opts.MetricsAddr, "METRICS_LISTEN_ADDR", ":9090")
	cfg.Logging.Level = getOverrideOrEnv(opts.LogLevel, "LOG_LEVEL", "info")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	configMutex.Lock()
	globalConfig = cfg
	configMutex.Unlock()

	return cfg, nil
}

// GetGlobalConfig returns the most recently loaded configuration, for
// packages that need read access to it without threading it through
// every call.
func GetGlobalConfig() *Config {
	configMutex.Lock()
	defer configMutex.Unlock()
	return globalConfig
}

// Validate validates the configuration, including that the PCI field
// widths form a legal Flavour.
func (c *Config) Validate() error {
	if _, err := c.Flavour(); err != nil {
		return err
	}

	if c.DTCP.MaxCwqLen <= 0 {
		return fmt.Errorf("dtcp max cwq length must be positive")
	}
	if c.DTCP.DataRxmsMax <= 0 {
		return fmt.Errorf("dtcp data rxms max must be positive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}

// Flavour builds the pci.Flavour this configuration selects.
func (c *Config) Flavour() (pci.Flavour, error) {
	widths := map[string]int{
		"addr": c.IPCP.AddrWidth, "seq": c.IPCP.SeqWidth, "len": c.IPCP.LenWidth,
		"cep": c.IPCP.CEPWidth, "qos": c.IPCP.QoSWidth,
	}
	for name, w := range widths {
		switch w {
		case 1, 2, 4, 8:
		default:
			return pci.Flavour{}, fmt.Errorf("invalid %s width: %d (must be 1, 2, 4, or 8)", name, w)
		}
	}
	return pci.Flavour{
		Addr: pci.Width(c.IPCP.AddrWidth),
		Seq:  pci.Width(c.IPCP.SeqWidth),
		Len:  pci.Width(c.IPCP.LenWidth),
		CEP:  pci.Width(c.IPCP.CEPWidth),
		QoS:  pci.Width(c.IPCP.QoSWidth),
	}, nil
}

// DefaultFlowConfig builds the flow.Config new flows are initialised
// with from this configuration's DTCP defaults.
func (c *Config) DefaultFlowConfig() flow.Config {
	return flow.Config{
		DTCPPresent:     c.DTCP.FlowControl || c.DTCP.RtxControl,
		InOrderDelivery: c.DTCP.RtxControl,
		MaxSDUGap:       0,
		DTCP: flow.DTCPConfig{
			FlowControl: c.DTCP.FlowControl,
			RtxControl:  c.DTCP.RtxControl,
			InitialA:    c.DTCP.InitialA,
			FC: flow.FCConfig{
				MaxCwqLen:     c.DTCP.MaxCwqLen,
				InitialCredit: c.DTCP.InitialCredit,
			},
			Rtx: flow.RtxConfig{
				InitialTR:   c.DTCP.InitialTR,
				DataRxmsMax: c.DTCP.DataRxmsMax,
			},
		},
	}
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getOverrideOrEnv(override, envKey, defaultValue string) string {
	if override != "" {
		return override
	}
	return getEnvWithDefault(envKey, defaultValue)
}

func getUintOverrideOrEnv(override uint64, envKey string, defaultValue uint64) uint64 {
	if override != 0 {
		return override
	}
	if value := os.Getenv(envKey); value != "" {
		if u, err := strconv.ParseUint(value, 10, 64); err == nil {
			return u
		}
	}
	return defaultValue
}

func getBoolOverrideOrEnv(override *bool, envKey string, defaultValue bool) bool {
	if override != nil {
		return *override
	}
	return getBoolWithDefault(envKey, defaultValue)
}
