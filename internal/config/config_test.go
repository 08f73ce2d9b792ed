package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsneelam1981/rlite-go/internal/pci"
)

func clearEnv(keys ...string) func() {
	for _, k := range keys {
		os.Unsetenv(k)
	}
	return func() {
		for _, k := range keys {
			os.Unsetenv(k)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	defer clearEnv("IPCP_ADDRESS", "IPCP_ADDR_WIDTH", "DTCP_FLOW_CONTROL", "LOG_LEVEL")()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, uint64(1), cfg.IPCP.Address)
	assert.Equal(t, 4, cfg.IPCP.AddrWidth)
	assert.Equal(t, uint64(64), cfg.DTCP.InitialCredit)
	assert.True(t, cfg.DTCP.FlowControl)
	assert.True(t, cfg.DTCP.RtxControl)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, ":9090", cfg.Metrics.ListenAddr)
}

func TestLoadFromEnv(t *testing.T) {
	defer clearEnv("IPCP_ADDRESS", "DTCP_INITIAL_CREDIT", "LOG_LEVEL")()
	os.Setenv("IPCP_ADDRESS", "42")
	os.Setenv("DTCP_INITIAL_CREDIT", "8")
	os.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), cfg.IPCP.Address)
	assert.Equal(t, uint64(8), cfg.DTCP.InitialCredit)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadWithOverrides(t *testing.T) {
	defer clearEnv("IPCP_ADDRESS", "LOG_LEVEL")()
	off := false

	cfg, err := LoadWithOverrides(LoadOptions{
		Address:     7,
		LogLevel:    "warn",
		RtxControl:  &off,
		MetricsAddr: "127.0.0.1:9999",
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), cfg.IPCP.Address)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.False(t, cfg.DTCP.RtxControl)
	assert.Equal(t, "127.0.0.1:9999", cfg.Metrics.ListenAddr)
}

func TestValidateRejectsBadWidth(t *testing.T) {
	cfg := &Config{
		IPCP:    IPCPConfig{AddrWidth: 3, SeqWidth: 4, LenWidth: 2, CEPWidth: 2, QoSWidth: 2},
		DTCP:    DTCPConfig{MaxCwqLen: 64, DataRxmsMax: 10},
		Logging: LoggingConfig{Level: "info"},
	}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "invalid addr width")
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := &Config{
		IPCP:    IPCPConfig{AddrWidth: 4, SeqWidth: 4, LenWidth: 2, CEPWidth: 2, QoSWidth: 2},
		DTCP:    DTCPConfig{MaxCwqLen: 64, DataRxmsMax: 10},
		Logging: LoggingConfig{Level: "verbose"},
	}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "invalid log level")
}

func TestFlavourMatchesWidths(t *testing.T) {
	cfg := &Config{IPCP: IPCPConfig{AddrWidth: 8, SeqWidth: 4, LenWidth: 2, CEPWidth: 2, QoSWidth: 1}}
	f, err := cfg.Flavour()
	require.NoError(t, err)
	assert.Equal(t, pci.Flavour{Addr: pci.Width8, Seq: pci.Width4, Len: pci.Width2, CEP: pci.Width2, QoS: pci.Width1}, f)
}

func TestDefaultFlowConfigReflectsDTCPSettings(t *testing.T) {
	cfg := &Config{DTCP: DTCPConfig{
		FlowControl: true, RtxControl: false, InitialCredit: 16, MaxCwqLen: 32,
		InitialTR: 2 * time.Second, DataRxmsMax: 5,
	}}
	fc := cfg.DefaultFlowConfig()
	assert.True(t, fc.DTCPPresent)
	assert.False(t, fc.InOrderDelivery)
	assert.Equal(t, uint64(16), fc.DTCP.FC.InitialCredit)
	assert.Equal(t, 32, fc.DTCP.FC.MaxCwqLen)
	assert.Equal(t, 5, fc.DTCP.Rtx.DataRxmsMax)
}

func TestGetGlobalConfigReflectsLastLoad(t *testing.T) {
	defer clearEnv("IPCP_ADDRESS")()
	_, err := LoadWithOverrides(LoadOptions{Address: 99})
	require.NoError(t, err)
	assert.Equal(t, uint64(99), GetGlobalConfig().IPCP.Address)
}
