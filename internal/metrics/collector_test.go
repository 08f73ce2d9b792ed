package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsneelam1981/rlite-go/internal/buffer"
	"github.com/samsneelam1981/rlite-go/internal/flow"
	"github.com/samsneelam1981/rlite-go/internal/pci"
)

type fakeRMTStats struct{ drops uint64 }

func (f fakeRMTStats) Drops() uint64 { return f.drops }

type noopTx struct{}

func (noopTx) Transmit(uint64, *buffer.Buffer, bool) error { return nil }

func TestCollectorReportsFlowStats(t *testing.T) {
	c := New(fakeRMTStats{drops: 3})
	f := flow.New(1, 2, 9, 1, 0, pci.DefaultFlavour, flow.Config{}, noopTx{}, nil)
	f.Handle = "test-flow"
	c.AddFlow(f)

	require.NoError(t, f.Send(f.NewDataBuffer([]byte("hi")), false))

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	families, err := reg.Gather()
	require.NoError(t, err)

	var sawTxPDUs, sawRMTDrops bool
	for _, mf := range families {
		switch mf.GetName() {
		case "rlite_flow_tx_pdus_total":
			sawTxPDUs = true
			require.Len(t, mf.Metric, 1)
			assert.Equal(t, float64(1), mf.Metric[0].GetCounter().GetValue())
		case "rlite_rmt_drops_total":
			sawRMTDrops = true
			assert.Equal(t, float64(3), mf.Metric[0].GetCounter().GetValue())
		}
	}
	assert.True(t, sawTxPDUs, "expected rlite_flow_tx_pdus_total metric family")
	assert.True(t, sawRMTDrops, "expected rlite_rmt_drops_total metric family")
}

func TestCollectorRemoveFlowStopsReporting(t *testing.T) {
	c := New(fakeRMTStats{})
	f := flow.New(1, 2, 9, 1, 0, pci.DefaultFlavour, flow.Config{}, noopTx{}, nil)
	f.Handle = "gone"
	c.AddFlow(f)
	c.RemoveFlow("gone")

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)

	var metrics []*dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "rlite_flow_tx_pdus_total" {
			metrics = append(metrics, mf)
		}
	}
	for _, mf := range metrics {
		assert.Empty(t, mf.Metric)
	}
}
