package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	r := prometheus.NewRegistry()
	Register(r)
	// 重复注册不会 panic
	Register(r)
	assert.Equal(t, prometheus.Registerer(r), GetRegisterer())

	BufferChunkAllocations.WithLabelValues(WriteSide).Inc()
	BufferChunkRecycled.Add(2)
	RegistryFailures.WithLabelValues("main.Point", SerializeOp).Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(BufferChunkAllocations.WithLabelValues(WriteSide)))
	assert.Equal(t, float64(2), testutil.ToFloat64(BufferChunkRecycled))

	families, err := r.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "kryo_buffer_chunk_allocations_total")
	assert.Contains(t, names, "kryo_registry_failures_total")
}
