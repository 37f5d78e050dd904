package db

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolStatsCollector_Describe(t *testing.T) {
	collector := NewPoolStatsCollector(nil, "meetnotes")

	ch := make(chan *prometheus.Desc, 10)
	collector.Describe(ch)
	close(ch)

	var names []string
	for d := range ch {
		names = append(names, d.String())
	}
	require.Len(t, names, 7)
	assert.Contains(t, names[0], "meetnotes_db_pool_total_conns")
	assert.Contains(t, names[6], "meetnotes_db_pool_acquire_wait_seconds_total")
}

func TestPoolStatsCollector_NilPoolCollectsNothing(t *testing.T) {
	assert.Equal(t, 0, testutil.CollectAndCount(NewPoolStatsCollector(nil, "meetnotes")))
}

func TestRegisterPoolStatsCollector_Twice(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := RegisterPoolStatsCollector(nil, "meetnotes", reg)
	require.NoError(t, err)

	_, err = RegisterPoolStatsCollector(nil, "meetnotes", reg)
	assert.NoError(t, err)
}
