package zones

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/fms-engine/internal/market"
	"github.com/quantfold/fms-engine/internal/tunables"
)

func testEnv() *tunables.Env { return tunables.NewEnv(1.2, false, 930, 1600) }

func seriesWith(bars ...market.Bar) *market.Series {
	s := market.NewSeries(0.25)
	for _, b := range bars {
		s.Append(b)
	}
	return s
}

func plainBar(n int, close float64) market.Bar {
	return market.Bar{Number: n, Time: 100000 + n, Open: close, High: close + 1, Low: close - 1, Close: close, Volume: 100}
}

func TestScanCreatesSupportZone(t *testing.T) {
	stacked := plainBar(1, 5000)
	stacked.BidStacked = true
	s := seriesWith(plainBar(0, 5000), stacked, plainBar(2, 5001), plainBar(3, 5002))

	b := NewBook(0.25)
	b.Scan(s, testEnv())
	require.Equal(t, 1, b.Len())

	z := b.Zones()[0]
	assert.Equal(t, Support, z.Kind)
	// pad is half the bar range
	assert.InDelta(t, 4999.0, z.Low, 1e-9)
	assert.InDelta(t, 5001.0, z.High, 1e-9)
}

func TestScanIsIdempotentPerBar(t *testing.T) {
	stacked := plainBar(1, 5000)
	stacked.AskStacked = true
	s := seriesWith(plainBar(0, 5000), stacked, plainBar(2, 5000), plainBar(3, 5000))

	b := NewBook(0.25)
	env := testEnv()
	b.Scan(s, env)
	b.Scan(s, env)
	require.Equal(t, 1, b.Len())
	assert.Equal(t, 1, b.Zones()[0].Touches)
}

func TestScanMergesNearbyZones(t *testing.T) {
	a := plainBar(1, 5000)
	a.BidStacked = true
	c := plainBar(3, 5000.25) // within one merge tolerance tick
	c.BidStacked = true
	s := seriesWith(plainBar(0, 5000), a, plainBar(2, 5000), c, plainBar(4, 5001))

	b := NewBook(0.25)
	b.Scan(s, testEnv())
	require.Equal(t, 1, b.Len())
	assert.Equal(t, 2, b.Zones()[0].Touches)
}

func TestPurgeDropsStaleZones(t *testing.T) {
	stacked := plainBar(1, 5000)
	stacked.BidStacked = true
	s := seriesWith(plainBar(0, 5000), stacked, plainBar(2, 5000))

	b := NewBook(0.25)
	env := testEnv()
	b.Scan(s, env)
	require.Equal(t, 1, b.Len())

	b.Purge(1+env.Cfg.MaxZoneAgeBars+1, env)
	assert.Equal(t, 0, b.Len())
}

func TestNearestOpposing(t *testing.T) {
	b := NewBook(0.25)
	b.zones = []*Zone{
		{Kind: Resistance, Low: 5010, High: 5012},
		{Kind: Resistance, Low: 5030, High: 5032},
		{Kind: Support, Low: 4990, High: 4992},
	}
	z := b.NearestOpposing(market.Long, 5000)
	require.NotNil(t, z)
	assert.InDelta(t, 5010.0, z.Low, 1e-9)

	z = b.NearestOpposing(market.Short, 5000)
	require.NotNil(t, z)
	assert.InDelta(t, 4992.0, z.High, 1e-9)
}

func TestFindRetest(t *testing.T) {
	b := NewBook(0.25)
	b.zones = []*Zone{{Kind: Support, Low: 4998, High: 5002}}
	env := testEnv()

	assert.NotNil(t, b.FindRetest(market.Long, 5000, env))
	assert.Nil(t, b.FindRetest(market.Short, 5000, env))
	assert.Nil(t, b.FindRetest(market.Long, 5050, env))
}

func TestConsumeThroughRetiresReachedZones(t *testing.T) {
	b := NewBook(0.25)
	b.zones = []*Zone{
		{Kind: Resistance, Low: 5004, High: 5005},
		{Kind: Resistance, Low: 5010, High: 5012},
		{Kind: Support, Low: 4990, High: 4992},
	}
	env := testEnv()

	// a target fill at 5005 spends the first band but not the one above
	n := b.ConsumeThrough(market.Long, 5005, env)
	assert.Equal(t, 1, n)
	assert.True(t, b.zones[0].Consumed)
	assert.False(t, b.zones[1].Consumed)
	assert.False(t, b.zones[2].Consumed)

	// consumed zones drop on the next purge
	b.Purge(1, env)
	assert.Equal(t, 2, b.Len())

	// the short side spends support bands
	n = b.ConsumeThrough(market.Short, 4991, env)
	assert.Equal(t, 1, n)
}

func TestHasRoomToTarget(t *testing.T) {
	b := NewBook(0.25)
	b.zones = []*Zone{{Kind: Resistance, Low: 5010, High: 5012}}

	assert.True(t, b.HasRoomToTarget(market.Long, 5000, 5008))
	assert.False(t, b.HasRoomToTarget(market.Long, 5000, 5011))
	assert.True(t, b.HasRoomToTarget(market.Short, 5000, 4990))
}
