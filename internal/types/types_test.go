package types

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevelAliases(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"info", LevelInfo},
		{"LOW", LevelWarning},
		{"medium", LevelWarning},
		{"WARNING", LevelWarning},
		{"HIGH", LevelError},
		{"error", LevelError},
		{"CRITICAL", LevelCritical},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		if !ok || got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, %v; want %s", tt.in, got, ok, tt.want)
		}
	}

	if _, ok := ParseLevel("fatal"); ok {
		t.Error("unknown level should not parse")
	}
	assert.True(t, LevelCritical.AtLeast(LevelError))
	assert.False(t, LevelWarning.AtLeast(LevelError))
}

func TestAggregate(t *testing.T) {
	assert.Equal(t, StatusUnknown, Aggregate(nil))

	components := map[string]*ComponentHealth{
		"api":   {Name: "api", Status: StatusHealthy},
		"cache": {Name: "cache", Status: StatusWarning},
	}
	assert.Equal(t, StatusWarning, Aggregate(components))

	components["database"] = &ComponentHealth{Name: "database", Status: StatusCritical}
	assert.Equal(t, StatusCritical, Aggregate(components))

	delete(components, "database")
	components["queue"] = &ComponentHealth{Name: "queue", Status: StatusError}
	assert.Equal(t, StatusError, Aggregate(components))
}

func TestTradeMetricsJSONInfiniteProfitFactor(t *testing.T) {
	m := TradeMetrics{Symbol: "BTCUSDT", ProfitFactor: math.Inf(1), WinRate: 1}

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Nil(t, decoded["profit_factor"])
	assert.Equal(t, "BTCUSDT", decoded["symbol"])

	m.ProfitFactor = 4.25
	data, err = json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 4.25, decoded["profit_factor"])
}

func TestAlertCloneIsIndependent(t *testing.T) {
	a := &Alert{ID: "1", Component: "database", AlertType: "component_health", Active: true}
	c := a.Clone()
	c.Active = false
	c.Message = "changed"

	assert.True(t, a.Active)
	assert.Empty(t, a.Message)
	assert.Equal(t, AlertKey{Component: "database", AlertType: "component_health"}, a.Key())
}
