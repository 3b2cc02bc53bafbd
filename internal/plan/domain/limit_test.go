package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimitAdmits(t *testing.T) {
	limit := Bounded(100)

	assert.True(t, limit.Admits(99))
	assert.True(t, limit.Admits(100), "exactly-at-limit total is admitted")
	assert.False(t, limit.Admits(101))

	assert.True(t, Unlimited().Admits(1e12))
}

func TestLimitJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(Bounded(50))
	assert.NoError(t, err)
	assert.Equal(t, "50", string(data), "bounded limit encodes as a number")

	data, err = json.Marshal(Unlimited())
	assert.NoError(t, err)
	assert.Equal(t, `"unlimited"`, string(data))

	var decoded Limit
	assert.NoError(t, json.Unmarshal([]byte(`250`), &decoded))
	assert.False(t, decoded.IsUnlimited())
	assert.Equal(t, float64(250), decoded.Value())

	assert.NoError(t, json.Unmarshal([]byte(`"unlimited"`), &decoded))
	assert.True(t, decoded.IsUnlimited())

	assert.Error(t, json.Unmarshal([]byte(`"lots"`), &decoded))
	assert.Error(t, json.Unmarshal([]byte(`true`), &decoded))
}

func TestLimitMapScan(t *testing.T) {
	var limits LimitMap
	raw := []byte(`{"eosda_requests":100,"seats":"unlimited"}`)
	assert.NoError(t, limits.Scan(raw))

	assert.False(t, limits["eosda_requests"].IsUnlimited())
	assert.Equal(t, float64(100), limits["eosda_requests"].Value())
	assert.True(t, limits["seats"].IsUnlimited())

	var empty LimitMap
	assert.NoError(t, empty.Scan(nil))
	assert.NotNil(t, empty, "nil source produces an empty map")
}

func TestPlanLimitFor(t *testing.T) {
	plan := Plan{Limits: LimitMap{ResourceSeats: Bounded(5)}}

	got := plan.LimitFor(ResourceSeats)
	assert.False(t, got.IsUnlimited())
	assert.Equal(t, float64(5), got.Value())

	// Resources the plan does not name are unconstrained.
	assert.True(t, plan.LimitFor(ResourceParcels).IsUnlimited())
}

func TestParseTier(t *testing.T) {
	_, err := ParseTier("basic")
	assert.NoError(t, err)

	_, err = ParseTier("platinum")
	assert.Error(t, err)
}
