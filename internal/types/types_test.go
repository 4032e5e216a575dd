package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestIsSourceKey(t *testing.T) {
	for _, key := range AllSourceKeys() {
		assert.True(t, IsSourceKey(string(key)), key)
	}
	assert.False(t, IsSourceKey("coinbase"))
	assert.False(t, IsSourceKey(""))
	assert.False(t, IsSourceKey("PRICES"))
}

func TestAllSourceKeys_ReturnsCopy(t *testing.T) {
	keys := AllSourceKeys()
	keys[0] = "mutated"
	assert.Equal(t, SourceWalletEVMBalances, AllSourceKeys()[0])
	assert.Len(t, AllSourceKeys(), 6)
}

func TestNormalizeQuoteCurrency(t *testing.T) {
	assert.Equal(t, "USD", NormalizeQuoteCurrency(""))
	assert.Equal(t, "EUR", NormalizeQuoteCurrency(" eur "))
	assert.Equal(t, "USD", NormalizeQuoteCurrency("usd"))
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, SnapshotRunning.IsTerminal())
	assert.True(t, SnapshotPartial.IsTerminal())
	assert.False(t, SourceRunPending.IsTerminal())
	assert.False(t, SourceRunRunning.IsTerminal())
	assert.True(t, SourceRunFailed.IsTerminal())
}

func TestMetaMerge(t *testing.T) {
	base := Meta{"a": 1, "b": 2}
	merged := base.Merge(Meta{"b": 3, "c": 4})

	assert.Equal(t, Meta{"a": 1, "b": 3, "c": 4}, merged)
	assert.Equal(t, Meta{"a": 1, "b": 2}, base, "receiver must not be mutated")
}

func TestMetaMerge_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("merged meta keeps every key of both sides", prop.ForAll(
		func(left, right map[string]int) bool {
			a, b := Meta{}, Meta{}
			for k, v := range left {
				a[k] = v
			}
			for k, v := range right {
				b[k] = v
			}
			merged := a.Merge(b)
			for k := range a {
				if _, ok := merged[k]; !ok {
					return false
				}
			}
			for k, v := range b {
				if merged[k] != v {
					return false
				}
			}
			return len(merged) <= len(a)+len(b)
		},
		gen.MapOf(gen.AlphaString(), gen.Int()),
		gen.MapOf(gen.AlphaString(), gen.Int()),
	))

	properties.TestingRun(t)
}
