package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	t.Run("team keys classify by the first token and extract the second", func(t *testing.T) {
		tests := []struct {
			key    string
			teamID string
			action string
		}{
			{"team.T1.event.created", "T1", "created"},
			{"team.42.event.updated", "42", "updated"},
			{"team.abc-def.event.cancelled", "abc-def", "cancelled"},
		}

		for _, tt := range tests {
			c := Classify(tt.key)
			assert.Equal(t, CategoryTeam, c.Category, tt.key)
			assert.Equal(t, tt.teamID, c.ScopeID, tt.key)
			assert.Equal(t, tt.action, c.Action, tt.key)
		}
	})

	t.Run("user keys classify as individual", func(t *testing.T) {
		c := Classify("user.U9.notification")
		assert.Equal(t, CategoryIndividual, c.Category)
		assert.Equal(t, "U9", c.ScopeID)
	})

	t.Run("province keys classify as province", func(t *testing.T) {
		c := Classify("province.P3.notification")
		assert.Equal(t, CategoryProvince, c.Category)
		assert.Equal(t, "P3", c.ScopeID)
	})

	t.Run("global key requires an exact match", func(t *testing.T) {
		assert.Equal(t, CategoryGlobal, Classify("all.users.notification").Category)
		assert.Equal(t, CategoryUnknown, Classify("all.users.notification.extra").Category)
		assert.Equal(t, CategoryUnknown, Classify("all.users").Category)
	})

	t.Run("malformed keys classify as unknown", func(t *testing.T) {
		for _, key := range []string{
			"",
			"team.T1.created",
			"team..event.created",
			"team.T1.event.",
			"user.U9",
			"user.U9.something",
			"province..notification",
			"payments.invoice.created",
		} {
			assert.Equal(t, CategoryUnknown, Classify(key).Category, "key=%q", key)
		}
	})
}

func TestRoutingKeyBuilders(t *testing.T) {
	assert.Equal(t, "team.T1.event.created", TeamEventKey("T1", "created"))
	assert.Equal(t, "user.U9.notification", UserKey("U9"))
	assert.Equal(t, "province.P3.notification", ProvinceKey("P3"))

	t.Run("built keys survive classification round trips", func(t *testing.T) {
		assert.Equal(t, CategoryTeam, Classify(TeamEventKey("T1", "created")).Category)
		assert.Equal(t, CategoryIndividual, Classify(UserKey("U9")).Category)
		assert.Equal(t, CategoryProvince, Classify(ProvinceKey("P3")).Category)
		assert.Equal(t, CategoryGlobal, Classify(GlobalRoutingKey).Category)
	})
}

func TestValidateRoutingKey(t *testing.T) {
	assert.NoError(t, ValidateRoutingKey("team.T1.event.created"))
	assert.NoError(t, ValidateRoutingKey(GlobalRoutingKey))

	err := ValidateRoutingKey("nonsense.key")
	assert.ErrorIs(t, err, ErrInvalidRoutingKey)

	err = ValidateRoutingKey("")
	assert.ErrorIs(t, err, ErrInvalidRoutingKey)
}
