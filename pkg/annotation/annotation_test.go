package annotation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	a := IdleAnnotation{
		LastIdleCheck:    &now,
		NetworkIdleSince: &now,
	}

	raw, err := a.Serialize()
	require.NoError(t, err)

	got := Parse(raw)
	require.NotNil(t, got.LastIdleCheck)
	assert.True(t, got.LastIdleCheck.Equal(now))
	require.NotNil(t, got.NetworkIdleSince)
	assert.True(t, got.NetworkIdleSince.Equal(now))
	assert.Nil(t, got.CPUIdleSince)
}

func TestParseEmptyOrInvalid(t *testing.T) {
	assert.Equal(t, IdleAnnotation{}, Parse(""))
	assert.Equal(t, IdleAnnotation{}, Parse("not json"))
}

func TestInvalidateIfStale(t *testing.T) {
	now := time.Now()
	old := now.Add(-10 * time.Minute)
	a := IdleAnnotation{
		LastIdleCheck:    &old,
		CPUIdleSince:     &old,
		NetworkIdleSince: &old,
	}

	got := a.InvalidateIfStale(now)
	assert.Nil(t, got.CPUIdleSince)
	assert.Nil(t, got.NetworkIdleSince)

	recent := now.Add(-1 * time.Minute)
	b := IdleAnnotation{
		LastIdleCheck:    &recent,
		CPUIdleSince:     &recent,
		NetworkIdleSince: &recent,
	}
	got2 := b.InvalidateIfStale(now)
	assert.NotNil(t, got2.CPUIdleSince)
	assert.NotNil(t, got2.NetworkIdleSince)
}
