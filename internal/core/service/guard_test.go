package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/escrow-market/internal/core/domain"
)

func TestReentrancyGuard(t *testing.T) {
	var g ReentrancyGuard

	release, err := g.Enter()
	require.NoError(t, err)
	assert.True(t, g.Held())

	_, err = g.Enter()
	assert.True(t, errors.Is(err, domain.ErrReentrant))

	release()
	assert.False(t, g.Held())

	release, err = g.Enter()
	require.NoError(t, err)
	release()
}

func TestReentrancyGuard_ReleasedOnFailure(t *testing.T) {
	var g ReentrancyGuard

	guarded := func() (err error) {
		release, err := g.Enter()
		if err != nil {
			return err
		}
		defer release()
		return errors.New("boom")
	}

	require.Error(t, guarded())
	assert.False(t, g.Held())
}
