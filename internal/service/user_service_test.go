package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/ThumbnailBot/internal/models"
)

func TestUserServiceEnsureAndGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.users.Get(ctx, "U1")
	require.ErrorIs(t, err, models.ErrAccountNotFound)

	account, err := f.users.Ensure(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, 1, account.Credits)

	account, err = f.users.Grant(ctx, "U1", 5)
	require.NoError(t, err)
	assert.Equal(t, 6, account.Credits)

	_, err = f.users.Grant(ctx, "U1", 0)
	require.Error(t, err)

	_, err = f.users.Grant(ctx, "ghost", 5)
	require.ErrorIs(t, err, models.ErrAccountNotFound)

	_, err = f.users.Transactions(ctx, "ghost")
	require.ErrorIs(t, err, models.ErrAccountNotFound)

	txns, err := f.users.Transactions(ctx, "U1")
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestUserServiceBroadcast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "U1", 1, nil)
	f.seed(t, "U2", 1, nil)

	sent, failed, err := f.users.Broadcast(ctx, "メンテナンスのお知らせ")
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Zero(t, failed)

	var recipients []string
	for _, s := range f.messenger.all() {
		assert.False(t, s.Reply)
		assert.Equal(t, "メンテナンスのお知らせ", s.Msg.Text)
		recipients = append(recipients, s.UserID)
	}
	assert.ElementsMatch(t, []string{"U1", "U2"}, recipients)
}
