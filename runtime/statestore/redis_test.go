package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/sessionctx"
)

func TestRedisStore_KeyLayout(t *testing.T) {
	store, mr := setupRedisStore(t, WithPrefix("support"))
	ctx := context.Background()

	c, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, c))

	assert.True(t, mr.Exists("support:session:sess-1"))
	members, err := mr.Members("support:sessions")
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-1"}, members)
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	store, mr := setupRedisStore(t, WithTTL(time.Hour))
	ctx := context.Background()

	c, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	c.AppendTurn(sessionctx.TurnRecord{Input: "hello"})
	require.NoError(t, store.Save(ctx, c))
	assert.Equal(t, time.Hour, mr.TTL("ctxengine:session:sess-1"))

	mr.FastForward(2 * time.Hour)

	loaded, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, loaded.ConversationHistory, "expired session starts over")

	ids, err := store.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, ids)
	members, _ := mr.Members("ctxengine:sessions")
	assert.Empty(t, members, "stale index entries are pruned")
}

func TestRedisStore_NoTTL(t *testing.T) {
	store, mr := setupRedisStore(t, WithTTL(0))
	ctx := context.Background()

	c, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, c))
	assert.Zero(t, mr.TTL("ctxengine:session:sess-1"))
}

func TestRedisStore_ConflictWithExternalWriter(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	c, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, c))

	stale, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)

	require.NoError(t, mr.Set("ctxengine:session:sess-1", `{"session_id":"sess-1","version":7}`))

	stale.AppendTurn(sessionctx.TurnRecord{Input: "late"})
	assert.ErrorIs(t, store.Save(ctx, stale), ErrConflict)
}

func TestRedisStore_LoadCorruptRecord(t *testing.T) {
	store, mr := setupRedisStore(t)
	require.NoError(t, mr.Set("ctxengine:session:bad", "{not json"))

	_, err := store.Load(context.Background(), "bad")
	assert.Error(t, err)
}

func TestRedisStore_Unavailable(t *testing.T) {
	store, mr := setupRedisStore(t)
	mr.Close()

	_, err := store.Load(context.Background(), "sess-1")
	assert.Error(t, err)

	err = store.Save(context.Background(), sessionctx.New("sess-1"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrConflict)
}
