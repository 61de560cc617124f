package library

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertResult_InsertThenReplace(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mf, err := store.AddFile(ctx, "heat.mp4", 100, time.Now().UTC())
	require.NoError(t, err)

	res, err := store.UpsertResult(ctx, mf.FileID, "detect", "ext-1", "completed", []byte(`{"objects":3}`))
	require.NoError(t, err)
	assert.Equal(t, "completed", res.Status)
	assert.JSONEq(t, `{"objects":3}`, string(res.Payload))

	// Re-running the same kind replaces the stored result.
	res2, err := store.UpsertResult(ctx, mf.FileID, "detect", "ext-2", "completed", []byte(`{"objects":7}`))
	require.NoError(t, err)
	assert.Equal(t, "ext-2", res2.ExternalJobID)
	assert.JSONEq(t, `{"objects":7}`, string(res2.Payload))

	all, err := store.ListResults(ctx, mf.FileID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetResult_Unknown(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetResult(context.Background(), "nope", "detect")
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestListResults_OrderedByKind(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mf, err := store.AddFile(ctx, "heat.mp4", 100, time.Now().UTC())
	require.NoError(t, err)

	_, err = store.UpsertResult(ctx, mf.FileID, "transcribe", "", "completed", nil)
	require.NoError(t, err)
	_, err = store.UpsertResult(ctx, mf.FileID, "detect", "", "completed", []byte(`{}`))
	require.NoError(t, err)

	all, err := store.ListResults(ctx, mf.FileID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "detect", all[0].Kind)
	assert.Equal(t, "transcribe", all[1].Kind)
	assert.Nil(t, all[1].Payload)
}
