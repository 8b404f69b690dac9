package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eremconecta/portal/internal/adapter"
)

func TestStore_PutAndGet(t *testing.T) {
	s := NewStore(0)
	ctx := context.Background()

	body := []byte(`{"ok":true}`)
	require.NoError(t, s.PutObject(ctx, "b", "records/1.json", body, "application/json"))
	body[0] = 'X'

	obj, err := s.Get("b", "records/1.json")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(obj.Body), "stored bytes are copied")

	require.NoError(t, s.PutObject(ctx, "b", "records/0.json", nil, "application/json"))
	require.NoError(t, s.PutObject(ctx, "other", "x.json", nil, "application/json"))
	assert.Equal(t, []string{"records/0.json", "records/1.json"}, s.Keys("b"))

	_, err = s.Get("b", "missing")
	assert.ErrorIs(t, err, adapter.ErrNotFound)
}

func TestStore_Limits(t *testing.T) {
	s := NewStore(4)
	ctx := context.Background()

	assert.ErrorIs(t, s.PutObject(ctx, "b", "k", []byte("12345"), ""), adapter.ErrTooLarge)
	assert.ErrorIs(t, s.PutObject(ctx, "", "k", nil, ""), adapter.ErrBucketRequired)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, s.PutObject(cancelled, "b", "k", nil, ""), context.Canceled)
}
