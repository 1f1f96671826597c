package peer

import (
	"context"
	"testing"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/pyropy/dbs/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileMetadataStore(t *testing.T) {
	ctx := context.Background()
	root := dssync.MutexWrap(ds.NewMapDatastore())
	files := NewFileMetadataStore(root)

	_, err := files.Get(ctx, "/home/user/a.txt")
	assert.ErrorIs(t, err, ErrFileNotBackedUp)

	a := model.NewFileMetadata("/home/user/a.txt", "id-a", 10, 1, 2)
	b := model.NewFileMetadata("/home/user/docs/b.txt", "id-b", 70000, 2, 3)
	require.NoError(t, files.AddNewFileMetadata(ctx, a))
	require.NoError(t, files.AddNewFileMetadata(ctx, b))

	got, err := files.Get(ctx, "/home/user/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "id-a", got.FileID)
	assert.Equal(t, 2, got.ReplicationDegree)

	exists, err := files.CheckFileExists(ctx, "/home/user/docs/b.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	owns, err := files.HasFileID(ctx, "id-b")
	require.NoError(t, err)
	assert.True(t, owns)

	all, err := files.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, files.Remove(ctx, a))

	owns, err = files.HasFileID(ctx, "id-a")
	require.NoError(t, err)
	assert.False(t, owns)

	all, err = files.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "id-b", all[0].FileID)

	// records live in their own namespace
	other, err := root.Has(ctx, ds.NewKey("/paths/home/user/docs/b.txt"))
	require.NoError(t, err)
	assert.False(t, other)
}
