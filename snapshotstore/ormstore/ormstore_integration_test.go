//go:build integration

package ormstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ormKit "github.com/superj80820/streamproc/kit/orm"
	containerKit "github.com/superj80820/streamproc/kit/testing/postgres/container"
	"github.com/superj80820/streamproc/logstream"
	"github.com/superj80820/streamproc/snapshotstore/ormstore"
)

// TestOrmstoreRoundTripsThroughPostgres exercises the real kit/orm ->
// gorm -> postgres path the way the teacher's repository tests bring up
// a containerized database instead of mocking gorm.
func TestOrmstoreRoundTripsThroughPostgres(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	container, err := containerKit.CreatePostgres(ctx, "testdata/init.sql")
	require.NoError(t, err)
	defer container.Terminate(context.Background())

	store, err := ormstore.Open(ormKit.UsePostgres(container.GetURI()))
	require.NoError(t, err)

	none, err := store.LastSnapshot(ctx, "demo")
	require.NoError(t, err)
	assert.Nil(t, none)

	writer, err := store.CreateSnapshot(ctx, "demo", logstream.Position(7))
	require.NoError(t, err)
	_, err = writer.Write([]byte("snapshot-blob"))
	require.NoError(t, err)
	require.NoError(t, writer.Commit(ctx))

	snap, err := store.LastSnapshot(ctx, "demo")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, logstream.Position(7), snap.Position)
	assert.Equal(t, []byte("snapshot-blob"), snap.Blob)

	newer, err := store.CreateSnapshot(ctx, "demo", logstream.Position(9))
	require.NoError(t, err)
	_, err = newer.Write([]byte("newer-blob"))
	require.NoError(t, err)
	require.NoError(t, newer.Commit(ctx))

	latest, err := store.LastSnapshot(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, logstream.Position(9), latest.Position)
	assert.Equal(t, []byte("newer-blob"), latest.Blob)
}
