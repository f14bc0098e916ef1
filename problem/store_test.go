// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package problem

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store := &FileStore{Root: t.TempDir()}
	key := Key{Problem: "Pushbot", Folder: "model", Function: "dynamics"}

	require.False(t, store.Exists(key))
	_, err := store.Load(key)
	require.ErrorIs(t, err, ErrIO)

	art := &Artifact{
		NumInputs:  3,
		NumOutputs: 2,
		NumParams:  1,
		RowCols:    [][]int{{0, 1}, {2}},
	}
	require.NoError(t, store.Store(key, art))
	require.True(t, store.Exists(key))

	got, err := store.Load(key)
	require.NoError(t, err)
	require.Equal(t, art, got)

	// No stray temporaries remain after the atomic write.
	entries, err := os.ReadDir(filepath.Join(store.Root, "Pushbot", "model"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestFileStoreCorruptArtifact(t *testing.T) {
	store := &FileStore{Root: t.TempDir()}
	key := Key{Problem: "Pushbot", Folder: "model", Function: "bad"}

	path := filepath.Join(store.Root, "Pushbot", "model", "bad.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := store.Load(key)
	require.ErrorIs(t, err, ErrIO)

	// A structurally invalid pattern is corrupt too.
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"num_inputs":2,"num_outputs":1,"row_cols":[[5]]}`), 0o644))
	_, err = store.Load(key)
	require.ErrorIs(t, err, ErrIO)
}
