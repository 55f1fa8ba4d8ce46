// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package slang_test

import (
	"path/filepath"
	"testing"

	"github.com/born-ml/diffrast/slang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacade(t *testing.T) {
	assert.Equal(t, "soft-rasterizer2d", slang.ModuleName("shaders/soft-rasterizer2d.slang"))
	assert.Contains(t, slang.Backends(), "cpu")

	store, err := slang.OpenCache(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	entries, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.NotNil(t, slang.Logger())
	slang.SetLogger(nil)
	assert.NotNil(t, slang.Logger())
}
