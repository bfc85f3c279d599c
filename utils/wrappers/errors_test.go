// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wrappers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrsCollection(t *testing.T) {
	require := require.New(t)

	var errs Errs
	require.False(errs.Errored())
	require.NoError(errs.Err())

	errs.Add(nil)
	require.False(errs.Errored())

	first := errors.New("first")
	errs.Add(first, nil)
	require.True(errs.Errored())
	require.Equal(first, errs.Err())

	errs.Add(errors.New("second"))
	require.ErrorContains(errs.Err(), "first")
	require.ErrorContains(errs.Err(), "second")
}
