// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReportAggregation(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	reg := NewRegistry()
	reg.Register("ok", CheckFn(func(context.Context) (interface{}, error) {
		return map[string]int{"n": 1}, nil
	}))

	report := reg.Report(ctx)
	require.True(report.Healthy)
	require.Len(report.Checks, 1)
	require.Equal("ok", report.Checks[0].Name)

	reg.Register("broken", CheckFn(func(context.Context) (interface{}, error) {
		return nil, errors.New("down")
	}))
	report = reg.Report(ctx)
	require.False(report.Healthy)
	require.Len(report.Checks, 2)
	require.Equal("down", report.Checks[1].Error)

	// Re-registering replaces the check in place.
	reg.Register("broken", CheckFn(func(context.Context) (interface{}, error) {
		return nil, nil
	}))
	report = reg.Report(ctx)
	require.True(report.Healthy)
	require.Len(report.Checks, 2)
}
