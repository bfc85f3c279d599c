// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package objstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTrip(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	store := NewMemory()

	require.NoError(store.PutObject(ctx, "segments/00000000000000000001", []byte("body")))

	body, err := store.GetObject(ctx, "segments/00000000000000000001")
	require.NoError(err)
	require.Equal([]byte("body"), body)

	_, err = store.GetObject(ctx, "segments/missing")
	require.True(IsNotFound(err))

	require.NoError(store.DeleteObject(ctx, "segments/00000000000000000001"))
	_, err = store.GetObject(ctx, "segments/00000000000000000001")
	require.True(IsNotFound(err))

	// Deleting a missing key is a no-op.
	require.NoError(store.DeleteObject(ctx, "segments/missing"))
}

func TestMemoryListPrefixOrdered(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	store := NewMemory()

	for _, key := range []string{
		"segments/00000000000000000003",
		"metadata/00000000000000000001",
		"segments/00000000000000000001",
		"segments/00000000000000000002",
	} {
		require.NoError(store.PutObject(ctx, key, []byte("x")))
	}

	keys, err := store.ListPrefix(ctx, "segments/")
	require.NoError(err)
	require.Equal([]string{
		"segments/00000000000000000001",
		"segments/00000000000000000002",
		"segments/00000000000000000003",
	}, keys)

	keys, err = store.ListPrefix(ctx, "absent/")
	require.NoError(err)
	require.Empty(keys)
}

func TestCategoryClassification(t *testing.T) {
	require := require.New(t)

	require.Equal(Timeout, CategoryOf(context.DeadlineExceeded))
	require.Equal(NotFound, CategoryOf(Categorize(NotFound, errors.New("x"))))
	require.Equal(Fatal, CategoryOf(errors.New("unclassified")))

	require.True(Network.Retryable())
	require.True(Timeout.Retryable())
	require.True(Transient.Retryable())
	require.False(NotFound.Retryable())
	require.False(PermissionDenied.Retryable())
	require.False(Fatal.Retryable())
}

func TestRetryPolicyRetriesTransient(t *testing.T) {
	require := require.New(t)

	policy := newRetryPolicy(3)
	var slept []time.Duration
	policy.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	calls := 0
	err := policy.do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return Categorize(Transient, errors.New("slow down"))
		}
		return nil
	})
	require.NoError(err)
	require.Equal(3, calls)
	require.Len(slept, 2)

	// Quadratic schedule: attempt n sleeps at least 1+n*n seconds.
	require.GreaterOrEqual(slept[0], 1*time.Second)
	require.GreaterOrEqual(slept[1], 2*time.Second)
}

func TestRetryPolicyStopsOnTerminal(t *testing.T) {
	require := require.New(t)

	policy := newRetryPolicy(5)
	policy.sleep = func(context.Context, time.Duration) error { return nil }

	calls := 0
	err := policy.do(context.Background(), func(context.Context) error {
		calls++
		return Categorize(PermissionDenied, errors.New("denied"))
	})
	require.Error(err)
	require.Equal(1, calls)
	require.Equal(PermissionDenied, CategoryOf(err))
}

func TestRetryPolicyExhaustsAttempts(t *testing.T) {
	require := require.New(t)

	policy := newRetryPolicy(2)
	policy.sleep = func(context.Context, time.Duration) error { return nil }

	calls := 0
	err := policy.do(context.Background(), func(context.Context) error {
		calls++
		return Categorize(Network, errors.New("reset"))
	})
	require.Error(err)
	require.Equal(3, calls)
}
