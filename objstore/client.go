// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package objstore abstracts the S3-compatible object store so MinIO, AWS
// S3 and the in-memory test double share one implementation path.
package objstore

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"
)

// Client is the capability set the archival tier needs from an object
// store.
type Client interface {
	// PutObject stores body under key, overwriting any prior object.
	PutObject(ctx context.Context, key string, body []byte) error

	// GetObject returns the object stored under key.
	GetObject(ctx context.Context, key string) ([]byte, error)

	// DeleteObject removes key. Deleting a missing key is a no-op.
	DeleteObject(ctx context.Context, key string) error

	// ListPrefix returns the keys under prefix in lexicographic order.
	ListPrefix(ctx context.Context, prefix string) ([]string, error)

	// HealthCheck verifies the store is reachable and the bucket
	// accessible.
	HealthCheck(ctx context.Context) error
}

// Category classifies object store failures for the retry policy.
type Category uint8

const (
	// Fatal failures do not retry.
	Fatal Category = iota
	// Network failures retry.
	Network
	// NotFound is terminal for the request but not an outage.
	NotFound
	// PermissionDenied is terminal; retrying cannot help.
	PermissionDenied
	// Timeout retries.
	Timeout
	// Transient covers throttling and 5xx responses; retries.
	Transient
)

func (c Category) String() string {
	switch c {
	case Network:
		return "network"
	case NotFound:
		return "not_found"
	case PermissionDenied:
		return "permission_denied"
	case Timeout:
		return "timeout"
	case Transient:
		return "transient"
	default:
		return "fatal"
	}
}

// Retryable reports whether the category warrants another attempt.
func (c Category) Retryable() bool {
	switch c {
	case Network, Timeout, Transient:
		return true
	default:
		return false
	}
}

// categorizedError attaches a Category to a cause.
type categorizedError struct {
	category Category
	err      error
}

func (e *categorizedError) Error() string {
	return e.category.String() + ": " + e.err.Error()
}

func (e *categorizedError) Unwrap() error { return e.err }

// Categorize wraps err with an explicit category.
func Categorize(category Category, err error) error {
	if err == nil {
		return nil
	}
	return &categorizedError{category: category, err: err}
}

// CategoryOf extracts the category from err, classifying well-known
// network and context failures when no explicit category is attached.
func CategoryOf(err error) Category {
	var ce *categorizedError
	if errors.As(err, &ce) {
		return ce.category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return Timeout
		}
		return Network
	}
	return Fatal
}

// IsNotFound reports whether err is a missing-object failure.
func IsNotFound(err error) bool {
	return err != nil && CategoryOf(err) == NotFound
}

// retryPolicy runs object-store calls with the bounded quadratic backoff:
// attempt n sleeps 1 + n*n seconds, jittered by up to one second.
type retryPolicy struct {
	maxRetries int
	sleep      func(context.Context, time.Duration) error
}

func newRetryPolicy(maxRetries int) *retryPolicy {
	return &retryPolicy{
		maxRetries: maxRetries,
		sleep:      sleepContext,
	}
}

func (p *retryPolicy) do(ctx context.Context, op func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if attempt >= p.maxRetries || !CategoryOf(err).Retryable() {
			return err
		}
		backoff := time.Duration(1+attempt*attempt) * time.Second
		backoff += time.Duration(rand.Int63n(int64(time.Second)))
		if serr := p.sleep(ctx, backoff); serr != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
