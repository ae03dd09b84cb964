package cachemanager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockCacheManager is a testify mock of CacheManager.
type mockCacheManager[K ~string, V any] struct {
	mock.Mock
}

func newMockCacheManager[K ~string, V any](t *testing.T) *mockCacheManager[K, V] {
	m := &mockCacheManager[K, V]{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *mockCacheManager[K, V]) Get(ctx context.Context, key K) (V, bool) {
	args := m.Called(ctx, key)
	return args.Get(0).(V), args.Bool(1)
}

func (m *mockCacheManager[K, V]) GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool) {
	args := m.Called(ctx, key, ttl)
	return args.Get(0).(V), args.Bool(1)
}

func (m *mockCacheManager[K, V]) Set(ctx context.Context, key K, value V, ttl time.Duration) {
	m.Called(ctx, key, value, ttl)
}

func (m *mockCacheManager[K, V]) Delete(ctx context.Context, keys ...K) error {
	return m.Called(ctx, keys).Error(0)
}

func (m *mockCacheManager[K, V]) Flush(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockCacheManager[K, V]) Len() int {
	return m.Called().Int(0)
}

type lookup struct {
	ID string
}

func loadClasses(_ context.Context, in lookup) ([]string, error) {
	return []string{"class:" + in.ID}, nil
}

func TestReadThroughCache_Get_WithCacheDisabled(t *testing.T) {
	managerMock := newMockCacheManager[string, []string](t)

	rtc := NewReadThroughCache[string, []string, lookup](managerMock, loadClasses, true)

	got, err := rtc.Get(context.Background(), "key", lookup{ID: "sqs"}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, []string{"class:sqs"}, got)
}

func TestReadThroughCache_GetWithRefresh_WithCacheDisabled(t *testing.T) {
	managerMock := newMockCacheManager[string, []string](t)

	rtc := NewReadThroughCache[string, []string, lookup](managerMock, loadClasses, true)

	got, err := rtc.GetWithRefresh(context.Background(), "key", lookup{ID: "sqs"}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, []string{"class:sqs"}, got)
}

func TestReadThroughCache_Get_WithValueInCache(t *testing.T) {
	managerMock := newMockCacheManager[string, []string](t)
	managerMock.On("Get", mock.Anything, "key").Return([]string{"cached"}, true)

	rtc := NewReadThroughCache[string, []string, lookup](managerMock, loadClasses, false)

	got, err := rtc.Get(context.Background(), "key", lookup{ID: "sqs"}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, []string{"cached"}, got)
}

func TestReadThroughCache_Get_EmptyCache(t *testing.T) {
	managerMock := newMockCacheManager[string, []string](t)
	managerMock.On("Get", mock.Anything, "key").Return([]string(nil), false)
	managerMock.On("Set", mock.Anything, "key", []string{"class:sqs"}, time.Minute).Return()

	rtc := NewReadThroughCache[string, []string, lookup](managerMock, loadClasses, false)

	got, err := rtc.Get(context.Background(), "key", lookup{ID: "sqs"}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, []string{"class:sqs"}, got)
}

func TestReadThroughCache_Get_LoadError(t *testing.T) {
	managerMock := newMockCacheManager[string, []string](t)
	managerMock.On("Get", mock.Anything, "key").Return([]string(nil), false)

	rtc := NewReadThroughCache[string, []string, lookup](
		managerMock,
		func(context.Context, lookup) ([]string, error) {
			return nil, errors.New("library unavailable")
		},
		false,
	)

	_, err := rtc.Get(context.Background(), "key", lookup{ID: "sqs"}, time.Minute)
	require.EqualError(t, err, "library unavailable")
	managerMock.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReadThroughCache_GetWithRefresh_WithValueInCache(t *testing.T) {
	managerMock := newMockCacheManager[string, []string](t)
	managerMock.On("GetWithRefresh", mock.Anything, "key", time.Minute).Return([]string{"cached"}, true)

	rtc := NewReadThroughCache[string, []string, lookup](managerMock, loadClasses, false)

	got, err := rtc.GetWithRefresh(context.Background(), "key", lookup{ID: "sqs"}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, []string{"cached"}, got)
}

func TestReadThroughCache_GetWithRefresh_EmptyCache(t *testing.T) {
	managerMock := newMockCacheManager[string, []string](t)
	managerMock.On("GetWithRefresh", mock.Anything, "key", time.Minute).Return([]string(nil), false)
	managerMock.On("Set", mock.Anything, "key", []string{"class:sqs"}, time.Minute).Return()

	rtc := NewReadThroughCache[string, []string, lookup](managerMock, loadClasses, false)

	got, err := rtc.GetWithRefresh(context.Background(), "key", lookup{ID: "sqs"}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, []string{"class:sqs"}, got)
}

func TestReadThroughCache_ConcurrentMissesShareOneLoad(t *testing.T) {
	cache := NewInMemoryCacheManager[string, []string]("classes", DefaultExpiration, DefaultCleanupInterval)

	var calls atomic.Int32
	release := make(chan struct{})
	rtc := NewReadThroughCache[string, []string, lookup](
		cache,
		func(ctx context.Context, in lookup) ([]string, error) {
			calls.Add(1)
			<-release
			return loadClasses(ctx, in)
		},
		false,
	)

	const callers = 8
	var started, done sync.WaitGroup
	results := make([][]string, callers)
	for i := range callers {
		started.Add(1)
		done.Add(1)
		go func() {
			defer done.Done()
			started.Done()
			results[i], _ = rtc.Get(context.Background(), "aws/integration", lookup{ID: "sqs"}, time.Minute)
		}()
	}
	started.Wait()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	done.Wait()

	for _, r := range results {
		require.Equal(t, []string{"class:sqs"}, r)
	}

	got, err := rtc.Get(context.Background(), "aws/integration", lookup{ID: "sqs"}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, []string{"class:sqs"}, got)
	require.LessOrEqual(t, calls.Load(), int32(callers))
	require.Equal(t, 1, cache.Len())
}
