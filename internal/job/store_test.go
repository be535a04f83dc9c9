package job

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(id string, created time.Time) *Record {
	return &Record{ID: id, Status: StatusPending, CreatedAt: created, UpdatedAt: created}
}

func TestStore_PutGet(t *testing.T) {
	t.Parallel()
	s := NewStore()
	rec := newRecord("a", time.Unix(100, 0))
	rec.Meta = &Meta{TargetPlatforms: Platforms{"blog"}}

	s.Put(rec)
	rec.Meta.TargetPlatforms[0] = "changed"

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "blog", got.Meta.TargetPlatforms[0], "store must copy on put")

	got.Status = StatusFailed
	again, _ := s.Get("a")
	assert.Equal(t, StatusPending, again.Status, "store must copy on get")

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestStore_PutOverwrites(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Put(newRecord("a", time.Unix(100, 0)))

	replaced := newRecord("a", time.Unix(100, 0))
	replaced.Brief = "second"
	s.Put(replaced)

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "second", got.Brief)
	assert.Equal(t, 1, s.Len())
}

func TestStore_PutIfAbsent(t *testing.T) {
	t.Parallel()
	s := NewStore()
	first := newRecord("a", time.Unix(100, 0))
	first.Brief = "first"

	assert.True(t, s.PutIfAbsent(first))

	second := newRecord("a", time.Unix(200, 0))
	second.Brief = "second"
	assert.False(t, s.PutIfAbsent(second))

	got, _ := s.Get("a")
	assert.Equal(t, "first", got.Brief)
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Put(newRecord("a", time.Unix(100, 0)))

	assert.True(t, s.Delete("a"))
	assert.False(t, s.Delete("a"))
	_, ok := s.Get("a")
	assert.False(t, ok)
}

func TestStore_ListOrdering(t *testing.T) {
	t.Parallel()
	s := NewStore()
	base := time.Unix(1000, 0)
	s.Put(newRecord("old", base))
	s.Put(newRecord("new", base.Add(2*time.Second)))
	s.Put(newRecord("tie-1", base.Add(time.Second)))
	s.Put(newRecord("tie-2", base.Add(time.Second)))

	var ids []string
	for _, r := range s.List(nil) {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"new", "tie-2", "tie-1", "old"}, ids)
}

func TestStore_ListPredicate(t *testing.T) {
	t.Parallel()
	s := NewStore()
	for i := range 6 {
		rec := newRecord(fmt.Sprintf("job-%d", i), time.Unix(int64(i), 0))
		if i%2 == 0 {
			rec.Status = StatusFailed
		}
		s.Put(rec)
	}

	failed := s.List(func(r *Record) bool { return r.Status == StatusFailed })
	require.Len(t, failed, 3)
	assert.Equal(t, "job-4", failed[0].ID)
	assert.Equal(t, "job-0", failed[2].ID)
}

func TestStore_Mutate(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Put(newRecord("a", time.Unix(100, 0)))

	ok, err := s.Mutate("a", func(r *Record) error {
		r.Status = StatusProcessing
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
	got, _ := s.Get("a")
	assert.Equal(t, StatusProcessing, got.Status)

	t.Run("unknown id", func(t *testing.T) {
		ok, err := s.Mutate("missing", func(r *Record) error {
			t.Fatal("fn must not run for unknown ids")
			return nil
		})
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("error discards changes", func(t *testing.T) {
		boom := errors.New("boom")
		ok, err := s.Mutate("a", func(r *Record) error {
			r.Status = StatusFailed
			r.Errors = append(r.Errors, ErrorEntry{Message: "x"})
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.False(t, ok)
		got, _ := s.Get("a")
		assert.Equal(t, StatusProcessing, got.Status)
		assert.Empty(t, got.Errors)
	})
}

func TestStore_ConcurrentMutate(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Put(newRecord("a", time.Unix(100, 0)))

	const writers = 50
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Mutate("a", func(r *Record) error {
				r.Errors = append(r.Errors, ErrorEntry{Message: fmt.Sprint(i)})
				return nil
			})
		}()
	}
	wg.Wait()

	got, _ := s.Get("a")
	assert.Len(t, got.Errors, writers)
}
