package orders

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	numbers []string
	err     error
	limit   int
}

func (s *sliceSource) RecentDONumbers(_ context.Context, limit int) ([]string, error) {
	s.limit = limit
	return s.numbers, s.err
}

func TestParseDONumber(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"DO-1", 1, true},
		{"DO-0042", 42, true},
		{" DO-7 ", 7, true},
		{"DO-", 0, false},
		{"do-5", 0, false},
		{"DO-5A", 0, false},
		{"INV-9", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			n, ok := ParseDONumber(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, n)
		})
	}
}

func TestHighWaterIgnoresMalformed(t *testing.T) {
	assert.Equal(t, int64(12), HighWater([]string{"DO-3", "legacy", "DO-12", "DO-x", "DO-9"}))
	assert.Zero(t, HighWater(nil))
	assert.Zero(t, HighWater([]string{"junk", "DO-"}))
}

func TestAllocatorNext(t *testing.T) {
	t.Run("empty store starts at one", func(t *testing.T) {
		a := NewAllocator(&sliceSource{}, 0)
		n, err := a.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.Equal(t, "DO-1", FormatDONumber(n))
	})

	t.Run("uses maximum not most recent", func(t *testing.T) {
		src := &sliceSource{numbers: []string{"DO-7", "DO-41", "DO-40"}}
		a := NewAllocator(src, 25)
		n, err := a.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(42), n)
		assert.Equal(t, 25, src.limit)
	})

	t.Run("default lookback", func(t *testing.T) {
		src := &sliceSource{}
		_, err := NewAllocator(src, -1).Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, DefaultLookback, src.limit)
	})

	t.Run("source failure", func(t *testing.T) {
		_, err := NewAllocator(&sliceSource{err: errBoom}, 10).Next(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errBoom))
	})
}
