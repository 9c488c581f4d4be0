package framework

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type tickRecorder struct {
	ticks  []uint64
	tokens []uint32
}

func (r *tickRecorder) OnTick(tc TickContext, token uint32) {
	r.ticks = append(r.ticks, tc.Tick)
	r.tokens = append(r.tokens, token)
}

func TestRateGroupDriverUsage(t *testing.T) {
	d := NewRateGroupDriver()
	ctx := context.Background()
	require.Equal(t, ErrNotStarted, d.Tick(ctx))
	require.Equal(t, ErrNotConfigured, d.Start())
	require.True(t, errors.Is(d.Configure(Divider{Divisor: 0}), ErrInvalidDivider))
	require.True(t, errors.Is(d.Configure(Divider{Divisor: 4, Offset: 4}), ErrInvalidDivider))
	require.NoError(t, d.Configure(Divider{Divisor: 2}))
	require.True(t, errors.Is(d.Connect(1, &tickRecorder{}), ErrNoSuchDivider))
	require.Equal(t, ErrNotStarted, d.Tick(ctx))
	require.NoError(t, d.Start())
	require.Equal(t, ErrAlreadyStarted, d.Configure(Divider{Divisor: 3}))
	require.Equal(t, ErrAlreadyStarted, d.Connect(0, &tickRecorder{}))
	require.NoError(t, d.Tick(ctx))
	require.Equal(t, uint64(1), d.Ticks())
}

func TestRateGroupDriverActivations(t *testing.T) {
	testCases := []struct {
		divisor, offset uint32
		ticks           int
	}{
		{1, 0, 7},
		{2, 0, 7},
		{3, 0, 9},
		{3, 0, 11},
		{100, 0, 1000},
		{200, 0, 999},
		{1000, 0, 999},
		{1000, 0, 1000},
		{10, 3, 45},
	}
	for _, tc := range testCases {
		d := NewRateGroupDriver()
		require.NoError(t, d.Configure(Divider{Divisor: tc.divisor, Offset: tc.offset}))
		rec := &tickRecorder{}
		require.NoError(t, d.Connect(0, rec))
		require.NoError(t, d.Start())
		for i := 0; i < tc.ticks; i++ {
			require.NoError(t, d.Tick(context.Background()))
		}
		var expect []uint64
		for n := uint64(1); n <= uint64(tc.ticks); n++ {
			if n%uint64(tc.divisor) == uint64(tc.offset) {
				expect = append(expect, n)
			}
		}
		require.Equal(t, expect, rec.ticks, "divisor %d offset %d ticks %d", tc.divisor, tc.offset, tc.ticks)
		if tc.offset == 0 {
			require.Len(t, rec.ticks, tc.ticks/int(tc.divisor))
		}
	}
}

func TestRateGroupDriverOrder(t *testing.T) {
	d := NewRateGroupDriver()
	require.NoError(t, d.Configure(Divider{Divisor: 1}, Divider{Divisor: 2}, Divider{Divisor: 4}))
	var order []string
	mark := func(name string) Tickable {
		return TickFunc(func(tc TickContext, token uint32) {
			order = append(order, name)
		})
	}
	require.NoError(t, d.Connect(2, mark("c")))
	require.NoError(t, d.Connect(0, mark("a1"), mark("a2")))
	require.NoError(t, d.Connect(1, mark("b")))
	require.NoError(t, d.Start())
	for i := 0; i < 4; i++ {
		require.NoError(t, d.Tick(context.Background()))
	}
	require.Equal(t, []string{
		"a1", "a2",
		"a1", "a2", "b",
		"a1", "a2",
		"a1", "a2", "b", "c",
	}, order)
}

func TestRateGroupDriverFireOnZero(t *testing.T) {
	d := NewRateGroupDriver()
	d.FireOnZero = true
	require.NoError(t, d.Configure(Divider{Divisor: 3}))
	rec := &tickRecorder{}
	require.NoError(t, d.Connect(0, rec))
	require.NoError(t, d.Start())
	for i := 0; i < 7; i++ {
		require.NoError(t, d.Tick(context.Background()))
	}
	require.Equal(t, []uint64{0, 3, 6}, rec.ticks)
	require.Equal(t, []uint32{0, 0, 0}, rec.tokens)
}

func TestRateGroupDriverRun(t *testing.T) {
	d := NewRateGroupDriver()
	require.NoError(t, d.Configure(Divider{Divisor: 1}))
	ticked := make(chan struct{}, 1)
	require.NoError(t, d.Connect(0, TickFunc(func(TickContext, uint32) {
		select {
		case ticked <- struct{}{}:
		default:
		}
	})))
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()
	select {
	case <-ticked:
	case <-time.After(5 * time.Second):
		t.Fatal("no tick")
	}
	cancel()
	require.Equal(t, context.Canceled, <-errCh)
}
