package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/ehrlich-b/go-echoq"
	"github.com/ehrlich-b/go-echoq/internal/logging"
)

// syncTestSizes are the payload sizes of the synchronous round trip
var syncTestSizes = []int{512, 30 * 1024}

// createPattern returns n bytes where byte i is byte(i)
func createPattern(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i)
	}
	return buf
}

// verifyPattern checks buf against createPattern's output
func verifyPattern(buf []byte) error {
	for i, b := range buf {
		if b != byte(i) {
			return fmt.Errorf("pattern mismatch at offset %d: got %#x, want %#x", i, b, byte(i))
		}
	}
	return nil
}

// runSync writes each test size, reads it back, and verifies length and
// contents. Every failure is reported.
func runSync(ctx context.Context, dev *echoq.Device, logger *logging.Logger) error {
	var errs error
	for _, size := range syncTestSizes {
		if err := roundTrip(ctx, dev, size, logger); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%d byte round trip: %w", size, err))
		}
	}
	return errs
}

func roundTrip(ctx context.Context, dev *echoq.Device, size int, logger *logging.Logger) error {
	start := time.Now()
	n, err := dev.WriteSync(ctx, createPattern(size))
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if n != size {
		return fmt.Errorf("wrote %d bytes, want %d", n, size)
	}
	logger.Info("write completed", "bytes", n, "elapsed", time.Since(start).String())

	out := make([]byte, size)
	start = time.Now()
	n, err = dev.ReadSync(ctx, out)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if n != size {
		return fmt.Errorf("read %d bytes, want %d", n, size)
	}
	logger.Info("read completed", "bytes", n, "elapsed", time.Since(start).String())

	return verifyPattern(out[:n])
}

type asyncOptions struct {
	Count          int // requests per direction; 0 runs until ctx is done
	Outstanding    int
	BufferSize     int
	RequestTimeout time.Duration
}

type asyncStats struct {
	WritesOK, WritesCancelled, WritesFailed atomic.Int64
	ReadsOK, ReadsCancelled, ReadsFailed    atomic.Int64
}

// runAsync runs a writer and a reader concurrently, each keeping up to
// Outstanding requests in flight. Requests that hit their timeout are
// cancelled and counted, not treated as failures.
func runAsync(ctx context.Context, dev *echoq.Device, opts asyncOptions, logger *logging.Logger) (*asyncStats, error) {
	stats := &asyncStats{}
	var mu sync.Mutex
	var errs error
	fail := func(err error) {
		mu.Lock()
		errs = multierr.Append(errs, err)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		issue(gctx, opts, func(reqCtx context.Context) error {
			payload := createPattern(opts.BufferSize)
			n, err := dev.Write(reqCtx, payload).Wait(reqCtx)
			switch {
			case errors.Is(err, echoq.ErrCancelled):
				stats.WritesCancelled.Add(1)
			case err != nil:
				stats.WritesFailed.Add(1)
				return fmt.Errorf("write: %w", err)
			case n != len(payload):
				stats.WritesFailed.Add(1)
				return fmt.Errorf("write reported %d bytes, want %d", n, len(payload))
			default:
				stats.WritesOK.Add(1)
			}
			return nil
		}, fail)
		return nil
	})
	g.Go(func() error {
		issue(gctx, opts, func(reqCtx context.Context) error {
			out := make([]byte, opts.BufferSize)
			n, err := dev.Read(reqCtx, out).Wait(reqCtx)
			switch {
			case errors.Is(err, echoq.ErrCancelled):
				stats.ReadsCancelled.Add(1)
			case err != nil:
				stats.ReadsFailed.Add(1)
				return fmt.Errorf("read: %w", err)
			default:
				if err := verifyPattern(out[:n]); err != nil {
					stats.ReadsFailed.Add(1)
					return fmt.Errorf("read: %w", err)
				}
				stats.ReadsOK.Add(1)
			}
			return nil
		}, fail)
		return nil
	})
	if err := g.Wait(); err != nil {
		fail(err)
	}

	logger.Info("async test finished",
		"writes_ok", stats.WritesOK.Load(), "writes_cancelled", stats.WritesCancelled.Load(),
		"reads_ok", stats.ReadsOK.Load(), "reads_cancelled", stats.ReadsCancelled.Load())
	return stats, errs
}

// issue calls do up to opts.Count times (forever when 0) with at most
// opts.Outstanding calls in flight, then waits for them all
func issue(ctx context.Context, opts asyncOptions, do func(context.Context) error, fail func(error)) {
	slots := make(chan struct{}, opts.Outstanding)
	var wg sync.WaitGroup
	defer wg.Wait()

	for i := 0; opts.Count == 0 || i < opts.Count; i++ {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()

			reqCtx, cancel := context.WithTimeout(ctx, opts.RequestTimeout)
			defer cancel()
			if err := do(reqCtx); err != nil {
				fail(err)
			}
		}()
	}
}
