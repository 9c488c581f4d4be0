package framework

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/golang/glog"
)

// ErrForcedExit is returned by Wait when stopping was abandoned.
var ErrForcedExit = errors.New("forced exit")

type named struct {
	Runnable
	name string
}

func (n *named) Name() string {
	return n.name
}

// NamedRun names a Runnable for logs and errors.
func NamedRun(name string, runnable Runnable) Runnable {
	return &named{Runnable: runnable, name: name}
}

// Runner supervises Runnables sharing one context.
type Runner struct {
	// FailFast stops all Runnables once one of them fails.
	FailFast bool

	ctx     context.Context
	cancel  context.CancelFunc
	started int
	results chan error
	forced  chan struct{}
}

// NewRunner creates a Runner.
func NewRunner() *Runner {
	return newRunner(context.Background())
}

func newRunner(parent context.Context) *Runner {
	ctx, cancel := context.WithCancel(parent)
	return &Runner{
		ctx:     ctx,
		cancel:  cancel,
		results: make(chan error),
		forced:  make(chan struct{}),
	}
}

// HandleSignals stops the Runnables on SIGINT or SIGTERM. A second signal
// makes Wait give up on them.
func (r *Runner) HandleSignals() *Runner {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		glog.Infof("%v, stopping", <-sigCh)
		r.cancel()
		glog.Errorf("%v again, exiting", <-sigCh)
		close(r.forced)
	}()
	return r
}

// Go starts runnables in the background.
func (r *Runner) Go(runnables ...Runnable) *Runner {
	for _, runnable := range runnables {
		name := strconv.Itoa(r.started)
		if n, ok := runnable.(Named); ok {
			name = n.Name()
		}
		r.started++
		go r.run(name, runnable)
	}
	return r
}

func (r *Runner) run(name string, runnable Runnable) {
	glog.V(4).Infof("%s: running", name)
	err := runnable.Run(r.ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		glog.V(4).Infof("%s: done", name)
		r.results <- nil
		return
	}
	glog.Errorf("%s: %v", name, err)
	if r.FailFast {
		r.cancel()
	}
	r.results <- fmt.Errorf("%s: %w", name, err)
}

// Wait blocks until every started Runnable returns and aggregates their
// failures. The Runner can't be reused afterwards.
func (r *Runner) Wait() error {
	defer r.cancel()
	var errs AggregatedError
	for ; r.started > 0; r.started-- {
		select {
		case err := <-r.results:
			errs.Add(err)
		case <-r.forced:
			return ErrForcedExit
		}
	}
	return errs.Aggregate()
}

// RunAll runs runnables until all of them return. The first failure stops
// the rest.
func RunAll(ctx context.Context, runnables ...Runnable) error {
	r := newRunner(ctx)
	r.FailFast = true
	return r.Go(runnables...).Wait()
}

// RunWithContextCancel runs fn, which doesn't watch ctx, and calls onCancel
// if ctx is done first. It always waits for fn to return.
func RunWithContextCancel(ctx context.Context, onCancel func(), fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}
	if onCancel != nil {
		onCancel()
	}
	<-done
	return ctx.Err()
}

// RunWithContextCloser runs fn and closes closer exactly once, when ctx is
// done or after fn returns.
func RunWithContextCloser(ctx context.Context, closer io.Closer, fn func() error) error {
	var once sync.Once
	closeOnce := func() {
		once.Do(func() { closer.Close() })
	}
	defer closeOnce()
	return RunWithContextCancel(ctx, closeOnce, fn)
}
