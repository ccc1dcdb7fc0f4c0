package ty

import (
	"context"
	"sync"
	"time"
)

// Result holds either a value or the error that prevented it.
type Result[T any] struct {
	Ok  T
	Err error
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Ok: v}
}

// Fail wraps an error.
func Fail[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

// IsOk reports whether the result carries a value.
func (r Result[T]) IsOk() bool {
	return r.Err == nil
}

// Unwrap returns the value and the error, in the usual Go order.
func (r Result[T]) Unwrap() (T, error) {
	return r.Ok, r.Err
}

// ShutdownContext runs background work that must finish (or time out)
// before the process exits.
type ShutdownContext struct {
	Background       context.Context
	WaitGroup        *sync.WaitGroup
	ShutdownDuration time.Duration
}

// NewShutdownContext returns a ShutdownContext whose tasks are bounded by d.
func NewShutdownContext(bg context.Context, d time.Duration) ShutdownContext {
	return ShutdownContext{
		Background:       bg,
		WaitGroup:        &sync.WaitGroup{},
		ShutdownDuration: d,
	}
}

func (s ShutdownContext) Run(f func(ctx context.Context)) {
	s.WaitGroup.Add(1)
	go func() {
		ctx, cancel := context.WithTimeout(s.Background, s.ShutdownDuration)
		defer func() {
			cancel()
			s.WaitGroup.Done()
		}()
		f(ctx)
	}()
}

// Wait blocks until every task started with Run has returned.
func (s ShutdownContext) Wait() {
	s.WaitGroup.Wait()
}
