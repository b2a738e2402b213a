// Package effects runs work that must not share a failure domain with the
// local write that triggered it: POS pushes, broadcasts, cache eviction.
package effects

import (
	"context"
	"log"
	"sync"
	"time"
)

type Runner interface {
	Run(label string, fn func(ctx context.Context))
}

// Async runs each effect on its own goroutine with a fresh bounded context.
type Async struct {
	Timeout time.Duration
	wg      sync.WaitGroup
}

func (a *Async) Run(label string, fn func(ctx context.Context)) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[effects] %s panicked: %v", label, r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until every started effect returned. Used on shutdown.
func (a *Async) Wait() {
	a.wg.Wait()
}

// Inline runs effects synchronously on the caller's goroutine.
type Inline struct{}

func (Inline) Run(label string, fn func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[effects] %s panicked: %v", label, r)
		}
	}()
	fn(context.Background())
}
