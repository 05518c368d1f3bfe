package core

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/shoaibkh4n/google-agentic/internal/auth"
	"github.com/shoaibkh4n/google-agentic/internal/capability"
)

// Dispatcher executes the actions a resolved intent implies against the
// capability clients and aggregates per-capability outcomes. It never fails
// wholesale: every target gets exactly one ActionResult.
type Dispatcher interface {
	Dispatch(ctx context.Context, sess auth.Session, intent Intent) []capability.ActionResult
}

// CapabilityDispatcher runs independent targets concurrently under a
// process-wide in-flight bound and dependent targets in order, with a fixed
// per-call timeout and bounded retries for transient failures.
type CapabilityDispatcher struct {
	gate        auth.Gate
	clients     capability.ClientFactory
	sem         *semaphore.Weighted
	callTimeout time.Duration
	maxAttempts int
	backoffBase time.Duration
}

func NewCapabilityDispatcher(gate auth.Gate, clients capability.ClientFactory, concurrency int, callTimeout time.Duration, maxAttempts int) *CapabilityDispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &CapabilityDispatcher{
		gate:        gate,
		clients:     clients,
		sem:         semaphore.NewWeighted(int64(concurrency)),
		callTimeout: callTimeout,
		maxAttempts: maxAttempts,
		backoffBase: 200 * time.Millisecond,
	}
}

func (d *CapabilityDispatcher) Dispatch(ctx context.Context, sess auth.Session, intent Intent) []capability.ActionResult {
	concurrent, ordered := splitTargets(intent)

	results := make([]capability.ActionResult, len(concurrent))
	var wg sync.WaitGroup
	for i, target := range concurrent {
		wg.Add(1)
		go func(i int, target capability.Capability) {
			defer wg.Done()
			results[i] = d.call(ctx, sess, intent, target, nil)
		}(i, target)
	}
	wg.Wait()

	// Dependent targets run after, seeing everything gathered so far.
	for _, target := range ordered {
		results = append(results, d.call(ctx, sess, intent, target, results))
	}
	return results
}

// splitTargets separates independently-runnable targets from those the
// intent ordered behind another capability's result.
func splitTargets(intent Intent) (concurrent, ordered []capability.Capability) {
	for _, target := range intent.Targets {
		if containsCapability(intent.Sequential, target) {
			continue
		}
		concurrent = append(concurrent, target)
	}
	return concurrent, intent.Sequential
}

func (d *CapabilityDispatcher) call(ctx context.Context, sess auth.Session, intent Intent, target capability.Capability, prior []capability.ActionResult) capability.ActionResult {
	result := capability.ActionResult{Capability: target}

	if err := ctx.Err(); err != nil {
		result.Error = "request cancelled before the call started"
		return result
	}

	// Re-check the grant immediately before starting so a revocation
	// mid-dispatch marks not-yet-started calls distinctly.
	if err := d.gate.Require(ctx, sess, target); err != nil {
		var required *auth.RequiredError
		if errors.As(err, &required) {
			result.AuthExpired = true
		}
		result.Error = err.Error()
		return result
	}

	// The bound is shared across all in-flight requests; waiting queues
	// rather than fails.
	if err := d.sem.Acquire(ctx, 1); err != nil {
		result.Error = "request cancelled while waiting for dispatch capacity"
		return result
	}
	defer d.sem.Release(1)

	client, err := d.clients.ClientFor(ctx, sess.UserID, sess.Email, target)
	if err != nil {
		if capability.Classify(err) == capability.FailureAuth {
			result.AuthExpired = true
		}
		result.Error = err.Error()
		return result
	}

	inv := capability.Invocation{
		Action: intent.Name,
		Query:  intent.Query,
		Params: intent.Parameters,
		Prior:  prior,
	}

	backoff := d.backoffBase
	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
		detail, err := client.Execute(callCtx, inv)
		cancel()

		if err == nil {
			result.OK = true
			result.Detail = detail
			return result
		}

		switch capability.Classify(err) {
		case capability.FailureAuth:
			result.AuthExpired = true
			result.Error = err.Error()
			return result
		case capability.FailureTransient:
			if attempt < d.maxAttempts && ctx.Err() == nil {
				log.Printf("Transient %s failure (attempt %d/%d), retrying in %s: %v", target, attempt, d.maxAttempts, backoff, err)
				if !sleepContext(ctx, backoff) {
					result.Error = "request cancelled during retry backoff"
					return result
				}
				backoff *= 2
				continue
			}
		}

		result.Error = err.Error()
		return result
	}
}

// sleepContext waits for d or until ctx is done; reports whether the full
// wait elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
