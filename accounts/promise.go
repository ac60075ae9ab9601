// Package accounts provides the process-wide account-management facade:
// deduplicated lookups, scope merging, and credential persistence through a
// pluggable secure-storage backend.
package accounts

import (
	"context"

	"github.com/calder-labs/gapi"
)

// Promise is a one-shot async handle for an account-producing operation.
// It fires exactly once; afterwards either Account or Err is set, never
// both. A lookup that finds nothing resolves with a nil account and a nil
// error.
type Promise struct {
	done    chan struct{}
	account *gapi.Account
	err     error
}

func newPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Done is closed once the promise has fired.
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the promise fires or ctx is cancelled.
func (p *Promise) Wait(ctx context.Context) (*gapi.Account, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return p.account, p.err
	}
}

// Account returns the result; nil before Done fires or on error.
func (p *Promise) Account() *gapi.Account {
	select {
	case <-p.done:
		return p.account
	default:
		return nil
	}
}

// Err returns the failure; nil before Done fires or on success.
func (p *Promise) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *Promise) resolve(account *gapi.Account) {
	p.account = account
	close(p.done)
}

func (p *Promise) reject(err error) {
	p.err = err
	close(p.done)
}
