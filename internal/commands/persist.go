package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"weeklet/internal/app"
	"weeklet/internal/backend/googletasks"
	"weeklet/internal/exitcode"
)

// waiter is an optimistic operation or a queued write.
type waiter interface {
	Wait(ctx context.Context) error
}

// waitPersisted sends queued writes now and waits for each of ws.
// On error every in-memory change of a failed operation has been reverted.
func waitPersisted(ctx context.Context, a *app.App, ws ...waiter) error {
	if err := a.Flush(ctx); err != nil {
		a.Logger.Debug("flush failed", "error", err)
	}
	var first error
	for _, w := range ws {
		if err := w.Wait(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// reportStoreError prints a persistence failure and returns its exit code.
func reportStoreError(errOut io.Writer, err error) int {
	if errors.Is(err, googletasks.ErrTokenExpired) {
		fmt.Fprintf(errOut, "error: auth error: %v\n", err)
		return exitcode.AuthError
	}
	fmt.Fprintf(errOut, "error: backend error: %v\n", err)
	return exitcode.BackendError
}
