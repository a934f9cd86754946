package bdapp

import (
	"context"
	"time"

	"github.com/advdv/bdispatch"
)

// withDispatchTimeout bounds a dispatch with a deadline. The deadline covers the handler and the deferred result it
// returns: the context is released once that result settled. Deferred work the handler did not return loses its
// context when the handler returns. A timeout of zero or less disables the deadline.
func withDispatchTimeout(timeout time.Duration) bdispatch.Middleware {
	return func(next bdispatch.Handler) bdispatch.Handler {
		if timeout <= 0 {
			return next
		}

		return bdispatch.AsyncHandlerFunc(func(
			ctx context.Context, w *bdispatch.Response, r *bdispatch.Request,
		) (*bdispatch.Deferred, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)

			deferred, err := next.ServeDispatch(ctx, w, r)
			if deferred == nil {
				cancel()
				return nil, err
			}

			go func() {
				<-deferred.Done()
				cancel()
			}()
			return deferred, err
		})
	}
}

// adminReadHeaderTimeout bounds reading the request headers of the admin server.
const adminReadHeaderTimeout = 10 * time.Second
