package network

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Broadcast sends req to every connection concurrently under the policy
// deadline. Responses are returned in connection order; the first failure
// cancels the remaining requests and is returned.
func Broadcast(ctx context.Context, policy Policy, connections []Connection, req Request) ([]Response, error) {
	responses := make([]Response, len(connections))
	group, ctx := errgroup.WithContext(ctx)
	for i, conn := range connections {
		group.Go(func() error {
			response, err := policy.Send(ctx, conn, req)
			if err != nil {
				return errors.Wrapf(err, "%v to %v", req.Kind(), conn.ID())
			}
			responses[i] = response
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return responses, nil
}

// Notify sends req to every connection concurrently under the policy
// deadline. A failing peer does not cancel the others; the returned slice
// holds one error per connection, nil where the peer succeeded.
func Notify(ctx context.Context, policy Policy, connections []Connection, req Request) []error {
	errs := make([]error, len(connections))
	var group errgroup.Group
	for i, conn := range connections {
		group.Go(func() error {
			if _, err := policy.Send(ctx, conn, req); err != nil {
				errs[i] = errors.Wrapf(err, "%v to %v", req.Kind(), conn.ID())
			}
			return nil
		})
	}
	_ = group.Wait()
	return errs
}
