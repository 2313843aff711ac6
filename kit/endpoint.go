// Package kit provides the endpoint abstraction shared by every transport.
//
// An Endpoint is a single operation exposed over one or more transports
// (HTTP, MCP). Middleware wraps endpoints with cross-cutting behaviour such
// as auditing, keeping the transport handlers free of it.
package kit

import "context"

// Endpoint is the fundamental request/response building block.
type Endpoint func(ctx context.Context, request any) (any, error)

// Middleware wraps an Endpoint with additional behaviour.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares. The first middleware is the outermost: its
// "before" code runs first and its "after" code runs last.
func Chain(outer Middleware, others ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(others) - 1; i >= 0; i-- {
			next = others[i](next)
		}
		return outer(next)
	}
}
