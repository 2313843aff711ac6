package profwatch

import (
	"context"
	"fmt"

	"github.com/hazyhaar/vigie/audit"
	"github.com/hazyhaar/vigie/kit"
)

// Request payloads shared by the HTTP API and the MCP tools.
type (
	addProfileRequest struct {
		URL  string `json:"url"`
		Name string `json:"name,omitempty"`
	}
	removeProfileRequest struct {
		URL string `json:"url"`
	}
	checkProfileRequest struct {
		URL string `json:"url"`
	}
	changeHistoryRequest struct {
		URL   string `json:"url,omitempty"`
		Limit int    `json:"limit,omitempty"`
	}
)

// endpoints bundles one kit.Endpoint per admin operation. Both transports
// go through the same endpoints, so audit wrapping happens exactly once.
type endpoints struct {
	addProfile    kit.Endpoint
	removeProfile kit.Endpoint
	listProfiles  kit.Endpoint
	checkProfile  kit.Endpoint
	changeHistory kit.Endpoint
	stats         kit.Endpoint
}

func (svc *Service) buildEndpoints() endpoints {
	wrap := func(action string, ep kit.Endpoint) kit.Endpoint {
		if svc.audit == nil {
			return ep
		}
		return audit.Middleware(svc.audit, action)(ep)
	}

	return endpoints{
		addProfile: wrap("add_profile", func(ctx context.Context, request any) (any, error) {
			req, ok := request.(*addProfileRequest)
			if !ok {
				return nil, fmt.Errorf("%w: unexpected request type", ErrInvalidInput)
			}
			return svc.AddProfile(ctx, req.URL, req.Name)
		}),
		removeProfile: wrap("remove_profile", func(ctx context.Context, request any) (any, error) {
			req, ok := request.(*removeProfileRequest)
			if !ok {
				return nil, fmt.Errorf("%w: unexpected request type", ErrInvalidInput)
			}
			if err := svc.RemoveProfile(ctx, req.URL); err != nil {
				return nil, err
			}
			return map[string]string{"removed": req.URL}, nil
		}),
		listProfiles: wrap("list_profiles", func(ctx context.Context, request any) (any, error) {
			return svc.ListProfiles(ctx)
		}),
		checkProfile: wrap("check_profile", func(ctx context.Context, request any) (any, error) {
			req, ok := request.(*checkProfileRequest)
			if !ok {
				return nil, fmt.Errorf("%w: unexpected request type", ErrInvalidInput)
			}
			return svc.CheckNow(ctx, req.URL)
		}),
		changeHistory: wrap("change_history", func(ctx context.Context, request any) (any, error) {
			req, ok := request.(*changeHistoryRequest)
			if !ok {
				return nil, fmt.Errorf("%w: unexpected request type", ErrInvalidInput)
			}
			return svc.ChangeHistory(ctx, req.URL, req.Limit)
		}),
		stats: wrap("stats", func(ctx context.Context, request any) (any, error) {
			return svc.Stats(ctx)
		}),
	}
}
