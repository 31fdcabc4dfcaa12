package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 30 * time.Second

// Invoke performs one Generate call under a fixed timeout and normalizes the
// outcome. A deadline hit inside the call is reported as KindTimeout even when
// the provider SDK wraps the context error in its own type.
func Invoke(ctx context.Context, a Adapter, req *Request, timeout time.Duration) (*Response, error) {
	if a == nil {
		return nil, fmt.Errorf("adapter is nil")
	}
	if req == nil {
		return nil, fmt.Errorf("request is nil")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := a.Generate(callCtx, req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &Error{Kind: KindTimeout, Provider: a.Name(), Err: fmt.Errorf("no response after %s", timeout)}
		}
		var adapterErr *Error
		if errors.As(err, &adapterErr) {
			return nil, err
		}
		return nil, &Error{Kind: Classify(err), Provider: a.Name(), Err: err}
	}
	if resp == nil || resp.Artifact == nil {
		return nil, ProviderError(a.Name(), "empty response")
	}
	if resp.Usage != nil {
		u := resp.Usage.Normalize()
		resp.Usage = &u
	}
	return resp, nil
}
