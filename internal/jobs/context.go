package jobs

import "context"

type ctxKey int

const (
	sweepKey ctxKey = iota
	requestKey
)

// WithSweep tags ctx with the id of the sweep it belongs to.
func WithSweep(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sweepKey, id)
}

// WithRequest tags ctx with the API request id that triggered the work.
func WithRequest(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestKey, id)
}

func correlation(ctx context.Context, meta map[string]any) map[string]any {
	sweep, _ := ctx.Value(sweepKey).(string)
	req, _ := ctx.Value(requestKey).(string)
	if sweep == "" && req == "" {
		return meta
	}
	out := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		out[k] = v
	}
	if sweep != "" {
		out["sweep_id"] = sweep
	}
	if req != "" {
		out["request_id"] = req
	}
	return out
}
