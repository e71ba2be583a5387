package provider

import (
	"context"
	"net/http"
	"net/url"
)

// Operation is a named call against the provider REST surface.
type Operation struct {
	Name         string
	Method       string
	PathTemplate string
	// Long selects the long-running timeout.
	Long bool
}

var (
	OpListServers = Operation{Name: "servers.list", Method: http.MethodGet, PathTemplate: "/servers"}
	OpCreateImage = Operation{Name: "servers.create_image", Method: http.MethodPost, PathTemplate: "/servers/{id}/actions/create_image", Long: true}
	OpDeleteImage = Operation{Name: "images.delete", Method: http.MethodDelete, PathTemplate: "/images/{id}"}
	OpGetServer   = Operation{Name: "servers.get", Method: http.MethodGet, PathTemplate: "/servers/{id}"}
)

// Execute resolves op's path template with params and performs the call.
func (c *Client) Execute(ctx context.Context, token string, op Operation, params map[string]string, query url.Values, body any) (*Response, error) {
	if err := c.checkVerb(op.Method, op.PathTemplate); err != nil {
		return nil, err
	}
	path, err := ResolvePath(op.PathTemplate, params)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, token, Request{Method: op.Method, Path: path, Query: query, Body: body, Long: op.Long})
}
