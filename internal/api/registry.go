// Package api pairs each server route with the `tally api` command that
// calls it, so the HTTP surface and the remote CLI cannot drift apart.
package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

// Endpoint is one server operation.
type Endpoint interface {
	Route() (method, path string, handler http.HandlerFunc)

	// RequiresInit reports whether the handler needs providers, schemas
	// and prompts wired before it can serve.
	RequiresInit() bool

	// Command builds the remote CLI form. serverURL is read when the
	// command runs, after flags are parsed.
	Command(serverURL func() string) *cobra.Command
}

// Registry is an ordered set of endpoints keyed by "METHOD /path".
type Registry struct {
	endpoints []Endpoint
	routes    map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{routes: make(map[string]struct{})}
}

// Register adds ep. Registering the same method and path twice panics,
// as http.ServeMux would later.
func (r *Registry) Register(ep Endpoint) {
	method, path, _ := ep.Route()
	key := method + " " + path
	if _, dup := r.routes[key]; dup {
		panic(fmt.Sprintf("api: duplicate route %s", key))
	}
	r.routes[key] = struct{}{}
	r.endpoints = append(r.endpoints, ep)
}

// RegisterRoutes mounts every endpoint on mux. Handlers that need a
// fully wired server are wrapped with requireInit.
func (r *Registry) RegisterRoutes(mux *http.ServeMux, requireInit func(http.HandlerFunc) http.HandlerFunc) {
	for _, ep := range r.endpoints {
		method, path, handler := ep.Route()
		if ep.RequiresInit() && requireInit != nil {
			handler = requireInit(handler)
		}
		mux.HandleFunc(method+" "+path, handler)
	}
}

// BuildCommands returns the `api` command. Routes under a shared
// namespace ("/budget/plan", "/budget/compare") are nested beneath a
// command named for it.
func (r *Registry) BuildCommands(serverURL func() string) *cobra.Command {
	root := &cobra.Command{
		Use:   "api",
		Short: "Call a running tally server",
		Long: `Commands under api send requests to a tally server started with
'tally serve'. Point them elsewhere with --server.

Examples:
  tally api health
  tally api process receipt.jpg -c Groceries -c Dining
  tally api categorize items.json
  tally api advice context.json
  tally api budget analyze finances.json --period 3`,
	}

	groups := make(map[string]*cobra.Command)
	for _, ep := range r.endpoints {
		_, path, _ := ep.Route()
		parent := root
		if name := namespace(path); name != "" {
			if groups[name] == nil {
				groups[name] = &cobra.Command{
					Use:   name,
					Short: fmt.Sprintf("Call the server's /%s routes", name),
				}
				root.AddCommand(groups[name])
			}
			parent = groups[name]
		}
		parent.AddCommand(ep.Command(serverURL))
	}
	return root
}

// Endpoints returns the registered endpoints in registration order.
func (r *Registry) Endpoints() []Endpoint {
	return r.endpoints
}

// namespace is the first segment of a path with at least two literal
// segments. "/prompts/{key}" and "/health" have none.
func namespace(path string) string {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) < 2 || strings.HasPrefix(segs[1], "{") {
		return ""
	}
	return segs[0]
}
