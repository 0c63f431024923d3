// Package plugin defines the contract between the host and a plugin,
// whether it runs in-process (trusted) or in a sandboxed subprocess.
package plugin

import "context"

// Plugin is the one interface every plugin implements, regardless of
// execution mode. Handle dispatches a named action with a decoded
// payload and returns a decoded result.
type Plugin interface {
	Handle(ctx context.Context, action string, payload map[string]any) (map[string]any, error)
}

// Lifecycle is an optional extension a Plugin may implement to receive
// load/unload/reload notifications. The manager detects it via a type
// assertion rather than requiring every plugin to implement no-op
// methods.
type Lifecycle interface {
	OnLoad(ctx context.Context) error
	OnUnload(ctx context.Context) error
	OnReload(ctx context.Context) error
}

// Services is the opaque map of host-provided collaborators (database
// handles, caches, HTTP clients, whatever the embedding application
// wants to expose) that the embedding application hands to the host's
// Manager. The host never interprets its contents, and no interface in
// this package delivers it to a plugin.
type Services map[string]any
