// Package clientstore holds the small per-client key/value state a browser would keep in local storage:
// the mirrored session ID, the serialized user snapshot, and the lockout record.
package clientstore

import (
	"context"
	"errors"
)

// Keys written by the auth controller. Absence of a key is a valid state.
const (
	KeySession = "intellx_session"
	KeyUser    = "intellx_user"
	KeyLockout = "intellx_lockout"
)

// ErrCorrupt is returned by Get when a stored value cannot be decoded or authenticated.
var ErrCorrupt = errors.New("clientstore: corrupt value")

// Backend stores string values under (namespace, key). One namespace per client.
type Backend interface {
	Get(ctx context.Context, namespace, key string) (value string, ok bool, err error)
	Set(ctx context.Context, namespace, key, value string) error
	Remove(ctx context.Context, namespace, key string) error
}

// Store is a Backend bound to one namespace.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Namespaced binds b to namespace.
func Namespaced(b Backend, namespace string) Store {
	return &namespaced{b: b, ns: namespace}
}

type namespaced struct {
	b  Backend
	ns string
}

func (n *namespaced) Get(ctx context.Context, key string) (string, bool, error) {
	return n.b.Get(ctx, n.ns, key)
}

func (n *namespaced) Set(ctx context.Context, key, value string) error {
	return n.b.Set(ctx, n.ns, key, value)
}

func (n *namespaced) Remove(ctx context.Context, key string) error {
	return n.b.Remove(ctx, n.ns, key)
}
