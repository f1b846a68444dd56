// Package auth reads the signed-in identity from the API and decides
// whether syncing is allowed.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/studyportal/studysync/internal/db"
	"github.com/studyportal/studysync/internal/logging"
	"github.com/studyportal/studysync/internal/remote"
)

// MePath is the identity endpoint.
const MePath = "/api/auth/me"

// PermissionStudy is required to sync.
const PermissionStudy = "study"

const identityKey = "identity"

// Identity is the signed-in user.
type Identity struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// Has reports whether the identity holds permission.
func (i *Identity) Has(permission string) bool {
	return i != nil && slices.Contains(i.Permissions, permission)
}

// Auth implements sync.Authorizer on top of the identity endpoint.
type Auth struct {
	client *remote.Client
	store  *db.DB
	log    *logging.Logger
}

// New creates an Auth. logger may be nil.
func New(client *remote.Client, store *db.DB, logger *logging.Logger) *Auth {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Auth{client: client, store: store, log: logger.Named("auth")}
}

// Me fetches the identity and caches it. When the API is unreachable the
// cached identity is returned instead, if any.
func (a *Auth) Me(ctx context.Context) (*Identity, error) {
	id, err := remote.JSON[*Identity](ctx, a.client, MePath, remote.Options{})
	if err == nil {
		if id == nil {
			return nil, errors.New("failed to read identity: empty response")
		}
		if err := a.store.SetValue(ctx, identityKey, id); err != nil {
			a.log.Warn("failed to cache identity", "error", err)
		}
		return id, nil
	}

	if remote.IsOffline(err) {
		cached, ok, cerr := a.Cached(ctx)
		if cerr != nil {
			return nil, cerr
		}
		if ok {
			a.log.Debug("offline, using cached identity", "user", cached.Name)
			return cached, nil
		}
	}
	return nil, fmt.Errorf("failed to read identity: %w", err)
}

// Cached returns the identity stored by the last successful Me.
func (a *Auth) Cached(ctx context.Context) (*Identity, bool, error) {
	var id Identity
	ok, err := a.store.GetValue(ctx, identityKey, &id)
	if err != nil || !ok {
		return nil, false, err
	}
	return &id, true, nil
}

// Forget drops the cached identity.
func (a *Auth) Forget(ctx context.Context) error {
	return a.store.DeleteValue(ctx, identityKey)
}

// Authorized reports whether the current identity may sync. A 401 or 403
// means signed out and is not an error.
func (a *Auth) Authorized(ctx context.Context) (bool, error) {
	id, err := a.Me(ctx)
	if err != nil {
		if re, ok := remote.AsRequestError(err); ok && (re.Status == 401 || re.Status == 403) {
			return false, nil
		}
		return false, err
	}
	return id.Has(PermissionStudy), nil
}

// Probe checks reachability with a single short identity request.
func (a *Auth) Probe(ctx context.Context) error {
	_, err := a.client.Request(ctx, MePath, remote.Options{Retries: -1, Timeout: 5 * time.Second})
	return err
}
