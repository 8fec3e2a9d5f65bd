package core

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"batchexports/internal/types"
)

// Authenticator resolves a bearer token to an Actor.
type Authenticator interface {
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// TeamLookup loads the team named in a request path.
type TeamLookup interface {
	GetByID(ctx context.Context, id int64) (*types.Team, error)
}

// APIKeyStore finds API keys by the SHA-256 hash of their secret.
type APIKeyStore interface {
	GetByHash(ctx context.Context, keyHash string) (*types.APIKey, error)
	TouchLastUsed(ctx context.Context, id string) error
}

// APIKeyAuthenticator authenticates personal API keys. Only the hex SHA-256
// of a key is stored.
type APIKeyAuthenticator struct {
	keys   APIKeyStore
	logger *slog.Logger
}

// NewAPIKeyAuthenticator creates an APIKeyAuthenticator.
func NewAPIKeyAuthenticator(keys APIKeyStore, logger *slog.Logger) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{keys: keys, logger: logger}
}

// HashAPIKey returns the stored form of a key.
func HashAPIKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ResolveToken looks the key up and records its use. A failure to record
// use is logged, not returned.
func (a *APIKeyAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	key, err := a.keys.GetByHash(ctx, HashAPIKey(token))
	if err != nil {
		return nil, err
	}
	touchCtx, cancel := context.WithTimeout(ctx, touchTimeout)
	defer cancel()
	if err := a.keys.TouchLastUsed(touchCtx, key.ID); err != nil {
		a.logger.WarnContext(ctx, "failed to record api key use", "api_key_id", key.ID, "error", err)
	}
	return &types.Actor{
		ID:             key.ID,
		Type:           types.ActorTypeAPIKey,
		OrganizationID: key.OrganizationID,
		TeamIDs:        key.TeamIDs,
	}, nil
}

// AuthMiddleware requires a valid bearer token and stores the resolved Actor
// in the context.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "authentication is not configured", nil))
			return
		}
		token := extractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Bearer token is required", nil))
			return
		}

		actor, err := s.Authenticator.ResolveToken(r.Context(), token)
		if err == nil && actor == nil {
			err = types.NewAppError(types.ErrCodeAuthTokenInvalid, "Invalid API key", nil)
		}
		if err != nil {
			if !types.IsCode(err, types.ErrCodeAuthTokenInvalid) {
				types.LoggerFromContext(r.Context(), s.Logger).ErrorContext(r.Context(),
					"authentication failed", "error", err)
			}
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "Invalid API key", err))
			return
		}
		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), *actor)))
	})
}

// TeamAccessMiddleware resolves {team_id} and checks the Actor may use it.
// A team in another organization is forbidden; a team that does not exist
// is not found.
func (s *Server) TeamAccessMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		teamID, err := strconv.ParseInt(chi.URLParam(r, "team_id"), 10, 64)
		if err != nil || teamID <= 0 {
			Error(w, r, types.NewAppError(types.ErrCodeNotFoundTeam, "team not found", nil))
			return
		}
		actor, ok := types.GetActor(r.Context())
		if !ok {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
			return
		}
		team, err := s.Teams.GetByID(r.Context(), teamID)
		if err != nil {
			Error(w, r, err)
			return
		}
		if actor.Type != types.ActorTypeSystem && actor.OrganizationID != team.OrganizationID {
			Error(w, r, types.NewAppError(types.ErrCodePermissionOrgMismatch,
				"You do not have access to this team", nil))
			return
		}
		if !actor.CanAccessTeam(team.ID, team.OrganizationID) {
			Error(w, r, types.NewAppError(types.ErrCodePermissionScope,
				"API key is not scoped to this team", nil))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithTeam(r.Context(), team)))
	})
}

// AdminKeyMiddleware guards internal endpoints with the shared admin key.
func (s *Server) AdminKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := s.Config.Security.AdminAPIKey.Unmask()
		got := r.Header.Get("X-Admin-Key")
		if got == "" {
			got = extractBearerToken(r.Header.Get("Authorization"))
		}
		if want == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			types.LoggerFromContext(r.Context(), s.Logger).WarnContext(r.Context(),
				"rejected internal request", "path", r.URL.Path)
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "Invalid admin key", nil))
			return
		}
		actor := types.Actor{ID: "admin", Type: types.ActorTypeSystem}
		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), actor)))
	})
}

// extractBearerToken parses "Bearer <token>"; the scheme is case-insensitive.
func extractBearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

type teamKey struct{}

// WithTeam stores the team resolved for a request.
func WithTeam(ctx context.Context, team *types.Team) context.Context {
	return context.WithValue(ctx, teamKey{}, team)
}

// TeamFromContext returns the team resolved by TeamAccessMiddleware.
func TeamFromContext(ctx context.Context) (*types.Team, bool) {
	team, ok := ctx.Value(teamKey{}).(*types.Team)
	return team, ok
}

// touchTimeout bounds the best-effort last-used update.
const touchTimeout = 2 * time.Second
