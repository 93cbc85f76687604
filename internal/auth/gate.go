package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/exerceo/internal/common"
	"github.com/ternarybob/exerceo/internal/models"
)

// Auth gate modes. Production demands a valid bearer credential on every
// request; development accepts anonymous callers with an empty role set;
// debug runs everything as a synthetic principal; testing reads the role
// set from an unauthenticated header so integration tests can impersonate
// arbitrary callers.
const (
	ModeProduction  = "production"
	ModeDevelopment = "development"
	ModeDebug       = "debug"
	ModeTesting     = "testing"
)

// Role capabilities, ordered from broadest to narrowest.
const (
	RoleAdmin   = "admin"
	RoleTrainer = "trainer"
	RoleAnalyst = "analyst"
	RoleViewer  = "viewer"
)

// Headers honoured in testing mode only.
const (
	testRolesHeader     = "X-Auth-Roles"
	testPrincipalHeader = "X-Auth-Principal"
)

// Principal is the authenticated identity a request runs as. An anonymous
// principal (development mode, no credential) has an empty role set.
type Principal struct {
	ID    string
	Roles []string
}

// HasRole reports whether the principal holds the given role.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the principal holds at least one of the roles.
func (p *Principal) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if p.HasRole(role) {
			return true
		}
	}
	return false
}

// Gate validates credentials and enforces the role table. It holds no
// per-request state; one instance serves all handlers.
type Gate struct {
	mode       string
	secret     []byte
	tokenTTL   time.Duration
	debugRoles []string
	logger     arbor.ILogger
}

// NewGate builds the gate from the auth section of the service config.
func NewGate(config *common.Config, logger arbor.ILogger) *Gate {
	return &Gate{
		mode:       config.Auth.Mode,
		secret:     []byte(config.Auth.JWTSecret),
		tokenTTL:   config.Auth.GetTokenTTL(),
		debugRoles: append([]string(nil), config.Auth.DebugRoles...),
		logger:     logger,
	}
}

// Mode returns the configured gate mode.
func (g *Gate) Mode() string {
	return g.mode
}

// Authenticate resolves the request's principal according to the gate mode.
// Returns models.ErrUnauthenticated (wrapped) when a credential is required
// and missing, invalid, or expired.
func (g *Gate) Authenticate(r *http.Request) (*Principal, error) {
	switch g.mode {
	case ModeDebug:
		return &Principal{ID: models.MockPrincipalID, Roles: append([]string(nil), g.debugRoles...)}, nil

	case ModeTesting:
		principal := &Principal{ID: models.MockPrincipalID}
		if id := r.Header.Get(testPrincipalHeader); id != "" {
			principal.ID = id
		}
		if roles := r.Header.Get(testRolesHeader); roles != "" {
			for _, role := range strings.Split(roles, ",") {
				if role = strings.TrimSpace(role); role != "" {
					principal.Roles = append(principal.Roles, role)
				}
			}
		}
		return principal, nil

	case ModeDevelopment:
		token := bearerToken(r)
		if token == "" {
			// Anonymous principal: passes authentication, fails any
			// role-required operation.
			return &Principal{ID: "anonymous"}, nil
		}
		return g.principalFromToken(token)

	default: // production
		token := bearerToken(r)
		if token == "" {
			return nil, fmt.Errorf("%w: missing bearer credential", models.ErrUnauthenticated)
		}
		return g.principalFromToken(token)
	}
}

// AuthenticateToken resolves a principal from a raw token string. Used by
// the WebSocket endpoint, which negotiates credentials via query parameter
// because browser clients cannot set headers on a ws dial.
func (g *Gate) AuthenticateToken(token string) (*Principal, error) {
	switch g.mode {
	case ModeDebug, ModeTesting:
		return &Principal{ID: models.MockPrincipalID, Roles: append([]string(nil), g.debugRoles...)}, nil
	case ModeDevelopment:
		if token == "" {
			return &Principal{ID: "anonymous"}, nil
		}
		return g.principalFromToken(token)
	default:
		if token == "" {
			return nil, fmt.Errorf("%w: missing bearer credential", models.ErrUnauthenticated)
		}
		return g.principalFromToken(token)
	}
}

// AuthorizeSubmit checks that the principal may submit a job of the given
// kind. Training kinds need trainer or admin; dataset assembly additionally
// admits analysts.
func (g *Gate) AuthorizeSubmit(p *Principal, kind models.TrainerKind) error {
	if p.HasAnyRole(submitRoles(kind)...) {
		return nil
	}
	return fmt.Errorf("%w: submit %s requires one of [%s]",
		models.ErrAuthInsufficient, kind, strings.Join(submitRoles(kind), ", "))
}

// AuthorizeRead checks that the principal may read job state (Get, List,
// Observe). Any recognised role suffices.
func (g *Gate) AuthorizeRead(p *Principal) error {
	if p.HasAnyRole(RoleViewer, RoleAnalyst, RoleTrainer, RoleAdmin) {
		return nil
	}
	return fmt.Errorf("%w: read requires a role", models.ErrAuthInsufficient)
}

// CanCancel checks the cancel rule: admins cancel anything; otherwise the
// caller must own the job and hold its kind capability.
func (g *Gate) CanCancel(p *Principal, job *models.Job) error {
	if p.HasRole(RoleAdmin) {
		return nil
	}
	if p.ID != job.SubmittedBy {
		return fmt.Errorf("%w: only the submitting principal or an admin may cancel", models.ErrAuthInsufficient)
	}
	if !p.HasAnyRole(submitRoles(job.TrainerKind)...) {
		return fmt.Errorf("%w: cancelling a %s job requires its submit capability",
			models.ErrAuthInsufficient, job.TrainerKind)
	}
	return nil
}

// submitRoles returns the roles that may submit (and therefore cancel their
// own) jobs of the given kind.
func submitRoles(kind models.TrainerKind) []string {
	if kind == models.TrainerKindDatasetAssembly {
		return []string{RoleAnalyst, RoleTrainer, RoleAdmin}
	}
	return []string{RoleTrainer, RoleAdmin}
}

// bearerToken extracts a credential from the Authorization header, falling
// back to the token query parameter.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
