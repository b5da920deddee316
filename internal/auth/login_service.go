package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/terraconstructs/gridauth/internal/db/models"
	"github.com/terraconstructs/gridauth/internal/identity"
	"github.com/terraconstructs/gridauth/internal/repository"
)

// Credentials are what a client presents to a LoginService.
type Credentials interface {
	credentials()
}

// PasswordCredentials come from a login form.
type PasswordCredentials struct {
	Username string
	Password string
}

// ClaimsCredentials are verified claims from an identity provider.
type ClaimsCredentials struct {
	Claims identity.Claims
}

func (PasswordCredentials) credentials() {}
func (ClaimsCredentials) credentials()   {}

// LoginService turns credentials into a Principal. Unknown or wrong
// credentials fail with an error wrapping ErrInvalidCredentials; any other
// error is an infrastructure failure.
type LoginService interface {
	Login(ctx context.Context, creds Credentials) (*identity.Principal, error)
}

// RoleSource resolves the roles of a provider subject. known is false when
// the subject has no local account.
type RoleSource interface {
	RolesForSubject(ctx context.Context, subject string) (roles []string, known bool, err error)
}

// UserStore is the subset of the user repository the login services need.
type UserStore interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetBySubject(ctx context.Context, subject string) (*models.User, error)
	Roles(ctx context.Context, userID string) ([]string, error)
	UpdateLastLogin(ctx context.Context, id string) error
}

// UserLoginService verifies passwords against bcrypt hashes of local
// accounts.
type UserLoginService struct {
	users UserStore
}

var (
	_ LoginService = (*UserLoginService)(nil)
	_ RoleSource   = (*UserLoginService)(nil)
)

// NewUserLoginService creates a login service over users.
func NewUserLoginService(users UserStore) *UserLoginService {
	return &UserLoginService{users: users}
}

// dummyHash keeps the cost of a lookup miss equal to a password mismatch.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("gridauth-dummy-password"), bcrypt.DefaultCost)

func (s *UserLoginService) Login(ctx context.Context, creds Credentials) (*identity.Principal, error) {
	pc, ok := creds.(PasswordCredentials)
	if !ok {
		return nil, fmt.Errorf("%w: password credentials required", ErrInvalidCredentials)
	}
	if pc.Username == "" || pc.Password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByUsername(ctx, pc.Username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(pc.Password))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user.Disabled() || user.PasswordHash == nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(pc.Password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(pc.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	roles, err := s.users.Roles(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("lookup roles: %w", err)
	}
	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		log.Printf("auth: failed to record last login for user_id=%s: %v", user.ID, err)
	}

	return &identity.Principal{
		Subject: user.PrincipalSubject(),
		Name:    user.Name,
		Email:   user.Email,
		Roles:   identity.NormalizeRoles(roles),
	}, nil
}

// RolesForSubject returns the roles of the local account linked to subject.
func (s *UserLoginService) RolesForSubject(ctx context.Context, subject string) ([]string, bool, error) {
	user, err := s.users.GetBySubject(ctx, subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("lookup user: %w", err)
	}
	if user.Disabled() {
		return nil, false, nil
	}
	roles, err := s.users.Roles(ctx, user.ID)
	if err != nil {
		return nil, true, fmt.Errorf("lookup roles: %w", err)
	}
	return roles, true, nil
}

// OpenIDLoginService derives a Principal from verified provider claims.
// Roles come from the groups claim mapped through GroupRoles and, when a
// RoleSource is set, from the subject's local account.
type OpenIDLoginService struct {
	GroupsClaim     string
	GroupsClaimPath string
	GroupRoles      map[string][]string
	Roles           RoleSource

	// AuthenticateNewUsers admits subjects the RoleSource does not know.
	AuthenticateNewUsers bool
}

var _ LoginService = (*OpenIDLoginService)(nil)

func (s *OpenIDLoginService) Login(ctx context.Context, creds Credentials) (*identity.Principal, error) {
	cc, ok := creds.(ClaimsCredentials)
	if !ok {
		return nil, fmt.Errorf("%w: claims credentials required", ErrInvalidCredentials)
	}
	p, err := PrincipalFromClaims(cc.Claims)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	var roles []string
	if s.GroupsClaim != "" {
		groups, err := ExtractGroups(cc.Claims, s.GroupsClaim, s.GroupsClaimPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		for _, g := range groups {
			roles = append(roles, s.groupRoles(g)...)
		}
	}

	if s.Roles != nil {
		local, known, err := s.Roles.RolesForSubject(ctx, p.Subject)
		if err != nil {
			return nil, err
		}
		if !known && !s.AuthenticateNewUsers {
			return nil, fmt.Errorf("%w: subject has no local account", ErrInvalidCredentials)
		}
		roles = append(roles, local...)
	}

	p.Roles = identity.NormalizeRoles(roles)
	return p, nil
}

// groupRoles matches group names case-insensitively; configuration keys
// arrive lowercased.
func (s *OpenIDLoginService) groupRoles(group string) []string {
	if roles, ok := s.GroupRoles[group]; ok {
		return roles
	}
	for k, roles := range s.GroupRoles {
		if strings.EqualFold(k, group) {
			return roles
		}
	}
	return nil
}
