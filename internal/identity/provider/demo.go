package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/sweetpy/intelXv2-sub001/internal/identity/domain"
	"github.com/sweetpy/intelXv2-sub001/internal/security"
)

// Demo directory accounts.
const (
	DemoAdminEmail      = "admin@intellx.co.tz"
	DemoAdminPassword   = "IntelX2024!"
	DemoAnalystEmail    = "analyst@intellx.co.tz"
	DemoAnalystPassword = "Analyst2024!"
)

// minTrialPasswordLength is the shortest password the trial rule accepts, unless it is a fixed demo password.
const minTrialPasswordLength = 6

// trialNamespace scopes deterministic trial user IDs.
var trialNamespace = uuid.MustParse("8f3c6a52-4a57-4b8e-9d0c-6f1e2b7a9c41")

// fixedDemoPasswords are accepted by the trial rule regardless of length.
var fixedDemoPasswords = []string{DemoAdminPassword, DemoAnalystPassword, "demo"}

type demoAccount struct {
	user         domain.User
	passwordHash string
}

// DemoProvider is a deterministic in-memory directory with two named accounts and an open trial rule:
// any email containing "@" with a password of at least six characters (or a fixed demo password)
// signs in as a read-only trial user. Named account emails never fall through to the trial rule.
type DemoProvider struct {
	hasher   *security.Hasher
	nowF     func() time.Time
	mu       sync.RWMutex
	accounts map[string]*demoAccount
}

// NewDemoProvider builds the demo directory, hashing the named account passwords with hasher.
func NewDemoProvider(hasher *security.Hasher) (*DemoProvider, error) {
	p := &DemoProvider{hasher: hasher, nowF: time.Now, accounts: make(map[string]*demoAccount)}
	seed := []struct {
		password string
		user     domain.User
	}{
		{DemoAdminPassword, domain.User{
			ID:          "a1b2c3d4-0001-4000-8000-000000000001",
			Email:       DemoAdminEmail,
			Name:        "Intellx Administrator",
			Role:        domain.RoleAdmin,
			Permissions: []string{domain.PermissionAll},
			MFAEnabled:  true,
			Company:     "Intellx",
			Region:      "Dar es Salaam",
		}},
		{DemoAnalystPassword, domain.User{
			ID:          "a1b2c3d4-0002-4000-8000-000000000002",
			Email:       DemoAnalystEmail,
			Name:        "Intellx Analyst",
			Role:        domain.RoleAnalyst,
			Permissions: []string{"read", "write", "export"},
			Company:     "Intellx",
			Region:      "Arusha",
		}},
	}
	for _, s := range seed {
		hash, err := hasher.Hash([]byte(s.password))
		if err != nil {
			return nil, fmt.Errorf("identity: hash demo password: %w", err)
		}
		p.accounts[s.user.Email] = &demoAccount{user: s.user, passwordHash: hash}
	}
	return p, nil
}

// SignIn checks the named accounts first, then the trial rule.
func (p *DemoProvider) SignIn(ctx context.Context, email, password string) (*domain.User, error) {
	email = domain.NormalizeEmail(email)
	now := p.nowF().UTC()

	p.mu.RLock()
	acct, named := p.accounts[email]
	var hash string
	var u domain.User
	if named {
		hash = acct.passwordHash
		u = acct.user
	}
	p.mu.RUnlock()

	if named {
		if p.hasher.Compare(hash, []byte(password)) != nil {
			return nil, ErrInvalidCredentials
		}
		u.Permissions = append([]string(nil), u.Permissions...)
		u.LastLogin = &now
		return &u, nil
	}
	if !strings.Contains(email, "@") || !trialPasswordAccepted(password) {
		return nil, ErrInvalidCredentials
	}
	return &domain.User{
		ID:          uuid.NewSHA1(trialNamespace, []byte(email)).String(),
		Email:       email,
		Name:        displayName(email),
		Role:        domain.RoleTrial,
		Permissions: []string{"read"},
		LastLogin:   &now,
	}, nil
}

// UpdatePassword accepts any change whose current password has at least six characters.
// Named accounts have their stored hash replaced so the new password works on the next sign-in.
func (p *DemoProvider) UpdatePassword(ctx context.Context, user *domain.User, current, next string) error {
	if utf8.RuneCountInString(current) < minTrialPasswordLength {
		return ErrInvalidCredentials
	}
	if user == nil {
		return nil
	}
	email := domain.NormalizeEmail(user.Email)
	p.mu.RLock()
	_, named := p.accounts[email]
	p.mu.RUnlock()
	if !named {
		return nil
	}
	hash, err := p.hasher.Hash([]byte(next))
	if err != nil {
		return fmt.Errorf("identity: hash password: %w", err)
	}
	p.mu.Lock()
	p.accounts[email].passwordHash = hash
	p.mu.Unlock()
	return nil
}

func trialPasswordAccepted(password string) bool {
	if utf8.RuneCountInString(password) >= minTrialPasswordLength {
		return true
	}
	for _, fixed := range fixedDemoPasswords {
		if security.TokensEqual(password, fixed) {
			return true
		}
	}
	return false
}

// displayName turns the local part of email into a title-cased name ("jane.doe@x" -> "Jane Doe").
func displayName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	words := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	if len(words) == 0 {
		return "Trial User"
	}
	return strings.Join(words, " ")
}
