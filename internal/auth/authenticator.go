package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"userdir.org/internal/ids"
	"userdir.org/internal/obs"
)

// Register creates an identity and assigns the default role in one
// transaction. The returned identity carries no password hash.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Identity, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return Identity{}, fmt.Errorf("%w: email is required", ErrValidation)
	}
	if req.Password == "" {
		return Identity{}, fmt.Errorf("%w: password is required", ErrValidation)
	}
	if len(req.Password) > MaxPasswordBytes {
		return Identity{}, fmt.Errorf("%w: password exceeds %d bytes", ErrValidation, MaxPasswordBytes)
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return Identity{}, err
	}

	now := s.Now()
	identity := Identity{
		ID:           ids.NewAt(now),
		Email:        email,
		PasswordHash: hash,
		GivenName:    strings.TrimSpace(req.GivenName),
		FamilyName:   strings.TrimSpace(req.FamilyName),
		Active:       true,
		CreatedAt:    now,
		ModifiedAt:   now,
	}
	err = s.store.InTx(ctx, func(q Queries) error {
		if _, err := q.IdentityByEmail(ctx, email); err == nil {
			return fmt.Errorf("%w: email %s", ErrConflict, email)
		} else if !errors.Is(err, ErrNotFound) {
			return storeErr("lookup identity", err)
		}
		role, err := q.RoleByName(ctx, s.defaultRole)
		if errors.Is(err, ErrNotFound) {
			return &StoreError{Op: "register", Err: fmt.Errorf("default role %q is not seeded", s.defaultRole)}
		}
		if err != nil {
			return storeErr("load default role", err)
		}
		if err := q.CreateIdentity(ctx, identity); err != nil {
			return storeErr("create identity", err)
		}
		if err := q.AssignRole(ctx, identity.ID, role.ID); err != nil {
			return storeErr("assign default role", err)
		}
		return nil
	})
	if err != nil {
		return Identity{}, err
	}
	obs.Info("identity_registered", map[string]any{"identity_id": identity.ID})
	return identity.Public(), nil
}

// Login verifies credentials and opens a session. Every attempt appends
// exactly one audit entry, and the entry is committed even when the attempt
// is rejected. Rejections are *CredentialError values.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = strings.TrimSpace(email)
	var (
		result  LoginResult
		outcome *CredentialError
	)
	err := s.store.InTx(ctx, func(q Queries) error {
		now := s.Now()
		entry := AuditEntry{ID: ids.NewAt(now), Email: email, OccurredAt: now}

		identity, err := q.IdentityByEmail(ctx, email)
		switch {
		case errors.Is(err, ErrNotFound):
			s.verifyDecoy(password)
			outcome = &CredentialError{Kind: ErrInvalidCredentials, Reason: ReasonUnknownEmail}
		case err != nil:
			return storeErr("lookup identity", err)
		case !identity.Active:
			outcome = &CredentialError{Kind: ErrAccountDisabled, Reason: ReasonAccountDisabled}
		default:
			ok, verr := s.hasher.Verify(identity.PasswordHash, password)
			if verr != nil {
				obs.Error("password_verify_failed", map[string]any{"identity_id": identity.ID, "error": verr})
			}
			if !ok {
				outcome = &CredentialError{Kind: ErrInvalidCredentials, Reason: ReasonBadPassword}
			}
		}
		if err == nil {
			entry.IdentityID = identity.ID
		}
		if outcome != nil {
			entry.Reason = outcome.Reason
			return storeErr("append audit", q.AppendAudit(ctx, entry))
		}

		token, err := s.tokens.NewToken()
		if err != nil {
			return err
		}
		session := Session{
			Token:      token,
			IdentityID: identity.ID,
			ExpiresAt:  now.Add(s.sessionTTL),
			Active:     true,
			CreatedAt:  now,
		}
		if err := q.CreateSession(ctx, session); err != nil {
			return storeErr("create session", err)
		}
		entry.Success = true
		entry.Reason = ReasonLogin
		if err := q.AppendAudit(ctx, entry); err != nil {
			return storeErr("append audit", err)
		}
		result = LoginResult{Token: token, Identity: identity.Public(), ExpiresAt: session.ExpiresAt}
		return nil
	})
	if err != nil {
		obs.Error("login_failed", map[string]any{"error": err})
		return LoginResult{}, err
	}
	if outcome != nil {
		obs.Warn("login_rejected", map[string]any{"email": email, "reason": outcome.Reason})
		obs.ObserveLogin(outcome.Reason)
		return LoginResult{}, outcome
	}
	obs.ObserveLogin("success")
	return result, nil
}

// Logout deactivates the session and records the logout. Logging out an
// already inactive session succeeds without writing anything.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return ErrMissingToken
	}
	return s.store.InTx(ctx, func(q Queries) error {
		session, err := q.SessionByToken(ctx, token)
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidSession
		}
		if err != nil {
			return storeErr("lookup session", err)
		}
		if !session.Active {
			return nil
		}
		if err := q.DeactivateSession(ctx, token); err != nil {
			return storeErr("deactivate session", err)
		}
		now := s.Now()
		entry := AuditEntry{
			ID:         ids.NewAt(now),
			IdentityID: session.IdentityID,
			Success:    true,
			Reason:     ReasonLogout,
			OccurredAt: now,
		}
		identity, err := q.IdentityByID(ctx, session.IdentityID)
		switch {
		case err == nil:
			entry.Email = identity.Email
		case !errors.Is(err, ErrNotFound):
			return storeErr("lookup identity", err)
		}
		return storeErr("append audit", q.AppendAudit(ctx, entry))
	})
}
