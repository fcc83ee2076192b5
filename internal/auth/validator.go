package auth

import (
	"context"
	"errors"

	"userdir.org/internal/obs"
)

// Validate resolves a bearer token to its identity. Unknown, inactive and
// expired sessions as well as inactive or missing identities all yield
// ErrInvalidSession. Validation never extends or modifies the session.
func (s *Service) Validate(ctx context.Context, token string) (AuthenticatedIdentity, error) {
	if token == "" {
		return AuthenticatedIdentity{}, ErrMissingToken
	}
	id, err := s.validate(ctx, token)
	if err != nil && !errors.Is(err, ErrInvalidSession) {
		return AuthenticatedIdentity{}, err
	}
	obs.ObserveValidation(err == nil)
	return id, err
}

func (s *Service) validate(ctx context.Context, token string) (AuthenticatedIdentity, error) {
	session, err := s.store.SessionByToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return AuthenticatedIdentity{}, ErrInvalidSession
	}
	if err != nil {
		return AuthenticatedIdentity{}, storeErr("lookup session", err)
	}
	if !session.ValidAt(s.Now()) {
		return AuthenticatedIdentity{}, ErrInvalidSession
	}
	identity, err := s.store.IdentityByID(ctx, session.IdentityID)
	if errors.Is(err, ErrNotFound) {
		return AuthenticatedIdentity{}, ErrInvalidSession
	}
	if err != nil {
		return AuthenticatedIdentity{}, storeErr("lookup identity", err)
	}
	if !identity.Active {
		return AuthenticatedIdentity{}, ErrInvalidSession
	}
	return AuthenticatedIdentity{
		ID:     identity.ID,
		Email:  identity.Email,
		Active: identity.Active,
		Token:  token,
	}, nil
}
