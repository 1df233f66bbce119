package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/okian/resultportal/internal/adapters/repository"
	"github.com/okian/resultportal/internal/auth"
	"github.com/okian/resultportal/internal/domain/model"
	"github.com/okian/resultportal/pkg/logger"
)

// Login checks credentials and issues a session token. Unknown usernames
// and wrong passwords fail the same way.
func (s *Service) Login(ctx context.Context, username, password string) (LoginResult, error) {
	if s.tokens == nil {
		return LoginResult{}, fmt.Errorf("%w: no token issuer", ErrInvalidSetup)
	}
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return LoginResult{}, invalid("username and password are required")
	}

	t, err := s.store.TeacherByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log().Info(ctx, "login failed", logger.String("username", username))
			return LoginResult{}, fmt.Errorf("%w: %w", ErrUnauthorized, auth.ErrInvalidCredentials)
		}
		return LoginResult{}, fmt.Errorf("find teacher: %w", err)
	}
	if err := auth.CheckPassword(t.PasswordHash, password); err != nil {
		s.log().Info(ctx, "login failed", logger.String("username", username))
		return LoginResult{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	token, exp, err := s.tokens.Issue(t)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}
	return LoginResult{Token: token, ExpiresAt: exp, Teacher: t}, nil
}

// Authenticate resolves a bearer token to the teacher it was issued for.
func (s *Service) Authenticate(ctx context.Context, token string) (model.Teacher, error) {
	if s.tokens == nil {
		return model.Teacher{}, fmt.Errorf("%w: no token issuer", ErrInvalidSetup)
	}
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return model.Teacher{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	t, err := s.store.TeacherByID(ctx, claims.TeacherID())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Teacher{}, fmt.Errorf("%w: teacher no longer exists", ErrUnauthorized)
		}
		return model.Teacher{}, fmt.Errorf("find teacher: %w", err)
	}
	return t, nil
}
