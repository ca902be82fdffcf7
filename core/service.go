package core

import (
	"context"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// RepositoryAuthService authenticates operators against the repository with
// bcrypt password verification.
type RepositoryAuthService struct {
	operators OperatorRepository
}

func NewRepositoryAuthService(operators OperatorRepository) *RepositoryAuthService {
	return &RepositoryAuthService{operators: operators}
}

// Authenticate returns ErrInvalidCredentials on any lookup or hash mismatch;
// callers cannot distinguish unknown users from wrong passwords.
func (s *RepositoryAuthService) Authenticate(username, password string) (Operator, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return Operator{}, ErrInvalidCredentials
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	u, err := s.operators.FindByUsername(ctx, username)
	if err != nil || u == nil {
		return Operator{}, ErrInvalidCredentials
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return Operator{}, ErrInvalidCredentials
	}
	return Operator{
		ID:        u.ID,
		Username:  u.Username,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}, nil
}
