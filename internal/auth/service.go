package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/EternisAI/silo-relay/internal/users"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type Service struct {
	accounts *users.Service
	config   Config
}

func NewService(accounts *users.Service, config Config) *Service {
	return &Service{
		accounts: accounts,
		config:   config,
	}
}

// Login checks the identifier/password pair against the account directory and
// issues a bearer token carrying the identifier as its email claim.
func (s *Service) Login(ctx context.Context, identifier, password string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	account, err := s.accounts.Get(identifier)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("lookup account: %w", err)
	}

	if !account.CheckPassword(password) {
		return "", ErrInvalidCredentials
	}

	token, err := GenerateToken(s.config, account.Identifier)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return token, nil
}

func (s *Service) Verifier() Verifier {
	return NewJWTVerifier(s.config.Secret)
}
