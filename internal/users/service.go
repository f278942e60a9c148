package users

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var ErrUserNotFound = errors.New("user not found")

// Account is one viewer login. Password holds either a bcrypt hash or, for
// hand-edited account files, the plaintext secret.
type Account struct {
	Identifier string
	Password   string
}

func (a Account) CheckPassword(password string) bool {
	if isBcryptHash(a.Password) {
		return CheckPassword(password, a.Password)
	}
	return subtle.ConstantTimeCompare([]byte(a.Password), []byte(password)) == 1
}

// Service is the read-only account directory loaded from an account file with
// one "identifier:password" per line. Blank lines and lines starting with '#'
// are ignored.
type Service struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

func NewService() *Service {
	return &Service{accounts: make(map[string]Account)}
}

// LoadFile replaces the directory with the accounts in path. A missing file
// leaves the directory empty and is not an error.
func (s *Service) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("Account file not found, no viewer can log in", "path", path)
			s.replace(map[string]Account{})
			return nil
		}
		return fmt.Errorf("open account file: %w", err)
	}
	defer f.Close()

	accounts, err := parseAccounts(f)
	if err != nil {
		return fmt.Errorf("parse account file: %w", err)
	}
	s.replace(accounts)

	slog.Info("Accounts loaded", "path", path, "count", len(accounts))
	return nil
}

func (s *Service) Load(r io.Reader) error {
	accounts, err := parseAccounts(r)
	if err != nil {
		return err
	}
	s.replace(accounts)
	return nil
}

func (s *Service) Get(identifier string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[strings.TrimSpace(identifier)]
	if !ok {
		return Account{}, ErrUserNotFound
	}
	return account, nil
}

func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

func (s *Service) replace(accounts map[string]Account) {
	s.mu.Lock()
	s.accounts = accounts
	s.mu.Unlock()
}

func parseAccounts(r io.Reader) (map[string]Account, error) {
	accounts := make(map[string]Account)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		identifier, password, ok := strings.Cut(line, ":")
		identifier = strings.TrimSpace(identifier)
		password = strings.TrimSpace(password)
		if !ok || identifier == "" || password == "" {
			continue
		}

		accounts[identifier] = Account{Identifier: identifier, Password: password}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}
