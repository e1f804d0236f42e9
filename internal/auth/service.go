package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/vovakirdan/wiretask-server/internal/store"
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("Неверное имя пользователя или пароль")
	// ErrUserExists is returned when trying to register with existing username.
	ErrUserExists = errors.New("Пользователь с таким именем уже существует")
	// ErrInvalidToken is returned for malformed, expired or foreign tokens.
	ErrInvalidToken = errors.New("Неверный токен")
	// ErrUserNotFound is returned when a valid token points to a deleted user.
	ErrUserNotFound = errors.New("Пользователь не найден")
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidationError lists every problem found in registration input.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, ", ")
}

// Result is a successful login or registration.
type Result struct {
	User  *store.User
	Token string
}

// Service provides authentication operations.
type Service struct {
	store     store.UserStore
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(userStore store.UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     userStore,
		jwtConfig: jwtConfig,
	}
}

// ValidateCredentials checks username and password constraints.
func ValidateCredentials(username, password string) error {
	var problems []string

	switch {
	case username == "":
		problems = append(problems, "Имя пользователя обязательно")
	case len(username) < 3:
		problems = append(problems, "Имя пользователя должно быть не менее 3 символов")
	case len(username) > 50:
		problems = append(problems, "Имя пользователя не может быть длиннее 50 символов")
	case !usernamePattern.MatchString(username):
		problems = append(problems, "Имя пользователя может содержать только буквы, цифры, дефис и подчеркивание")
	}

	switch {
	case password == "":
		problems = append(problems, "Пароль обязателен")
	case len(password) < 6:
		problems = append(problems, "Пароль должен быть не менее 6 символов")
	case len(password) > 128:
		problems = append(problems, "Пароль не может быть длиннее 128 символов")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Register creates a new user with hashed password and returns it with a JWT token.
func (s *Service) Register(ctx context.Context, username, password string) (*Result, error) {
	username = strings.TrimSpace(username)
	if err := ValidateCredentials(username, password); err != nil {
		return nil, err
	}

	// Check if user already exists
	_, err := s.store.GetUserByUsername(ctx, username)
	switch {
	case err == nil:
		return nil, ErrUserExists
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hashedPassword, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user, err := s.store.CreateUser(ctx, username, hashedPassword)
	if err != nil {
		// Lost a race with a concurrent registration.
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return s.issue(user)
}

// Login validates credentials and returns the user with a JWT token.
func (s *Service) Login(ctx context.Context, username, password string) (*Result, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if err := checkPassword(user.PasswordHash, password); err != nil {
		return nil, err
	}

	return s.issue(user)
}

// UserByToken validates a token and loads the user it was issued for. A token
// whose username no longer matches the stored account is rejected.
func (s *Service) UserByToken(ctx context.Context, token string) (*store.User, error) {
	claims, err := ParseToken(s.jwtConfig, token)
	if err != nil {
		return nil, ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user.Username != claims.Username {
		return nil, ErrInvalidToken
	}
	return user, nil
}

func (s *Service) issue(user *store.User) (*Result, error) {
	token, err := IssueToken(s.jwtConfig, user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	return &Result{User: user, Token: token}, nil
}
