package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"songmap/internal/apperr"
	"songmap/pkg/models"
)

// bcryptCost is the work factor for stored password hashes
const bcryptCost = 12

// Account roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// UserRepository persists accounts
type UserRepository interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// UserStore manages account registration and credential checks
type UserStore struct {
	repo      UserRepository
	avatarURL string
	cost      int
}

// NewUserStore creates a user store on top of repo. avatarURL is the
// prefix a URL-escaped username is appended to.
func NewUserStore(repo UserRepository, avatarURL string) *UserStore {
	return &UserStore{repo: repo, avatarURL: avatarURL, cost: bcryptCost}
}

// RegisterUser creates a regular account. A taken username fails with
// Conflict.
func (us *UserStore) RegisterUser(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperr.InvalidArgument("username and password are required")
	}

	hashedPassword, err := hashPassword(password, us.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		PasswordHash: hashedPassword,
		Avatar:       us.avatarURL + url.QueryEscape(username),
		Role:         RoleUser,
	}
	if err := us.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// EnsureAdmin creates the admin account with a random password when it does
// not exist yet. The password is returned once and never stored in clear.
func (us *UserStore) EnsureAdmin(ctx context.Context, username string) (password string, created bool, err error) {
	_, err = us.repo.GetUserByUsername(ctx, username)
	if err == nil {
		return "", false, nil
	}
	if !apperr.IsKind(err, apperr.KindNotFound) {
		return "", false, err
	}

	password, err = generateRandomPassword(12)
	if err != nil {
		return "", false, fmt.Errorf("failed to generate default password: %w", err)
	}
	hashedPassword, err := hashPassword(password, us.cost)
	if err != nil {
		return "", false, fmt.Errorf("failed to hash default password: %w", err)
	}

	admin := &models.User{
		Username:     username,
		PasswordHash: hashedPassword,
		Avatar:       us.avatarURL + url.QueryEscape(username),
		Role:         RoleAdmin,
	}
	if err := us.repo.CreateUser(ctx, admin); err != nil {
		return "", false, err
	}
	return password, true, nil
}

// Authenticate returns the account when username and password match.
// Unknown users and wrong passwords both fail with Unauthorized.
func (us *UserStore) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := us.repo.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, apperr.Unauthorized("invalid credentials")
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.Unauthorized("invalid credentials")
	}
	return user, nil
}

// GetUser returns an account by id
func (us *UserStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return us.repo.GetUserByID(ctx, id)
}

func hashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func generateRandomPassword(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes)[:length], nil
}
