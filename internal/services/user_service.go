package services

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
)

var (
	// ErrUserNotFound indicates the user was not found
	ErrUserNotFound = errors.New("user not found")
	// ErrUserAlreadyExists indicates the username is already taken
	ErrUserAlreadyExists = errors.New("user already exists")
	// ErrInvalidCredentials indicates invalid login credentials
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPasswordTooShort indicates the password is too short
	ErrPasswordTooShort = errors.New("password must be at least 6 characters")
	// ErrInvalidUsername indicates an empty or whitespace-only username
	ErrInvalidUsername = errors.New("username is required")
	// ErrLastUser indicates the only remaining reviewer cannot be removed
	ErrLastUser = errors.New("cannot delete the last user")
)

// UserService manages the reviewers allowed to use the review surface. The
// username is recorded as the actor of every change a reviewer makes.
type UserService struct {
	db *gorm.DB
}

// NewUserService creates a new UserService instance
func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// CreateUser creates a new reviewer with a bcrypt password hash
func (s *UserService) CreateUser(username, password, nickname string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrInvalidUsername
	}
	if len(password) < 6 {
		return nil, ErrPasswordTooShort
	}

	var existing models.User
	if err := s.db.Where("username = ?", username).First(&existing).Error; err == nil {
		return nil, ErrUserAlreadyExists
	}

	hashed, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &models.User{
		Username:     username,
		PasswordHash: hashed,
		Nickname:     nickname,
	}
	if err := s.db.Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

// GetUserByID retrieves a user by ID
func (s *UserService) GetUserByID(id uint) (*models.User, error) {
	var u models.User
	if err := s.db.First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetUserByUsername retrieves a user by username
func (s *UserService) GetUserByUsername(username string) (*models.User, error) {
	var u models.User
	if err := s.db.Where("username = ?", username).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// UpdateUser updates the display name
func (s *UserService) UpdateUser(id uint, nickname string) (*models.User, error) {
	u, err := s.GetUserByID(id)
	if err != nil {
		return nil, err
	}
	u.Nickname = nickname
	if err := s.db.Save(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

// DeleteUser removes a reviewer. Activity entries keep the username. The
// last reviewer is kept so the review surface stays reachable.
func (s *UserService) DeleteUser(id uint) error {
	u, err := s.GetUserByID(id)
	if err != nil {
		return err
	}
	n, err := s.CountUsers()
	if err != nil {
		return err
	}
	if n <= 1 {
		return ErrLastUser
	}
	return s.db.Delete(u).Error
}

// ListUsers returns all users
func (s *UserService) ListUsers() ([]models.User, error) {
	var users []models.User
	if err := s.db.Order("id ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// CountUsers returns the number of reviewers
func (s *UserService) CountUsers() (int64, error) {
	var n int64
	err := s.db.Model(&models.User{}).Count(&n).Error
	return n, err
}

// VerifyPassword verifies a user's password
func (s *UserService) VerifyPassword(username, password string) (*models.User, error) {
	u, err := s.GetUserByUsername(username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !ComparePassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// ChangePassword changes a user's password after checking the old one
func (s *UserService) ChangePassword(id uint, oldPassword, newPassword string) error {
	if len(newPassword) < 6 {
		return ErrPasswordTooShort
	}

	u, err := s.GetUserByID(id)
	if err != nil {
		return err
	}
	if !ComparePassword(u.PasswordHash, oldPassword) {
		return ErrInvalidCredentials
	}

	hashed, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	u.PasswordHash = hashed
	return s.db.Save(u).Error
}

// ResetPassword resets a user's password (admin operation)
func (s *UserService) ResetPassword(id uint, newPassword string) error {
	if len(newPassword) < 6 {
		return ErrPasswordTooShort
	}

	u, err := s.GetUserByID(id)
	if err != nil {
		return err
	}

	hashed, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	u.PasswordHash = hashed
	return s.db.Save(u).Error
}

// IsPasswordHashed checks if a string looks like a bcrypt hash
func IsPasswordHashed(password string) bool {
	if len(password) < 4 {
		return false
	}
	return password[:4] == "$2a$" || password[:4] == "$2b$" || password[:4] == "$2y$"
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// ComparePassword compares a password with a hash
func ComparePassword(hashedPassword, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}
