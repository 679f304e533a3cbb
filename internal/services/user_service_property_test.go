package services

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Feature: email-ai-assistant, Property: reviewer passwords are stored hashed
// For any password, the stored value is a bcrypt hash that verifies the
// original password and rejects any other.

func TestProperty_PasswordHashing(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	validPasswordGen := gen.SliceOfN(10, gen.AlphaChar()).Map(func(chars []rune) string {
		return string(chars)
	})
	wrongPasswordGen := gen.SliceOfN(8, gen.AlphaChar()).Map(func(chars []rune) string {
		return string(chars) + "wrong"
	})

	properties.Property("password_never_stored_as_plaintext", prop.ForAll(
		func(password string) bool {
			hashed, err := HashPassword(password)
			if err != nil {
				return false
			}
			return hashed != password && IsPasswordHashed(hashed)
		},
		validPasswordGen,
	))

	properties.Property("hashed_password_can_be_verified", prop.ForAll(
		func(password string) bool {
			hashed, err := HashPassword(password)
			if err != nil {
				return false
			}
			return ComparePassword(hashed, password)
		},
		validPasswordGen,
	))

	properties.Property("wrong_password_should_not_verify", prop.ForAll(
		func(password, wrongPassword string) bool {
			if password == wrongPassword {
				wrongPassword += "X"
			}
			hashed, err := HashPassword(password)
			if err != nil {
				return false
			}
			return !ComparePassword(hashed, wrongPassword)
		},
		validPasswordGen,
		wrongPasswordGen,
	))

	properties.TestingRun(t)
}

func TestProperty_PasswordChange(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	validPasswordGen := gen.SliceOfN(10, gen.AlphaChar()).Map(func(chars []rune) string {
		return string(chars)
	})
	validUsernameGen := gen.SliceOfN(8, gen.AlphaLowerChar()).Map(func(chars []rune) string {
		return string(chars)
	})

	properties.Property("password_change_replaces_hash", prop.ForAll(
		func(username, oldPassword, newPassword string) bool {
			if oldPassword == newPassword {
				newPassword += "X"
			}

			db, cleanup := setupTestDB(t)
			defer cleanup()
			userService := NewUserService(db)

			created, err := userService.CreateUser(username, oldPassword, "Reviewer")
			if err != nil {
				return false
			}
			if err := userService.ChangePassword(created.ID, oldPassword, newPassword); err != nil {
				return false
			}

			if _, err := userService.VerifyPassword(username, oldPassword); err == nil {
				return false
			}
			verified, err := userService.VerifyPassword(username, newPassword)
			return err == nil && verified.ID == created.ID
		},
		validUsernameGen,
		validPasswordGen,
		validPasswordGen,
	))

	properties.TestingRun(t)
}

func TestUserService_CreateUserValidation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	userService := NewUserService(db)

	if _, err := userService.CreateUser("   ", "secret123", ""); !errors.Is(err, ErrInvalidUsername) {
		t.Errorf("blank username: got %v, want ErrInvalidUsername", err)
	}
	if _, err := userService.CreateUser("alice", "short", ""); !errors.Is(err, ErrPasswordTooShort) {
		t.Errorf("short password: got %v, want ErrPasswordTooShort", err)
	}
	if _, err := userService.CreateUser("alice", "secret123", "Alice"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := userService.CreateUser("alice", "secret456", ""); !errors.Is(err, ErrUserAlreadyExists) {
		t.Errorf("duplicate username: got %v, want ErrUserAlreadyExists", err)
	}
	if _, err := userService.VerifyPassword("bob", "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: got %v, want ErrInvalidCredentials", err)
	}

	n, err := userService.CountUsers()
	if err != nil || n != 1 {
		t.Errorf("CountUsers = %d, %v; want 1", n, err)
	}
}

func TestUserService_DeleteUser(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	userService := NewUserService(db)

	alice, err := userService.CreateUser("alice", "secret123", "")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := userService.DeleteUser(alice.ID); !errors.Is(err, ErrLastUser) {
		t.Errorf("deleting the only user: got %v, want ErrLastUser", err)
	}

	bob, err := userService.CreateUser("bob", "secret123", "")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := userService.DeleteUser(alice.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := userService.GetUserByID(alice.ID); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("deleted user lookup: got %v, want ErrUserNotFound", err)
	}
	if err := userService.DeleteUser(alice.ID); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("second delete: got %v, want ErrUserNotFound", err)
	}
	if n, _ := userService.CountUsers(); n != 1 {
		t.Errorf("CountUsers = %d, want 1", n)
	}
	if _, err := userService.VerifyPassword("bob", "secret123"); err != nil {
		t.Errorf("remaining user cannot log in: %v (id %d)", err, bob.ID)
	}
}
