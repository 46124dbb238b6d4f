package identity

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"faceattend/internal/apperrors"
)

// Role classifies a user for view gating.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// User is a registered account. Immutable after creation.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	RollNumber   string    `json:"rollNumber"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// PublicUser is the non-secret subset safe to place in a session.
type PublicUser struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	RollNumber string `json:"rollNumber"`
	Role       Role   `json:"role"`
}

// Public strips the user down to session-safe fields.
func (u User) Public() PublicUser {
	return PublicUser{ID: u.ID, Name: u.Name, RollNumber: u.RollNumber, Role: u.Role}
}

var validate = validator.New()

type userInput struct {
	Name       string `validate:"required,min=1,max=120"`
	RollNumber string `validate:"required,min=2,max=32"`
	Email      string `validate:"required,email"`
	Password   string `validate:"required,min=6,max=72"`
	Role       string `validate:"required,oneof=student teacher admin"`
}

// NewUser builds a user, rejecting malformed input and hashing the password.
func NewUser(name, rollNumber, email, password string, role Role) (User, error) {
	in := userInput{
		Name:       name,
		RollNumber: rollNumber,
		Email:      email,
		Password:   password,
		Role:       string(role),
	}
	if err := validate.Struct(in); err != nil {
		return User{}, apperrors.Wrap(err, apperrors.ErrValidation.Code, apperrors.ErrValidation.Status, "invalid user")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, apperrors.Wrap(err, apperrors.ErrInternal.Code, apperrors.ErrInternal.Status, "hash password")
	}

	return User{
		ID:           uuid.NewString(),
		Name:         name,
		RollNumber:   rollNumber,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// HomeView maps a role to the view a login should land on. Unknown or
// missing roles fall back to the default view.
func HomeView(role Role) string {
	switch role {
	case RoleTeacher:
		return "teacher-dashboard"
	case RoleAdmin:
		return "admin-dashboard"
	default:
		return "home"
	}
}
