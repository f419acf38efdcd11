package model

import (
	"time"

	"github.com/google/uuid"
)

// AuthRequest types
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RegisterRequest creates a patient account together with its patient record.
type RegisterRequest struct {
	Email       string     `json:"email" binding:"required,email"`
	Password    string     `json:"password" binding:"required,min=8,max=72"`
	Name        string     `json:"name" binding:"required,min=2,max=100"`
	CPF         string     `json:"cpf" binding:"required,cpf"`
	BirthDate   *time.Time `json:"birth_date"`
	Phone       *string    `json:"phone" binding:"omitempty,br_phone"`
	LGPDConsent bool       `json:"lgpd_consent"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8,max=72"`
}

type UpdateProfileRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// AuthResponse types
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type LoginResponse struct {
	TokenResponse
	Profile *Profile `json:"profile"`
}

// Profile is the public view of an account plus its linked record summary.
type Profile struct {
	ID           uuid.UUID            `json:"id"`
	Email        string               `json:"email"`
	Role         Role                 `json:"role"`
	LastLoginAt  *time.Time           `json:"last_login_at,omitempty"`
	Patient      *PatientSummary      `json:"patient,omitempty"`
	Professional *ProfessionalSummary `json:"professional,omitempty"`
}

type PatientSummary struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type ProfessionalSummary struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Specialty string    `json:"specialty,omitempty"`
	Position  Position  `json:"position"`
}
