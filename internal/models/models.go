package models

import (
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// Role determines which dashboard and guarded routes a user may reach
type Role string

const (
	RolePatient Role = "patient"
	RoleDriver  Role = "driver"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDriver, RoleAdmin:
		return true
	}
	return false
}

// BaseModel provides common fields and auto-generated ULID for persisted records
type BaseModel struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(26)"`
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
}

// BeforeCreate generates a ULID for the ID field if it's empty
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	return nil
}

// DriverInfo carries the driver-only registration details
type DriverInfo struct {
	LicenseNumber string `json:"licenseNumber,omitempty"`
	VehicleType   string `json:"vehicleType,omitempty"`
}

// User is the identity record returned by the auth API.
// It is replaced wholesale on login, refresh and logout, never patched.
type User struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Email      string      `json:"email"`
	Phone      string      `json:"phone,omitempty"`
	Role       Role        `json:"role"`
	CreatedAt  time.Time   `json:"createdAt"`
	DriverInfo *DriverInfo `json:"driverInfo,omitempty"`
}

// Clone returns a deep copy of the user
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.DriverInfo != nil {
		info := *u.DriverInfo
		c.DriverInfo = &info
	}
	return &c
}

// TokenPair holds the two opaque bearer credentials. Both halves are present or
// both are absent.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Complete reports whether both halves of the pair are set
func (p TokenPair) Complete() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,emailpattern"`
	Password string `json:"password" validate:"required,min=8"`
}

// RegisterRequest is the body of POST /auth/register. LicenseNumber and
// VehicleType are only meaningful when Role is RoleDriver.
type RegisterRequest struct {
	Name            string `json:"name" validate:"required,min=2,max=50,personname"`
	Email           string `json:"email" validate:"required,email,emailpattern"`
	Password        string `json:"password" validate:"required,min=8,strongpassword"`
	ConfirmPassword string `json:"-" validate:"required,eqfield=Password"`
	Phone           string `json:"phone,omitempty" validate:"omitempty,phone"`
	Role            Role   `json:"role" validate:"required,oneof=patient driver admin"`
	LicenseNumber   string `json:"licenseNumber,omitempty" validate:"required_if=Role driver,license"`
	VehicleType     string `json:"vehicleType,omitempty" validate:"required_if=Role driver"`
}

// AuthResponse is returned by login and registration
type AuthResponse struct {
	Message string    `json:"message,omitempty"`
	User    User      `json:"user"`
	Tokens  TokenPair `json:"tokens"`
}

// VerifyResponse is returned by GET /auth/verify
type VerifyResponse struct {
	User User `json:"user"`
}

// RefreshRequest is the body of POST /auth/refresh
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse is returned by POST /auth/refresh
type RefreshResponse struct {
	Tokens TokenPair `json:"tokens"`
}
