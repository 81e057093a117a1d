package devserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/meditransport/medride/internal/metrics"
	"github.com/meditransport/medride/internal/models"
)

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RegisterRequest represents a registration request
type RegisterRequest struct {
	Name          string      `json:"name" binding:"required,min=2,max=50"`
	Email         string      `json:"email" binding:"required,email"`
	Password      string      `json:"password" binding:"required,min=8"`
	Phone         string      `json:"phone"`
	Role          models.Role `json:"role" binding:"required,oneof=patient driver admin"`
	LicenseNumber string      `json:"licenseNumber" binding:"required_if=Role driver"`
	VehicleType   string      `json:"vehicleType" binding:"required_if=Role driver"`
}

// RefreshRequest represents a token refresh request
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// login authenticates with email and password
func (s *Server) login(c *gin.Context) {
	const endpoint = "login"

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.recorder.RecordAuth(endpoint, "invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var account Account
	if err := s.db.Where("email = ?", strings.ToLower(req.Email)).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.recorder.RecordAuth(endpoint, "rejected")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to find user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if err := verifyPassword(req.Password, account.PasswordHash); err != nil {
		s.recorder.RecordAuth(endpoint, "rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	pair, err := s.openSession(&account)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to issue tokens")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	s.recorder.RecordAuth(endpoint, metrics.OutcomeSuccess)
	s.logger.Info().Str("user_id", account.ID).Str("email", account.Email).Msg("User logged in")

	c.JSON(http.StatusOK, models.AuthResponse{
		Message: "Login successful",
		User:    account.User(),
		Tokens:  pair,
	})
}

// register creates an account and signs it in
func (s *Server) register(c *gin.Context) {
	const endpoint = "register"

	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.recorder.RecordAuth(endpoint, "invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	email := strings.ToLower(req.Email)
	var count int64
	if err := s.db.Model(&Account{}).Where("email = ?", email).Count(&count).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to check existing user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if count > 0 {
		s.recorder.RecordAuth(endpoint, "rejected")
		c.JSON(http.StatusConflict, gin.H{"error": "User with this email already exists"})
		return
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to hash password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	account := &Account{
		Name:         req.Name,
		Email:        email,
		Phone:        req.Phone,
		PasswordHash: passwordHash,
		Role:         req.Role,
	}
	if req.Role == models.RoleDriver {
		account.LicenseNumber = req.LicenseNumber
		account.VehicleType = req.VehicleType
	}
	if err := s.db.Create(account).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to create user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	pair, err := s.openSession(account)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to issue tokens")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	s.recorder.RecordAuth(endpoint, metrics.OutcomeSuccess)
	s.logger.Info().Str("user_id", account.ID).Str("role", string(account.Role)).Msg("User registered")

	c.JSON(http.StatusCreated, models.AuthResponse{
		Message: "Registration successful",
		User:    account.User(),
		Tokens:  pair,
	})
}

// verify returns the account behind the access token
func (s *Server) verify(c *gin.Context) {
	p, _ := GetPrincipal(c)
	s.recorder.RecordAuth("verify", metrics.OutcomeSuccess)
	c.JSON(http.StatusOK, models.VerifyResponse{User: p.Account.User()})
}

// refresh exchanges a refresh token for a new pair. The presented token's
// session is spent, so each refresh token works once.
func (s *Server) refresh(c *gin.Context) {
	const endpoint = "refresh"

	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.recorder.RecordAuth(endpoint, "invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Refresh token required"})
		return
	}

	claims, err := s.issuer.ParseRefresh(req.RefreshToken)
	if err != nil {
		s.recorder.RecordAuth(endpoint, "rejected")
		respondWithError(c, s.logger, http.StatusUnauthorized, err, "Invalid refresh token")
		return
	}

	now := s.issuer.now().UTC()
	spend := s.db.Model(&RefreshSession{}).
		Where("id = ? AND account_id = ? AND revoked_at IS NULL AND expires_at > ?", claims.ID, claims.UserID, now).
		Update("revoked_at", now)
	if spend.Error != nil {
		s.logger.Error().Err(spend.Error).Msg("Failed to spend refresh session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if spend.RowsAffected != 1 {
		s.recorder.RecordAuth(endpoint, "rejected")
		respondWithError(c, s.logger, http.StatusUnauthorized, ErrInvalidToken, "Invalid refresh token")
		return
	}

	var account Account
	if err := s.db.Where("id = ?", claims.UserID).First(&account).Error; err != nil {
		s.recorder.RecordAuth(endpoint, "rejected")
		respondWithError(c, s.logger, http.StatusUnauthorized, ErrUserNotFound, "User not found")
		return
	}

	pair, err := s.openSession(&account)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to issue tokens")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	s.recorder.RecordAuth(endpoint, metrics.OutcomeSuccess)
	s.logger.Debug().Str("user_id", account.ID).Msg("Token refreshed")
	c.JSON(http.StatusOK, models.RefreshResponse{Tokens: pair})
}

// openSession mints a pair and records its refresh session
func (s *Server) openSession(account *Account) (models.TokenPair, error) {
	issued, err := s.issuer.Issue(account)
	if err != nil {
		return models.TokenPair{}, err
	}

	session := &RefreshSession{
		BaseModel: models.BaseModel{ID: issued.RefreshID},
		AccountID: account.ID,
		ExpiresAt: issued.RefreshExpiresAt,
	}
	if err := s.db.Create(session).Error; err != nil {
		return models.TokenPair{}, err
	}
	return issued.Tokens, nil
}
