package devserver

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/meditransport/medride/internal/models"
)

// passwordCost is lowered by tests
var passwordCost = bcrypt.DefaultCost

// Account is a registered user with credentials
type Account struct {
	models.BaseModel
	Name          string `gorm:"not null"`
	Email         string `gorm:"uniqueIndex;not null"`
	Phone         string
	PasswordHash  string      `gorm:"not null"`
	Role          models.Role `gorm:"type:varchar(16);not null"`
	LicenseNumber string
	VehicleType   string
}

// User returns the public identity record
func (a *Account) User() models.User {
	u := models.User{
		ID:        a.ID,
		Name:      a.Name,
		Email:     a.Email,
		Phone:     a.Phone,
		Role:      a.Role,
		CreatedAt: a.CreatedAt,
	}
	if a.Role == models.RoleDriver {
		u.DriverInfo = &models.DriverInfo{
			LicenseNumber: a.LicenseNumber,
			VehicleType:   a.VehicleType,
		}
	}
	return u
}

// RefreshSession records an issued refresh token. A session is spent the
// first time it is exchanged.
type RefreshSession struct {
	models.BaseModel
	AccountID string    `gorm:"index;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
}

// RideRecord is a persisted booking
type RideRecord struct {
	models.BaseModel
	AccountID           string          `gorm:"index;not null"`
	PickupLocation      models.Location `gorm:"serializer:json"`
	DropoffLocation     models.Location `gorm:"serializer:json"`
	ScheduledTime       time.Time
	VehicleType         string
	PassengerCount      int
	SpecialRequirements string
	EmergencyContact    string
	PaymentMethod       string
	EstimatedFare       float64
	Status              models.RideStatus `gorm:"type:varchar(16);not null"`
}

// Ride returns the API representation
func (r *RideRecord) Ride() models.Ride {
	return models.Ride{
		ID:                  r.ID,
		PickupLocation:      r.PickupLocation,
		DropoffLocation:     r.DropoffLocation,
		ScheduledTime:       r.ScheduledTime,
		VehicleType:         r.VehicleType,
		PassengerCount:      r.PassengerCount,
		SpecialRequirements: r.SpecialRequirements,
		EmergencyContact:    r.EmergencyContact,
		PaymentMethod:       r.PaymentMethod,
		EstimatedFare:       r.EstimatedFare,
		Status:              r.Status,
	}
}

// PaymentRecord is a payment intent and its outcome
type PaymentRecord struct {
	models.BaseModel
	AccountID    string `gorm:"index;not null"`
	RideID       string `gorm:"index;not null"`
	Amount       int64
	Currency     string
	Status       string
	ClientSecret string
}

// Intent returns the processor-style intent
func (p *PaymentRecord) Intent() models.PaymentIntent {
	return models.PaymentIntent{
		ID:           p.ID,
		ClientSecret: p.ClientSecret,
		Amount:       p.Amount,
		Currency:     p.Currency,
		Status:       p.Status,
	}
}

// Payment returns the history entry
func (p *PaymentRecord) Payment() models.Payment {
	return models.Payment{
		ID:        p.ID,
		RideID:    p.RideID,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Status:    p.Status,
		CreatedAt: p.CreatedAt,
	}
}

// Payment intent states
const (
	paymentRequiresConfirmation = "requires_confirmation"
	paymentSucceeded            = "succeeded"
)

// autoMigrate creates or updates all tables
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Account{},
		&RefreshSession{},
		&RideRecord{},
		&PaymentRecord{},
	)
}

// initDatabase opens the SQLite database and applies the connection settings
func initDatabase(url string, zlog zerolog.Logger) (*gorm.DB, error) {
	const (
		maxOpenConns = 4
		maxIdleConns = 2
		busyTimeout  = 5000 // 5 seconds
	)

	db, err := gorm.Open(sqlite.Open(url), &gorm.Config{
		Logger: logger.New(
			log.New(os.Stderr, "\r\n", log.LstdFlags),
			logger.Config{
				LogLevel:                  logger.Error,
				IgnoreRecordNotFoundError: true,
				SlowThreshold:             200 * time.Millisecond,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout),
		"PRAGMA foreign_keys=1",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			zlog.Warn().Str("pragma", pragma).Err(err).Msg("Failed to apply pragma")
		}
	}

	return db, nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func verifyPassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// DemoPassword is the password of every seeded demo account
const DemoPassword = "password123"

var demoAccounts = []Account{
	{Name: "Demo Patient", Email: "patient@demo.com", Phone: "+15550000001", Role: models.RolePatient},
	{Name: "Demo Driver", Email: "driver@demo.com", Phone: "+15550000002", Role: models.RoleDriver, LicenseNumber: "DL1234567", VehicleType: "wheelchair-van"},
	{Name: "Demo Admin", Email: "admin@demo.com", Role: models.RoleAdmin},
}

// seedDemoAccounts creates the demo accounts that do not exist yet
func seedDemoAccounts(db *gorm.DB, zlog zerolog.Logger) error {
	hash, err := hashPassword(DemoPassword)
	if err != nil {
		return err
	}

	for _, demo := range demoAccounts {
		var existing Account
		err := db.Where("email = ?", demo.Email).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to look up %s: %w", demo.Email, err)
		}

		account := demo
		account.PasswordHash = hash
		if err := db.Create(&account).Error; err != nil {
			return fmt.Errorf("failed to seed %s: %w", demo.Email, err)
		}
		zlog.Info().Str("email", account.Email).Str("role", string(account.Role)).Msg("Seeded demo account")
	}
	return nil
}

// purgeRefreshSessions deletes sessions that can no longer be exchanged
func purgeRefreshSessions(db *gorm.DB, now time.Time) (int64, error) {
	result := db.Where("expires_at < ? OR revoked_at IS NOT NULL", now).Delete(&RefreshSession{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge refresh sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}
