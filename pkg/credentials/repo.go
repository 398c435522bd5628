package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	apperrors "github.com/opscart/cloudops-cost-optimizer/pkg/errors"
	"github.com/opscart/cloudops-cost-optimizer/pkg/logger"
)

// StoredCredential is one user's cloud credential with the secret sealed
type StoredCredential struct {
	UserID             string `gorm:"column:user_id;primaryKey"`
	AccessKeyID        string `gorm:"column:access_key_id;not null"`
	EncryptedSecretKey string `gorm:"column:encrypted_secret_key;not null"`
	Region             string `gorm:"column:region;not null"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (StoredCredential) TableName() string { return "user_credentials" }

// Repo persists stored credentials
type Repo interface {
	Upsert(ctx context.Context, cred *StoredCredential) error
	Get(ctx context.Context, userID string) (*StoredCredential, error)
}

type credentialRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRepo(db *gorm.DB, baseLog *logger.Logger) Repo {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	return &credentialRepo{db: db, log: baseLog.With("repo", "CredentialRepo")}
}

func (r *credentialRepo) Upsert(ctx context.Context, cred *StoredCredential) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"access_key_id", "encrypted_secret_key", "region", "updated_at"}),
		}).
		Create(cred).Error
	if err != nil {
		r.log.Error("failed to upsert credential", "userId", cred.UserID, "error", err)
		return apperrors.Wrap(apperrors.ErrCodePersistence, "failed to save credentials", err)
	}
	return nil
}

func (r *credentialRepo) Get(ctx context.Context, userID string) (*StoredCredential, error) {
	var cred StoredCredential
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("No credentials found for user.")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodePersistence, "failed to load credentials", err)
	}
	return &cred, nil
}

// OpenDB opens the credential database and migrates its schema. DSNs
// starting with "sqlite:" use SQLite, anything else PostgreSQL.
func OpenDB(dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if path, ok := strings.CutPrefix(dsn, "sqlite:"); ok {
		dialector = sqlite.Open(path)
	} else {
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open credential database: %w", err)
	}
	if err := db.AutoMigrate(&StoredCredential{}); err != nil {
		return nil, fmt.Errorf("failed to migrate credential schema: %w", err)
	}
	return db, nil
}
