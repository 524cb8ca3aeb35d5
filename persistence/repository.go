package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pointshop/shopauth/audit"
	"github.com/pointshop/shopauth/domain"
	"github.com/pointshop/shopauth/identity"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the GORM-backed identity store. It also persists audit events.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func init() {
	Register("sqlite", sqlite.Open)
	Register("postgres", postgres.Open)
	Register("mysql", mysql.Open)
}

func (r *Repository) DB() *gorm.DB {
	return r.db
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&identity.Identity{},
		&auditRecord{},
	)
}

func (r *Repository) first(ctx context.Context, query string, args ...any) (*identity.Identity, error) {
	var ident identity.Identity
	err := r.db.WithContext(ctx).Where(query, args...).Order("id").First(&ident).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ident, nil
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	return r.first(ctx, "email = ?", email)
}

func (r *Repository) FindByEmailOrUsername(ctx context.Context, email, username string) (*identity.Identity, error) {
	return r.first(ctx, "email = ? OR username = ?", email, username)
}

func (r *Repository) FindByID(ctx context.Context, id uint) (*identity.Identity, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *Repository) Insert(ctx context.Context, ident *identity.Identity) error {
	err := r.db.WithContext(ctx).Create(ident).Error
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrDuplicate
	}
	// Not every dialector translates constraint errors.
	if _, findErr := r.FindByEmailOrUsername(ctx, ident.Email, ident.Username); findErr == nil {
		return domain.ErrDuplicate
	}
	return err
}

func (r *Repository) UpdateContact(ctx context.Context, email, contact string) error {
	res := r.db.WithContext(ctx).Model(&identity.Identity{}).
		Where("email = ?", email).
		Update("whatsapp", contact)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// MySQL reports zero affected rows when the value is unchanged.
	var n int64
	if err := r.db.WithContext(ctx).Model(&identity.Identity{}).Where("email = ?", email).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Ping reports whether the database answers.
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// -- Audit --

type auditRecord struct {
	ID         string `gorm:"primaryKey;size:32"`
	Type       string `gorm:"size:64;index"`
	Status     string `gorm:"size:32;index"`
	Email      string `gorm:"size:191;index"`
	IdentityID uint   `gorm:"index"`
	Message    string
	RetryAfter int
	DurationMS int64
	CreatedAt  time.Time `gorm:"index"`
}

func (auditRecord) TableName() string { return "audit_events" }

// SaveEvent persists e. Saving the same id twice is a no-op.
func (r *Repository) SaveEvent(ctx context.Context, e *audit.Event) error {
	rec := &auditRecord{
		ID:         e.ID,
		Type:       e.Type,
		Status:     e.Status,
		Email:      e.Email,
		IdentityID: e.IdentityID,
		Message:    e.Message,
		RetryAfter: e.RetryAfter,
		DurationMS: e.Duration.Milliseconds(),
		CreatedAt:  e.CreatedAt,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(rec).Error
}

// Events returns the most recent audit events for email, newest first.
func (r *Repository) Events(ctx context.Context, email string, limit int) ([]audit.Event, error) {
	var recs []auditRecord
	q := r.db.WithContext(ctx).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "created_at"}, Desc: true}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: true})
	if email != "" {
		q = q.Where("email = ?", email)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]audit.Event, 0, len(recs))
	for _, rec := range recs {
		out = append(out, audit.Event{
			ID:         rec.ID,
			Type:       rec.Type,
			Status:     rec.Status,
			Email:      rec.Email,
			IdentityID: rec.IdentityID,
			Message:    rec.Message,
			RetryAfter: rec.RetryAfter,
			Duration:   time.Duration(rec.DurationMS) * time.Millisecond,
			CreatedAt:  rec.CreatedAt,
		})
	}
	return out, nil
}
