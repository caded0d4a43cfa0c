package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/quanty/internal/apperr"
	"github.com/hugh/quanty/internal/database/models"
	"github.com/hugh/quanty/internal/metrics"
	"gorm.io/gorm"
)

// Provisioner creates the personal workspace of a new user inside the
// transaction that creates the user.
type Provisioner interface {
	CreatePersonalWorkspace(ctx context.Context, tx *gorm.DB, user *models.User) (*models.Workspace, error)
}

// Resolver maps bearer credentials to local users, provisioning a user the
// first time an external identity is seen.
type Resolver struct {
	db          *gorm.DB
	verifier    Verifier
	provisioner Provisioner
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

func NewResolver(db *gorm.DB, verifier Verifier, provisioner Provisioner, m *metrics.Metrics, logger *slog.Logger) *Resolver {
	return &Resolver{
		db:          db,
		verifier:    verifier,
		provisioner: provisioner,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// Resolve returns the user a credential belongs to. Every failure is
// reported as Unauthenticated; the cause is only logged.
func (r *Resolver) Resolve(ctx context.Context, credential string) (*models.User, error) {
	user, err := r.resolve(ctx, strings.TrimSpace(credential))
	if err != nil {
		r.metrics.Resolution("unauthenticated")
		if apperr.KindOf(err) == apperr.KindInternal {
			r.logger.Error("identity resolution failed", "error", err)
		} else {
			r.logger.Debug("credential rejected", "error", err)
		}
		return nil, apperr.Unauthenticated().WithCause(err)
	}
	r.metrics.Resolution("resolved")
	return user, nil
}

func (r *Resolver) resolve(ctx context.Context, credential string) (*models.User, error) {
	if credential == "" {
		return nil, ErrInvalidToken
	}
	if _, local := r.verifier.(*JWTService); !local {
		if err := PreCheck(credential, r.now()); err != nil {
			return nil, err
		}
	}

	identity, err := r.verifier.Verify(ctx, credential)
	if err != nil {
		return nil, err
	}

	if identity.Local {
		return r.localUser(ctx, identity)
	}
	return r.federatedUser(ctx, identity)
}

func (r *Resolver) localUser(ctx context.Context, identity *Identity) (*models.User, error) {
	id, err := uuid.Parse(identity.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}
	return &user, nil
}

// federatedUser looks the identity up by external id, links an unlinked
// account with the same email, or creates a new user. A unique violation
// means a concurrent request created the row first; the lookup is retried
// once to pick up the winner.
func (r *Resolver) federatedUser(ctx context.Context, identity *Identity) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(identity.Email))
	if identity.Subject == "" || email == "" {
		return nil, ErrInvalidToken
	}

	for attempt := 0; attempt < 2; attempt++ {
		user, err := r.lookupOrLink(ctx, identity.Subject, email)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		user, err = r.create(ctx, identity.Subject, email, identity.Name)
		if err == nil {
			r.logger.Info("provisioned user", "user_id", user.ID)
			return user, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
		r.logger.Debug("lost user provisioning race, re-reading", "attempt", attempt)
	}
	return nil, ErrVerificationFailed
}

func (r *Resolver) lookupOrLink(ctx context.Context, subject, email string) (*models.User, error) {
	db := r.db.WithContext(ctx)

	var user models.User
	err := db.Where("external_id = ?", subject).First(&user).Error
	if err == nil {
		if !user.IsActive {
			return nil, ErrInactiveUser
		}
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if err := db.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	if user.ExternalID != nil {
		// Same email, different external identity.
		return nil, ErrVerificationFailed
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}

	res := db.Model(&models.User{}).
		Where("id = ? AND external_id IS NULL", user.ID).
		Update("external_id", subject)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Linked concurrently; only accept it if it was linked to us.
		if err := db.Where("external_id = ?", subject).First(&user).Error; err != nil {
			return nil, ErrVerificationFailed
		}
		return &user, nil
	}

	user.ExternalID = &subject
	r.logger.Info("linked external identity", "user_id", user.ID)
	return &user, nil
}

func (r *Resolver) create(ctx context.Context, subject, email, name string) (*models.User, error) {
	user := &models.User{
		ExternalID: &subject,
		Email:      email,
		Name:       name,
		IsActive:   true,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		_, err := r.provisioner.CreatePersonalWorkspace(ctx, tx, user)
		return err
	})
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Kind == apperr.KindConflict {
			return nil, gorm.ErrDuplicatedKey
		}
		return nil, err
	}
	return user, nil
}
