package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/edits"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for identity resolution and authorization.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages canonical user identifiers, their roles and entity ownership.
// It implements edits.Authorizer.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

type cachedIdentity struct {
	userID      string
	displayName string
	roles       string
}

var _ edits.Authorizer = (*Service)(nil)

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
		cache:  sync.Map{},
	}, nil
}

// ResolveActor maps session claims onto the canonical actor, creating the identity on first sight
// and refreshing the stored display name and roles when the session presents new values.
func (s *Service) ResolveActor(ctx context.Context, claims auth.SessionClaims) (edits.Actor, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return edits.Actor{}, ErrInvalidIdentity
	}
	displayName := normalize(claims.DisplayName())
	roles := encodeRoles(claims.UserRoles)

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if snapshot, ok := cached.(cachedIdentity); ok && snapshot.roles == roles && (displayName == "" || snapshot.displayName == displayName) {
			return edits.Actor{UserID: edits.UserID(snapshot.userID), DisplayName: snapshot.displayName}, nil
		}
	}

	var identity Identity
	err := s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", provider, subject).
		First(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      subject,
			Email:       normalize(claims.UserEmail),
			DisplayName: displayName,
			Roles:       roles,
			LastSeenAt:  s.now(),
		}
		if _, err := edits.NewUserID(identity.UserID); err != nil {
			return edits.Actor{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
		}
		if err := s.db.WithContext(ctx).Create(&identity).Error; err != nil {
			s.logger.Error("identity insert failed", zap.String("user_id", identity.UserID), zap.Error(err))
			return edits.Actor{}, err
		}
	} else if err != nil {
		return edits.Actor{}, err
	} else {
		updates := map[string]interface{}{}
		if email := normalize(claims.UserEmail); email != "" && email != identity.Email {
			updates["user_email"] = email
		}
		if displayName != "" && displayName != identity.DisplayName {
			updates["user_display_name"] = displayName
			identity.DisplayName = displayName
		}
		if roles != identity.Roles {
			updates["user_roles"] = roles
			identity.Roles = roles
		}
		updates["last_seen_at"] = s.now()
		if err := s.db.WithContext(ctx).Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).
			Error; err != nil {
			s.logger.Warn("identity refresh failed", zap.String("user_id", identity.UserID), zap.Error(err))
		}
	}

	s.cache.Store(cacheKey, cachedIdentity{userID: identity.UserID, displayName: identity.DisplayName, roles: identity.Roles})
	return edits.Actor{UserID: edits.UserID(identity.UserID), DisplayName: identity.DisplayName}, nil
}

// Roles returns the union of roles stored for every identity mapped to the user.
func (s *Service) Roles(ctx context.Context, userID edits.UserID) ([]Role, error) {
	var identities []Identity
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID.String()).Find(&identities).Error; err != nil {
		return nil, err
	}
	seen := map[Role]struct{}{}
	roles := make([]Role, 0, len(identities))
	for _, identity := range identities {
		for _, role := range identity.RoleList() {
			if _, ok := seen[role]; ok {
				continue
			}
			seen[role] = struct{}{}
			roles = append(roles, role)
		}
	}
	return roles, nil
}

// CanModerate grants merge and reject to moderators, admins and owners of the record.
func (s *Service) CanModerate(ctx context.Context, actorID edits.UserID, ref edits.EntityRef) (bool, error) {
	if strings.TrimSpace(actorID.String()) == "" {
		return false, nil
	}
	roles, err := s.Roles(ctx, actorID)
	if err != nil {
		return false, fmt.Errorf("users: load roles: %w", err)
	}
	if AnyCan(roles, ActionModerate) {
		return true, nil
	}
	return s.IsOwner(ctx, actorID, ref)
}

// IsOwner reports whether the user owns the record.
func (s *Service) IsOwner(ctx context.Context, userID edits.UserID, ref edits.EntityRef) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&EntityOwnership{}).
		Where("collection = ? AND entity_id = ? AND user_id = ?", ref.Collection, ref.EntityID, userID.String()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("users: load ownership: %w", err)
	}
	return count > 0, nil
}

// AssignOwner records the user as an owner of the record. Repeated assignment is a no-op.
func (s *Service) AssignOwner(ctx context.Context, userID edits.UserID, ref edits.EntityRef) error {
	validUserID, err := edits.NewUserID(userID.String())
	if err != nil {
		return err
	}
	validRef, err := edits.NewEntityRef(ref.Collection, ref.EntityID)
	if err != nil {
		return err
	}
	ownership := EntityOwnership{
		Collection:       validRef.Collection,
		EntityID:         validRef.EntityID,
		UserID:           validUserID.String(),
		CreatedAtSeconds: s.now().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&ownership).Error; err != nil {
		return err
	}
	s.logger.Info("entity owner assigned",
		zap.String("user_id", validUserID.String()),
		zap.String("entity", validRef.Key()))
	return nil
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := "default"
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}
