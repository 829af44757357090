package users

import (
	"strings"
	"time"
)

// Identity captures the mapping between a canonical user id and a provider-specific login,
// along with the roles last presented in that user's session.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index"`
	Email       string    `gorm:"column:user_email;size:320"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	Roles       string    `gorm:"column:user_roles;size:190;not null"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

// RoleList decodes the stored roles.
func (identity Identity) RoleList() []Role {
	return decodeRoles(identity.Roles)
}

// EntityOwnership grants moderation rights over a single record.
type EntityOwnership struct {
	Collection       string `gorm:"column:collection;primaryKey;size:190;not null"`
	EntityID         string `gorm:"column:entity_id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null;index"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName exposes the table backing entity ownership.
func (EntityOwnership) TableName() string {
	return "entity_owners"
}

// Models lists the tables owned by this package.
func Models() []any {
	return []any{&Identity{}, &EntityOwnership{}}
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
