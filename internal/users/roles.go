package users

import "strings"

// Role is a workflow role carried by session claims.
type Role string

// Action is a workflow capability checked against a Role.
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleEditor    Role = "editor"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionPropose  Action = "propose"
	ActionVote     Action = "vote"
	ActionModerate Action = "moderate"
	ActionAdmin    Action = "admin"
)

// Can reports whether role grants action.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleModerator:
		return action != ActionAdmin
	case RoleEditor:
		return action == ActionRead || action == ActionPropose || action == ActionVote
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// NormalizeRole maps unknown values to viewer.
func NormalizeRole(role string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(role))) {
	case RoleViewer:
		return RoleViewer
	case RoleEditor:
		return RoleEditor
	case RoleModerator:
		return RoleModerator
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleViewer
	}
}

// AnyCan reports whether at least one of roles grants action.
func AnyCan(roles []Role, action Action) bool {
	for _, role := range roles {
		if Can(role, action) {
			return true
		}
	}
	return false
}

func encodeRoles(raw []string) string {
	seen := make(map[Role]struct{}, len(raw))
	encoded := make([]string, 0, len(raw))
	for _, value := range raw {
		if strings.TrimSpace(value) == "" {
			continue
		}
		role := NormalizeRole(value)
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		encoded = append(encoded, string(role))
	}
	return strings.Join(encoded, ",")
}

func decodeRoles(encoded string) []Role {
	if strings.TrimSpace(encoded) == "" {
		return nil
	}
	parts := strings.Split(encoded, ",")
	roles := make([]Role, 0, len(parts))
	for _, part := range parts {
		roles = append(roles, NormalizeRole(part))
	}
	return roles
}
