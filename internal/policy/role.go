package policy

import "github.com/hugh/quanty/internal/database/models"

// Rank orders roles: owner > editor > viewer. Unknown roles rank zero and
// therefore satisfy no minimum.
func Rank(r models.Role) int {
	switch r {
	case models.RoleOwner:
		return 3
	case models.RoleEditor:
		return 2
	case models.RoleViewer:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether have satisfies the minimum role want.
func AtLeast(have, want models.Role) bool {
	return Rank(have) > 0 && Rank(have) >= Rank(want)
}
