package domain

// Permission is a totally ordered capability held per (ledger, user) pair.
type Permission int

const (
	// PermissionRead allows reading records.
	PermissionRead Permission = iota + 1
	// PermissionWrite allows committing records and adjustments.
	PermissionWrite
	// PermissionShare allows granting or changing other users' permissions.
	PermissionShare
)

// Allows reports whether the permission covers the required level.
func (p Permission) Allows(required Permission) bool {
	return p >= required
}

func (p Permission) String() string {
	switch p {
	case PermissionRead:
		return "READ"
	case PermissionWrite:
		return "WRITE"
	case PermissionShare:
		return "SHARE"
	default:
		return "UNKNOWN"
	}
}
