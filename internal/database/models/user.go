package models

// User is a local identity. Users are never hard-deleted because ownership and
// audit rows reference them.
type User struct {
	Base
	// ExternalID is the subject of the federated identity; nil until the first
	// federated login links this account.
	ExternalID   *string `gorm:"uniqueIndex" json:"-"`
	Email        string  `gorm:"uniqueIndex;not null" json:"email"`
	Name         string  `json:"name"`
	PasswordHash string  `json:"-"`
	IsActive     bool    `gorm:"default:true" json:"is_active"`
}

func (User) TableName() string {
	return "users"
}
