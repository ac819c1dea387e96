package authorization

import "time"

// Account is a login identity. OwnerID is the namespace key every document,
// chunk, and chat turn is scoped to; it is fixed at registration and never
// reused across accounts.
type Account struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	Username     string    `gorm:"size:64;not null;uniqueIndex" json:"username"`
	PasswordHash string    `gorm:"size:128;not null" json:"-"`
	DisplayName  string    `gorm:"size:128" json:"display_name"`
	OwnerID      string    `gorm:"size:128;not null;uniqueIndex" json:"owner_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"-"`
}

func (Account) TableName() string {
	return "accounts"
}

// AuthenticatedAccount is the identity carried in JWT claims.
type AuthenticatedAccount struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	OwnerID  string `json:"owner_id"`
}

// LoginRequest is the expected payload for the login endpoint.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterRequest is the expected payload for the register endpoint.
type RegisterRequest struct {
	Username    string `json:"username" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"display_name"`
}
