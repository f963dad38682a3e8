package entity

import "time"

// RoleUser is the role assigned at registration.
const RoleUser = "USER"

// User represents an account row in the `users` table.
// RefreshToken holds the single live refresh token; nil when none was issued
// or it was cleared.
type User struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	Name         string    `db:"name"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	RefreshToken *string   `db:"refresh_token"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}
