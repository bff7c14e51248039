package registry

import "errors"

var (
	// ErrAlreadyExists は同じIDのユーザーが既に登録されていることを示す。
	ErrAlreadyExists = errors.New("id already exists")
	// ErrNotFound はユーザーが存在しないことを示す。
	ErrNotFound = errors.New("user not found")
)

// User はレジストリに登録されるユーザー。
type User struct {
	// ID はユーザーの一意識別子。
	ID int64 `json:"id"`
	// Name は表示名。
	Name string `json:"name"`
	// Email はメールアドレス。
	Email string `json:"email"`
}
