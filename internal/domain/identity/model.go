package identity

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("identity: not found")
	ErrDuplicate = errors.New("identity: username already taken")
	ErrInvalid   = errors.New("identity: invalid input")
)

// Department maps to the department table. Departments are seeded, never
// edited through the API.
type Department struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
}

// Doctor maps to the doctor table.
type Doctor struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	FullName       string     `db:"full_name" json:"full_name"`
	Username       string     `db:"username" json:"username"`
	Specialization string     `db:"specialization" json:"specialization"`
	DepartmentID   *uuid.UUID `db:"department_id" json:"department_id,omitempty"`
	Active         bool       `db:"active" json:"active"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// Patient maps to the patient table.
type Patient struct {
	ID        uuid.UUID `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Username  string    `db:"username" json:"username"`
	Age       *int      `db:"age" json:"age,omitempty"`
	Contact   *string   `db:"contact" json:"contact,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
