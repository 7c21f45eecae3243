package profile

import "time"

// Profile holds the self-reported citizen data shown on the dashboard.
// Field names follow the wire format the portal pages consume.
type Profile struct {
	BirthPlace  string     `json:"birthPlace"`
	BirthDate   string     `json:"birthDate"`
	Gender      string     `json:"gender"`
	Religion    string     `json:"religion"`
	Education   string     `json:"education"`
	Occupation  string     `json:"occupation"`
	Institution string     `json:"institution"`
	Address     string     `json:"address"`
	Phone       string     `json:"phone"`
	PhotoPath   string     `json:"photoPath"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

// Input is the update payload accepted from the data form. Full name and
// email live on the user row; everything else goes to the profile row.
type Input struct {
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	BirthPlace  string `json:"birthPlace"`
	BirthDate   string `json:"birthDate"`
	Gender      string `json:"gender"`
	Religion    string `json:"religion"`
	Education   string `json:"education"`
	Occupation  string `json:"occupation"`
	Institution string `json:"institution"`
	Address     string `json:"address"`
	Phone       string `json:"phone"`
}

// AdminItem is one row of the admin profile table.
type AdminItem struct {
	ID         string     `json:"id"`
	NIK        string     `json:"nik"`
	FullName   string     `json:"fullName"`
	Email      string     `json:"email"`
	Completion int        `json:"completion"`
	UpdatedAt  *time.Time `json:"updatedAt,omitempty"`
}
