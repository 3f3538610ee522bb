package validation

import "strings"

// LoginForm holds the login credentials.
type LoginForm struct {
	Email    string `form:"email" validate:"required,email_shape"`
	Password string `form:"password" validate:"required"`
}

// RegisterForm holds the sign-up fields.
type RegisterForm struct {
	Name     string `form:"name" validate:"required,min=2"`
	Email    string `form:"email" validate:"required,email_shape"`
	Password string `form:"password" validate:"required,min=6"`
}

// PlaceForm holds the quick-add / edit place fields.
type PlaceForm struct {
	Name        string `form:"name" validate:"required,max=200"`
	Description string `form:"description" validate:"max=1000"`
	Category    string `form:"category" validate:"omitempty,oneof=attraction restaurant hotel nature beach museum shopping entertainment transport other"`
	Website     string `form:"website" validate:"omitempty,url"`
}

// RouteForm holds the save-route fields.
type RouteForm struct {
	Name        string `form:"name" validate:"required,min=1,max=200"`
	Description string `form:"description" validate:"max=1000"`
}

// Validate trims and validates login input.
func (f *LoginForm) Validate() error {
	f.Email = strings.TrimSpace(f.Email)
	return Struct(f)
}

// Validate trims and validates registration input.
func (f *RegisterForm) Validate() error {
	f.Name = strings.TrimSpace(f.Name)
	f.Email = strings.TrimSpace(f.Email)
	return Struct(f)
}

// Validate trims and validates place input.
func (f *PlaceForm) Validate() error {
	f.Name = strings.TrimSpace(f.Name)
	f.Description = strings.TrimSpace(f.Description)
	f.Category = strings.ToLower(strings.TrimSpace(f.Category))
	f.Website = strings.TrimSpace(f.Website)
	return Struct(f)
}

// Validate trims and validates route input.
func (f *RouteForm) Validate() error {
	f.Name = strings.TrimSpace(f.Name)
	f.Description = strings.TrimSpace(f.Description)
	return Struct(f)
}
