package library

import (
	"math"
	"time"
)

// Role is the capability level of an account.
type Role string

const (
	RolePatron Role = "patron"
	RoleStaff  Role = "staff"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePatron, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

// IsStaff reports whether r may issue, return and manage the catalog.
func (r Role) IsStaff() bool { return r == RoleStaff || r == RoleAdmin }

// Actor is the identity on whose behalf a lifecycle operation runs.
// The zero Actor is anonymous.
type Actor struct {
	UserID int64
	Role   Role
}

// Authenticated reports whether the actor carries an identity.
func (a Actor) Authenticated() bool { return a.UserID > 0 }

// ActorFor builds the actor for a loaded user.
func ActorFor(u *User) Actor { return Actor{UserID: u.ID, Role: u.Role} }

// Author of one or more books.
type Author struct {
	ID          int64      `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	DateOfBirth *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	DateOfDeath *time.Time `db:"date_of_death" json:"date_of_death,omitempty"`
}

// Translator of one or more books. Same shape and rules as Author.
type Translator struct {
	ID          int64      `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	DateOfBirth *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	DateOfDeath *time.Time `db:"date_of_death" json:"date_of_death,omitempty"`
}

// Publisher names are unique.
type Publisher struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Book is a single circulating copy. Available is false exactly while an
// unreturned BorrowedBook references it.
type Book struct {
	ID               int64   `db:"id" json:"id"`
	Title            string  `db:"title" json:"title"`
	AuthorID         *int64  `db:"author_id" json:"author_id"`
	AuthorName       *string `db:"author_name" json:"author_name"`
	TranslatorID     *int64  `db:"translator_id" json:"translator_id"`
	TranslatorName   *string `db:"translator_name" json:"translator_name"`
	PublisherID      *int64  `db:"publisher_id" json:"publisher_id"`
	PublisherName    *string `db:"publisher_name" json:"publisher_name"`
	ISBN             *string `db:"isbn" json:"isbn"`
	Year             int     `db:"year" json:"year"`
	ShortDescription string  `db:"short_description" json:"short_description"`
	KeyWords         string  `db:"key_words" json:"key_words"`
	Available        bool    `db:"available" json:"available"`
	TimesOfIssued    int64   `db:"times_of_issued" json:"times_of_issued"`
}

// User is a registered account. Patrons own at most one Cart; staff never do.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	FullName     string    `db:"full_name" json:"full_name"`
	DateOfBirth  time.Time `db:"date_of_birth" json:"date_of_birth"`
	PasswordHash string    `db:"password_hash" json:"-"` // Don't serialize password hash
	Role         Role      `db:"role" json:"role"`
	Active       bool      `db:"active" json:"active"`
	JoinedAt     time.Time `db:"joined_at" json:"joined_at"`
}

// Cart is a patron's staged selection of books awaiting issuance.
type Cart struct {
	ID     int64  `db:"id" json:"id"`
	UserID int64  `db:"user_id" json:"user_id"`
	Books  []Book `db:"-" json:"books"`
}

// CartSummary pairs a cart owner with the cart contents for staff review.
type CartSummary struct {
	User  User   `json:"user"`
	Books []Book `json:"books"`
}

// BorrowedBook is a ledger entry. ReturnedAt is set iff Returned is true.
type BorrowedBook struct {
	ID         int64      `db:"id" json:"id"`
	UserID     int64      `db:"user_id" json:"user_id"`
	BookID     int64      `db:"book_id" json:"book_id"`
	BookTitle  string     `db:"book_title" json:"book_title"`
	BorrowedAt time.Time  `db:"borrowed_at" json:"borrowed_at"`
	Returned   bool       `db:"returned" json:"returned"`
	ReturnedAt *time.Time `db:"returned_at" json:"returned_at,omitempty"`
}

// Borrower summarises a user currently holding books.
type Borrower struct {
	UserID      int64  `db:"user_id" json:"user_id"`
	FullName    string `db:"full_name" json:"full_name"`
	Email       string `db:"email" json:"email"`
	ActiveLoans int    `db:"active_loans" json:"active_loans"`
}

// Page selects a window of a listing. Zero values fall back to defaults.
type Page struct {
	Number  int
	PerPage int
}

const (
	defaultPerPage = 20
	maxPerPage     = 100
	// maxPageNumber keeps the row offset within a 32-bit integer.
	maxPageNumber = math.MaxInt32 / maxPerPage
)

func (p Page) normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.PerPage <= 0 {
		p.PerPage = defaultPerPage
	}
	if p.PerPage > maxPerPage {
		p.PerPage = maxPerPage
	}
	if p.Number > maxPageNumber {
		p.Number = maxPageNumber
	}
	return p
}

func (p Page) offset() uint { return uint((p.Number - 1) * p.PerPage) }

// Listing is one page of results plus the total match count.
type Listing[T any] struct {
	Items   []T   `json:"items"`
	Total   int64 `json:"total"`
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
}

// BookFilter narrows a book search.
type BookFilter struct {
	// Query matches title, author name, isbn and key words.
	Query       string
	Available   *bool
	AuthorID    int64
	PublisherID int64
}
