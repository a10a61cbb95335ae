package library

import (
	"context"
	"io"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// LibraryManager coordinates the catalog, carts and the borrow ledger.
// Every mutating operation takes the acting identity explicitly.
type LibraryManager struct {
	db  *Database
	log *slog.Logger
	now func() time.Time

	availableByDefault bool
	passwordCost       int

	Authors     *Collection[Author, AuthorInput]
	Translators *Collection[Translator, AuthorInput]
	Publishers  *Collection[Publisher, PublisherInput]
	Books       *Collection[Book, BookInput]
}

// Option configures a LibraryManager.
type Option func(*LibraryManager)

// WithLogger sets the structured logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(lm *LibraryManager) { lm.log = l }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(lm *LibraryManager) { lm.now = now }
}

// WithBooksAvailableByDefault sets the availability of books created without an explicit flag.
func WithBooksAvailableByDefault(v bool) Option {
	return func(lm *LibraryManager) { lm.availableByDefault = v }
}

// WithPasswordCost sets the bcrypt cost for new password hashes.
func WithPasswordCost(cost int) Option {
	return func(lm *LibraryManager) { lm.passwordCost = cost }
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath.
func NewLibraryManager(dbPath string, opts ...Option) (*LibraryManager, error) {
	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}
	lm := &LibraryManager{
		db:                 db,
		log:                slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:                func() time.Time { return time.Now().UTC() },
		availableByDefault: true,
		passwordCost:       bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(lm)
	}

	lm.Authors = &Collection[Author, AuthorInput]{m: lm, e: authors, clean: cleanPerson, row: lm.personRow}
	lm.Translators = &Collection[Translator, AuthorInput]{m: lm, e: translators, clean: cleanPerson, row: lm.personRow}
	lm.Publishers = &Collection[Publisher, PublisherInput]{m: lm, e: publishers, clean: cleanPublisher, row: lm.publisherRow}
	lm.Books = &Collection[Book, BookInput]{m: lm, e: books, clean: cleanBook, row: lm.bookRow}
	return lm, nil
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// Ping checks that the database is reachable.
func (lm *LibraryManager) Ping(ctx context.Context) error { return lm.db.Ping(ctx) }

// ------------------ Capability checks ------------------

func (lm *LibraryManager) requireAuth(actor Actor) error {
	if !actor.Authenticated() {
		return newError(KindUnauthenticated, "authentication required")
	}
	return nil
}

func (lm *LibraryManager) requireStaff(actor Actor) error {
	if err := lm.requireAuth(actor); err != nil {
		return err
	}
	if !actor.Role.IsStaff() {
		return newError(KindForbidden, "staff role required")
	}
	return nil
}
