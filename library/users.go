package library

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

var users = entity[User]{
	name:  "user",
	table: "users",
	idCol: "id",
	base: func(sq goqu.DialectWrapper) *goqu.SelectDataset {
		return sq.From("users").
			Select("id", "email", "full_name", "date_of_birth", "password_hash", "role", "active", "joined_at")
	},
	search: []string{"full_name", "email"},
	order:  []exp.OrderedExpression{goqu.I("full_name").Asc(), goqu.I("id").Asc()},
	refs: []reference{
		{table: "borrowed_books", column: "user_id", where: goqu.C("returned").IsFalse(), what: "user holds unreturned books"},
	},
	unique: "email",
}

// ------------------ Registration & authentication ------------------

// Register creates a patron account.
func (lm *LibraryManager) Register(ctx context.Context, in RegisterInput) (*User, error) {
	return lm.createUser(ctx, in, RolePatron)
}

// CreateStaff creates a staff or admin account. It is reserved for operator tooling.
func (lm *LibraryManager) CreateStaff(ctx context.Context, in RegisterInput, role Role) (*User, error) {
	if !role.IsStaff() {
		return nil, newError(KindInvalidOperation, "role %q is not a staff role", role)
	}
	return lm.createUser(ctx, in, role)
}

func (lm *LibraryManager) createUser(ctx context.Context, in RegisterInput, role Role) (*User, error) {
	in.Email = normalizeEmail(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	if err := checkStruct(in); err != nil {
		return nil, err
	}
	dob, err := lm.birthDate(in.DateOfBirth)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), lm.passwordCost)
	if err != nil {
		return nil, internal("hash password", err)
	}

	id, err := users.insert(ctx, lm.db, lm.db.db, goqu.Record{
		"email":         in.Email,
		"full_name":     in.FullName,
		"date_of_birth": dob,
		"password_hash": string(hash),
		"role":          role,
		"active":        true,
		"joined_at":     lm.now(),
	})
	if err != nil {
		var e *Error
		if errors.As(err, &e) && e.Kind == KindValidation {
			return nil, invalidField("email", "is already registered")
		}
		return nil, err
	}
	lm.log.InfoContext(ctx, "registered user", "user", id, "role", role)
	return lm.User(ctx, id)
}

func (lm *LibraryManager) birthDate(s string) (time.Time, error) {
	dob, err := parseDate("date_of_birth", s)
	if err != nil {
		return time.Time{}, err
	}
	if dob == nil {
		return time.Time{}, invalidField("date_of_birth", "is required")
	}
	if dob.After(today(lm.now())) {
		return time.Time{}, invalidField("date_of_birth", "cannot be in the future")
	}
	return *dob, nil
}

// Authenticate verifies credentials and returns the active account they belong to.
func (lm *LibraryManager) Authenticate(ctx context.Context, email, password string) (*User, error) {
	var u User
	ok, err := lm.db.get(ctx, lm.db.db, &u, users.base(lm.db.sq).Where(goqu.C("email").Eq(normalizeEmail(email))))
	if err != nil {
		return nil, internal("load user", err)
	}
	// One message for every failure so callers cannot probe which emails exist.
	if !ok || !u.Active || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, newError(KindUnauthenticated, "invalid email or password")
	}
	return &u, nil
}

// User loads an account by id.
func (lm *LibraryManager) User(ctx context.Context, id int64) (*User, error) {
	return users.get(ctx, lm.db, lm.db.db, id)
}

// ResetPassword replaces a user's password. It is reserved for operator tooling.
func (lm *LibraryManager) ResetPassword(ctx context.Context, userID int64, password string) error {
	if len(password) < 8 || len(password) > 72 {
		return invalidField("password", "must be between 8 and 72 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), lm.passwordCost)
	if err != nil {
		return internal("hash password", err)
	}
	return users.update(ctx, lm.db, lm.db.db, userID, goqu.Record{"password_hash": string(hash)})
}

// ------------------ Staff user management ------------------

// ListPatrons lists non-staff accounts whose name or email contains query.
func (lm *LibraryManager) ListPatrons(ctx context.Context, actor Actor, query string, page Page) (Listing[User], error) {
	if err := lm.requireStaff(actor); err != nil {
		return Listing[User]{}, err
	}
	ds := users.matching(lm.db.sq, strings.TrimSpace(query)).Where(goqu.C("role").Eq(RolePatron))
	return users.list(ctx, lm.db, ds, page)
}

// UpdateUser edits an account. Only admins may edit staff accounts.
func (lm *LibraryManager) UpdateUser(ctx context.Context, actor Actor, id int64, in UserUpdateInput) (*User, error) {
	if err := lm.requireStaff(actor); err != nil {
		return nil, err
	}
	if in.Email != nil {
		e := normalizeEmail(*in.Email)
		in.Email = &e
	}
	if in.FullName != nil {
		n := strings.TrimSpace(*in.FullName)
		in.FullName = &n
	}
	if err := checkStruct(in); err != nil {
		return nil, err
	}
	err := lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		target, err := users.get(ctx, lm.db, tx, id)
		if err != nil {
			return err
		}
		if err := lm.canManage(actor, target); err != nil {
			return err
		}
		rec := goqu.Record{}
		if in.Email != nil {
			rec["email"] = *in.Email
		}
		if in.FullName != nil {
			rec["full_name"] = *in.FullName
		}
		if in.DateOfBirth != nil {
			dob, err := lm.birthDate(*in.DateOfBirth)
			if err != nil {
				return err
			}
			rec["date_of_birth"] = dob
		}
		if in.Active != nil {
			if !*in.Active && target.ID == actor.UserID {
				return newError(KindInvalidOperation, "cannot deactivate your own account")
			}
			rec["active"] = *in.Active
		}
		if len(rec) == 0 {
			return nil
		}
		return users.update(ctx, lm.db, tx, id, rec)
	})
	if err != nil {
		return nil, err
	}
	lm.log.InfoContext(ctx, "updated user", "actor", actor.UserID, "user", id)
	return lm.User(ctx, id)
}

// DeleteUser removes an account together with its cart and loan history.
// It fails with Conflict while the user still holds books.
func (lm *LibraryManager) DeleteUser(ctx context.Context, actor Actor, id int64) error {
	if err := lm.requireStaff(actor); err != nil {
		return err
	}
	if id == actor.UserID {
		return newError(KindInvalidOperation, "cannot delete your own account")
	}
	target, err := lm.User(ctx, id)
	if err != nil {
		return err
	}
	if err := lm.canManage(actor, target); err != nil {
		return err
	}
	if err := users.delete(ctx, lm.db, id); err != nil {
		return err
	}
	lm.log.InfoContext(ctx, "deleted user", "actor", actor.UserID, "user", id)
	return nil
}

func (lm *LibraryManager) canManage(actor Actor, target *User) error {
	if target.Role.IsStaff() && actor.Role != RoleAdmin {
		return newError(KindForbidden, "only admins can manage staff accounts")
	}
	return nil
}
