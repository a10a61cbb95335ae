package library

import (
	"context"
	"database/sql"
	"errors"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
)

// getOrCreateCart is the single place carts come into existence.
// Staff accounts never own one.
func (lm *LibraryManager) getOrCreateCart(ctx context.Context, q queryer, userID int64) (*Cart, error) {
	owner, err := users.get(ctx, lm.db, q, userID)
	if err != nil {
		return nil, err
	}
	if owner.Role.IsStaff() {
		return nil, newError(KindInvalidOperation, "staff accounts cannot own a cart")
	}
	if _, err := q.ExecContext(ctx, `INSERT INTO carts(user_id) VALUES(?) ON CONFLICT(user_id) DO NOTHING`, userID); err != nil {
		return nil, internal("create cart", err)
	}
	var c Cart
	if err := sqlx.GetContext(ctx, q, &c, `SELECT id, user_id FROM carts WHERE user_id=?`, userID); err != nil {
		return nil, internal("load cart", err)
	}
	return &c, nil
}

// findCart returns the user's cart without creating one; nil means none exists yet.
func (lm *LibraryManager) findCart(ctx context.Context, q queryer, userID int64) (*Cart, error) {
	var c Cart
	err := sqlx.GetContext(ctx, q, &c, `SELECT id, user_id FROM carts WHERE user_id=?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, internal("load cart", err)
	}
	return &c, nil
}

// cartBooks lists cart members ordered by author name then title.
func (lm *LibraryManager) cartBooks(ctx context.Context, q queryer, cartID int64) ([]Book, error) {
	out := []Book{}
	ds := bookSelect(lm.db.sq).
		Join(goqu.T("cart_books").As("cb"), goqu.On(goqu.I("cb.book_id").Eq(goqu.I("b.id")))).
		Where(goqu.I("cb.cart_id").Eq(cartID)).
		Order(goqu.COALESCE(goqu.I("a.name"), "").Asc(), goqu.I("b.title").Asc(), goqu.I("b.id").Asc())
	if err := lm.db.selectAll(ctx, q, &out, ds); err != nil {
		return nil, internal("list cart books", err)
	}
	return out, nil
}

func (lm *LibraryManager) loadCart(ctx context.Context, q queryer, c *Cart) (*Cart, error) {
	bs, err := lm.cartBooks(ctx, q, c.ID)
	if err != nil {
		return nil, err
	}
	c.Books = bs
	return c, nil
}

// ------------------ Patron cart operations ------------------

// GetOrCreateCart returns the actor's cart, creating it on first use.
func (lm *LibraryManager) GetOrCreateCart(ctx context.Context, actor Actor) (*Cart, error) {
	if err := lm.requireAuth(actor); err != nil {
		return nil, err
	}
	var c *Cart
	err := lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if c, err = lm.getOrCreateCart(ctx, tx, actor.UserID); err != nil {
			return err
		}
		c, err = lm.loadCart(ctx, tx, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ViewCart is GetOrCreateCart under the name the cart page uses.
func (lm *LibraryManager) ViewCart(ctx context.Context, actor Actor) (*Cart, error) {
	return lm.GetOrCreateCart(ctx, actor)
}

// AddToCart stages an available book. Adding a book twice is a no-op.
func (lm *LibraryManager) AddToCart(ctx context.Context, actor Actor, bookID int64) (*Cart, error) {
	if err := lm.requireAuth(actor); err != nil {
		return nil, err
	}
	var c *Cart
	err := lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if c, err = lm.getOrCreateCart(ctx, tx, actor.UserID); err != nil {
			return err
		}
		b, err := books.get(ctx, lm.db, tx, bookID)
		if err != nil {
			return err
		}
		if !b.Available {
			return newError(KindUnavailable, "book %q is not available", b.Title)
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO cart_books(cart_id, book_id) VALUES(?, ?)`, c.ID, bookID); err != nil {
			return internal("add to cart", err)
		}
		c, err = lm.loadCart(ctx, tx, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	lm.log.InfoContext(ctx, "added book to cart", "user", actor.UserID, "book", bookID)
	return c, nil
}

// RemoveFromCart unstages a book. Removing an absent book is a no-op.
func (lm *LibraryManager) RemoveFromCart(ctx context.Context, actor Actor, bookID int64) (*Cart, error) {
	if err := lm.requireAuth(actor); err != nil {
		return nil, err
	}
	var c *Cart
	err := lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if c, err = lm.getOrCreateCart(ctx, tx, actor.UserID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_books WHERE cart_id=? AND book_id=?`, c.ID, bookID); err != nil {
			return internal("remove from cart", err)
		}
		c, err = lm.loadCart(ctx, tx, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	lm.log.InfoContext(ctx, "removed book from cart", "user", actor.UserID, "book", bookID)
	return c, nil
}

// ------------------ Staff cart review ------------------

// ListCarts returns every user with a non-empty cart, ordered by name.
func (lm *LibraryManager) ListCarts(ctx context.Context, actor Actor) ([]CartSummary, error) {
	if err := lm.requireStaff(actor); err != nil {
		return nil, err
	}
	type ownerRow struct {
		User
		CartID int64 `db:"cart_id"`
	}
	var owners []ownerRow
	ds := lm.db.sq.From(goqu.T("users").As("u")).
		Join(goqu.T("carts").As("c"), goqu.On(goqu.I("c.user_id").Eq(goqu.I("u.id")))).
		Where(goqu.L("EXISTS (SELECT 1 FROM cart_books cb WHERE cb.cart_id = c.id)")).
		Select(
			goqu.I("u.id"), goqu.I("u.email"), goqu.I("u.full_name"), goqu.I("u.date_of_birth"),
			goqu.I("u.password_hash"), goqu.I("u.role"), goqu.I("u.active"), goqu.I("u.joined_at"),
			goqu.I("c.id").As("cart_id"),
		).
		Order(goqu.I("u.full_name").Asc(), goqu.I("u.id").Asc())
	if err := lm.db.selectAll(ctx, lm.db.db, &owners, ds); err != nil {
		return nil, internal("list carts", err)
	}

	out := make([]CartSummary, 0, len(owners))
	for _, o := range owners {
		bs, err := lm.cartBooks(ctx, lm.db.db, o.CartID)
		if err != nil {
			return nil, err
		}
		out = append(out, CartSummary{User: o.User, Books: bs})
	}
	return out, nil
}

// UserCart returns a user's cart contents for staff review without creating a cart.
func (lm *LibraryManager) UserCart(ctx context.Context, actor Actor, userID int64) (*Cart, error) {
	if err := lm.requireStaff(actor); err != nil {
		return nil, err
	}
	if _, err := lm.User(ctx, userID); err != nil {
		return nil, err
	}
	c, err := lm.findCart(ctx, lm.db.db, userID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return &Cart{UserID: userID, Books: []Book{}}, nil
	}
	return lm.loadCart(ctx, lm.db.db, c)
}
