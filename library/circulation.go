package library

import (
	"context"
	"errors"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
)

func loanSelect(sq goqu.DialectWrapper) *goqu.SelectDataset {
	return sq.From(goqu.T("borrowed_books").As("l")).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("l.book_id")))).
		Select(
			goqu.I("l.id"),
			goqu.I("l.user_id"),
			goqu.I("l.book_id"),
			goqu.I("b.title").As("book_title"),
			goqu.I("l.borrowed_at"),
			goqu.I("l.returned"),
			goqu.I("l.returned_at"),
		)
}

// activeFirst lists unreturned loans first, newest borrowing first.
var activeFirst = []exp.OrderedExpression{
	goqu.I("l.returned").Asc(),
	goqu.I("l.borrowed_at").Desc(),
	goqu.I("l.id").Desc(),
}

// ------------------ Issuance ------------------

// IssueCart converts a patron's cart into loans. Each book is claimed on its
// own: a book that is no longer available is skipped and stays with nobody.
// The cart is emptied afterwards whatever was skipped. If a claim fails the
// remaining books are not attempted; the cart is still emptied and the loans
// already made are returned together with the error.
func (lm *LibraryManager) IssueCart(ctx context.Context, actor Actor, userID int64) ([]BorrowedBook, error) {
	if err := lm.requireStaff(actor); err != nil {
		return nil, err
	}
	target, err := lm.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	if target.Role.IsStaff() {
		return nil, newError(KindInvalidOperation, "staff accounts cannot borrow books")
	}

	loans := []BorrowedBook{}
	cart, err := lm.findCart(ctx, lm.db.db, userID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return loans, nil
	}

	var bookIDs []int64
	if err := sqlx.SelectContext(ctx, lm.db.db, &bookIDs,
		`SELECT book_id FROM cart_books WHERE cart_id=? ORDER BY book_id`, cart.ID); err != nil {
		return nil, internal("load cart books", err)
	}
	if len(bookIDs) == 0 {
		return loans, nil
	}

	var loanIDs []int64
	var issueErr error
	skipped := 0
	for _, bookID := range bookIDs {
		id, ok, err := lm.issueOne(ctx, userID, bookID)
		if err != nil {
			issueErr = err
			break
		}
		if !ok {
			skipped++
			lm.log.InfoContext(ctx, "skipped unavailable book", "user", userID, "book", bookID)
			continue
		}
		loanIDs = append(loanIDs, id)
	}

	// Committed loans must leave the cart even when the request was cancelled.
	cleanup := context.WithoutCancel(ctx)
	if _, err := lm.db.db.ExecContext(cleanup, `DELETE FROM cart_books WHERE cart_id=?`, cart.ID); err != nil {
		return nil, internal("clear cart", errors.Join(err, issueErr))
	}

	if len(loanIDs) > 0 {
		if err := lm.db.selectAll(cleanup, lm.db.db, &loans,
			loanSelect(lm.db.sq).Where(goqu.I("l.id").In(loanIDs)).Order(goqu.I("l.id").Asc())); err != nil {
			return nil, internal("load loans", errors.Join(err, issueErr))
		}
	}
	if issueErr != nil {
		lm.log.ErrorContext(ctx, "issuance interrupted",
			"actor", actor.UserID, "user", userID, "issued", len(loans), "skipped", skipped, "err", issueErr)
		return loans, issueErr
	}
	lm.log.InfoContext(ctx, "issued cart",
		"actor", actor.UserID, "user", userID, "issued", len(loans), "skipped", skipped)
	return loans, nil
}

// issueOne claims a single book for userID. ok is false when another issuance
// got there first or the book is no longer available.
func (lm *LibraryManager) issueOne(ctx context.Context, userID, bookID int64) (loanID int64, ok bool, err error) {
	err = lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.StmtxContext(ctx, lm.db.claimBookStmt).ExecContext(ctx, bookID)
		if err != nil {
			return internal("claim book", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		res, err = tx.StmtxContext(ctx, lm.db.addLoanStmt).ExecContext(ctx, userID, bookID, lm.now())
		if err != nil {
			if isUniqueViolation(err) {
				return errAlreadyOnLoan
			}
			return internal("record loan", err)
		}
		if loanID, err = res.LastInsertId(); err != nil {
			return internal("record loan", err)
		}
		ok = true
		return nil
	})
	if errors.Is(err, errAlreadyOnLoan) {
		return 0, false, nil
	}
	return loanID, ok, err
}

// errAlreadyOnLoan rolls back a claim that raced an existing active loan.
var errAlreadyOnLoan = errors.New("book already on loan")

// ------------------ Returns ------------------

// ReturnBook closes an active loan and makes the book available again.
// Returning a loan twice, or one that does not exist, is NotFound.
func (lm *LibraryManager) ReturnBook(ctx context.Context, actor Actor, loanID int64) (*BorrowedBook, error) {
	if err := lm.requireStaff(actor); err != nil {
		return nil, err
	}
	var loan *BorrowedBook
	err := lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE borrowed_books SET returned=1, returned_at=? WHERE id=? AND returned=0`, lm.now(), loanID)
		if err != nil {
			return internal("close loan", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return newError(KindNotFound, "no active loan %d", loanID)
		}
		if loan, err = lm.loan(ctx, tx, loanID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE books SET available=1 WHERE id=?`, loan.BookID); err != nil {
			return internal("release book", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	lm.log.InfoContext(ctx, "returned book", "actor", actor.UserID, "loan", loanID, "book", loan.BookID)
	return loan, nil
}

func (lm *LibraryManager) loan(ctx context.Context, q queryer, id int64) (*BorrowedBook, error) {
	var l BorrowedBook
	ok, err := lm.db.get(ctx, q, &l, loanSelect(lm.db.sq).Where(goqu.I("l.id").Eq(id)))
	if err != nil {
		return nil, internal("load loan", err)
	}
	if !ok {
		return nil, notFound("loan", id)
	}
	return &l, nil
}

// Loan returns one ledger entry for staff.
func (lm *LibraryManager) Loan(ctx context.Context, actor Actor, id int64) (*BorrowedBook, error) {
	if err := lm.requireStaff(actor); err != nil {
		return nil, err
	}
	return lm.loan(ctx, lm.db.db, id)
}

// ------------------ Ledger views ------------------

// MyLoans lists the actor's own borrowing history, active loans first.
func (lm *LibraryManager) MyLoans(ctx context.Context, actor Actor) ([]BorrowedBook, error) {
	if err := lm.requireAuth(actor); err != nil {
		return nil, err
	}
	return lm.userLoans(ctx, actor.UserID)
}

// UserLoans lists any user's borrowing history for staff.
func (lm *LibraryManager) UserLoans(ctx context.Context, actor Actor, userID int64) ([]BorrowedBook, error) {
	if err := lm.requireStaff(actor); err != nil {
		return nil, err
	}
	if _, err := lm.User(ctx, userID); err != nil {
		return nil, err
	}
	return lm.userLoans(ctx, userID)
}

func (lm *LibraryManager) userLoans(ctx context.Context, userID int64) ([]BorrowedBook, error) {
	out := []BorrowedBook{}
	ds := loanSelect(lm.db.sq).Where(goqu.I("l.user_id").Eq(userID)).Order(activeFirst...)
	if err := lm.db.selectAll(ctx, lm.db.db, &out, ds); err != nil {
		return nil, internal("list loans", err)
	}
	return out, nil
}

// ListLoans pages through the whole ledger, optionally only unreturned loans.
func (lm *LibraryManager) ListLoans(ctx context.Context, actor Actor, activeOnly bool, page Page) (Listing[BorrowedBook], error) {
	if err := lm.requireStaff(actor); err != nil {
		return Listing[BorrowedBook]{}, err
	}
	page = page.normalize()
	ds := loanSelect(lm.db.sq)
	if activeOnly {
		ds = ds.Where(goqu.I("l.returned").IsFalse())
	}
	total, err := lm.db.count(ctx, lm.db.db, ds)
	if err != nil {
		return Listing[BorrowedBook]{}, internal("count loans", err)
	}
	items := []BorrowedBook{}
	ds = ds.Order(activeFirst...).Limit(uint(page.PerPage)).Offset(page.offset())
	if err := lm.db.selectAll(ctx, lm.db.db, &items, ds); err != nil {
		return Listing[BorrowedBook]{}, internal("list loans", err)
	}
	return Listing[BorrowedBook]{Items: items, Total: total, Page: page.Number, PerPage: page.PerPage}, nil
}

// ListBorrowers lists users currently holding at least one book, ordered by name.
func (lm *LibraryManager) ListBorrowers(ctx context.Context, actor Actor) ([]Borrower, error) {
	if err := lm.requireStaff(actor); err != nil {
		return nil, err
	}
	out := []Borrower{}
	ds := lm.db.sq.From(goqu.T("borrowed_books").As("l")).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("l.user_id")))).
		Where(goqu.I("l.returned").IsFalse()).
		GroupBy(goqu.I("u.id"), goqu.I("u.full_name"), goqu.I("u.email")).
		Select(
			goqu.I("u.id").As("user_id"),
			goqu.I("u.full_name"),
			goqu.I("u.email"),
			goqu.COUNT(goqu.I("l.id")).As("active_loans"),
		).
		Order(goqu.I("u.full_name").Asc(), goqu.I("u.id").Asc())
	if err := lm.db.selectAll(ctx, lm.db.db, &out, ds); err != nil {
		return nil, internal("list borrowers", err)
	}
	return out, nil
}
