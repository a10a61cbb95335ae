package library

import (
	"context"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
)

// ------------------ Entity tables ------------------

var authors = entity[Author]{
	name:   "author",
	table:  "authors",
	idCol:  "id",
	base:   personSelect("authors"),
	search: []string{"name"},
	named:  "name",
	order:  []exp.OrderedExpression{goqu.I("name").Asc(), goqu.I("id").Asc()},
	refs:   []reference{{table: "books", column: "author_id", what: "author has books in the catalog"}},
}

var translators = entity[Translator]{
	name:   "translator",
	table:  "translators",
	idCol:  "id",
	base:   personSelect("translators"),
	search: []string{"name"},
	named:  "name",
	order:  []exp.OrderedExpression{goqu.I("name").Asc(), goqu.I("id").Asc()},
	refs:   []reference{{table: "books", column: "translator_id", what: "translator has books in the catalog"}},
}

var publishers = entity[Publisher]{
	name:  "publisher",
	table: "publishers",
	idCol: "id",
	base: func(sq goqu.DialectWrapper) *goqu.SelectDataset {
		return sq.From("publishers").Select("id", "name")
	},
	search: []string{"name"},
	order:  []exp.OrderedExpression{goqu.I("name").Asc(), goqu.I("id").Asc()},
	refs:   []reference{{table: "books", column: "publisher_id", what: "publisher has books in the catalog"}},
	unique: "name",
	named:  "name",
}

var books = entity[Book]{
	name:   "book",
	table:  "books",
	idCol:  "b.id",
	base:   bookSelect,
	search: []string{"b.title", "a.name", "b.isbn", "b.key_words"},
	order:  []exp.OrderedExpression{goqu.I("b.title").Asc(), goqu.I("b.id").Asc()},
	refs: []reference{
		{table: "borrowed_books", column: "book_id", where: goqu.C("returned").IsFalse(), what: "book is on loan"},
		{table: "cart_books", column: "book_id", what: "book is in a cart"},
	},
	unique: "isbn",
	named:  "b.title",
}

func personSelect(table string) func(goqu.DialectWrapper) *goqu.SelectDataset {
	return func(sq goqu.DialectWrapper) *goqu.SelectDataset {
		return sq.From(table).Select("id", "name", "date_of_birth", "date_of_death")
	}
}

func bookSelect(sq goqu.DialectWrapper) *goqu.SelectDataset {
	return sq.From(goqu.T("books").As("b")).
		LeftJoin(goqu.T("authors").As("a"), goqu.On(goqu.I("a.id").Eq(goqu.I("b.author_id")))).
		LeftJoin(goqu.T("translators").As("t"), goqu.On(goqu.I("t.id").Eq(goqu.I("b.translator_id")))).
		LeftJoin(goqu.T("publishers").As("p"), goqu.On(goqu.I("p.id").Eq(goqu.I("b.publisher_id")))).
		Select(
			goqu.I("b.id"),
			goqu.I("b.title"),
			goqu.I("b.author_id"),
			goqu.I("a.name").As("author_name"),
			goqu.I("b.translator_id"),
			goqu.I("t.name").As("translator_name"),
			goqu.I("b.publisher_id"),
			goqu.I("p.name").As("publisher_name"),
			goqu.I("b.isbn"),
			goqu.I("b.year"),
			goqu.I("b.short_description"),
			goqu.I("b.key_words"),
			goqu.I("b.available"),
			goqu.I("b.times_of_issued"),
		)
}

// ------------------ Row builders ------------------

func (lm *LibraryManager) personRow(_ context.Context, _ queryer, in AuthorInput, _ int64) (goqu.Record, error) {
	birth, death, err := lifeDates(in, lm.now())
	if err != nil {
		return nil, err
	}
	return goqu.Record{
		"name":          in.Name,
		"date_of_birth": birth,
		"date_of_death": death,
	}, nil
}

func (lm *LibraryManager) publisherRow(_ context.Context, _ queryer, in PublisherInput, _ int64) (goqu.Record, error) {
	return goqu.Record{"name": in.Name}, nil
}

func cleanPerson(in *AuthorInput) {
	in.Name = strings.TrimSpace(in.Name)
	in.DateOfBirth = strings.TrimSpace(in.DateOfBirth)
	in.DateOfDeath = strings.TrimSpace(in.DateOfDeath)
}

func cleanPublisher(in *PublisherInput) {
	in.Name = strings.TrimSpace(in.Name)
}

func cleanBook(in *BookInput) {
	in.Title = strings.TrimSpace(in.Title)
	in.ISBN = cleanISBN(in.ISBN)
}

func (lm *LibraryManager) bookRow(ctx context.Context, q queryer, in BookInput, id int64) (goqu.Record, error) {
	if err := checkYear(in.Year, lm.now()); err != nil {
		return nil, err
	}
	if err := lm.checkRefs(ctx, q, in); err != nil {
		return nil, err
	}
	rec := goqu.Record{
		"title":             strings.TrimSpace(in.Title),
		"author_id":         in.AuthorID,
		"translator_id":     in.TranslatorID,
		"publisher_id":      in.PublisherID,
		"isbn":              nullString(in.ISBN),
		"year":              in.Year,
		"short_description": in.ShortDescription,
		"key_words":         in.KeyWords,
	}
	switch {
	case id == 0 && in.Available == nil:
		rec["available"] = lm.availableByDefault
	case in.Available != nil:
		if *in.Available && id != 0 {
			onLoan, err := lm.db.exists(ctx, q, lm.db.sq.From("borrowed_books").
				Where(goqu.C("book_id").Eq(id), goqu.C("returned").IsFalse()))
			if err != nil {
				return nil, internal("check active loan", err)
			}
			if onLoan {
				return nil, newError(KindConflict, "book %d is on loan and cannot be marked available", id)
			}
		}
		rec["available"] = *in.Available
	}
	return rec, nil
}

func (lm *LibraryManager) checkRefs(ctx context.Context, q queryer, in BookInput) error {
	refs := []struct {
		id    *int64
		table string
		field string
	}{
		{in.AuthorID, "authors", "author_id"},
		{in.TranslatorID, "translators", "translator_id"},
		{in.PublisherID, "publishers", "publisher_id"},
	}
	for _, r := range refs {
		if r.id == nil {
			continue
		}
		found, err := lm.db.exists(ctx, q, lm.db.sq.From(r.table).Where(goqu.C("id").Eq(*r.id)))
		if err != nil {
			return internal("check "+r.field, err)
		}
		if !found {
			return invalidField(r.field, "does not exist")
		}
	}
	return nil
}

// ------------------ Book queries ------------------

// SearchBooks lists books matching filter, ordered by title.
func (lm *LibraryManager) SearchBooks(ctx context.Context, filter BookFilter, page Page) (Listing[Book], error) {
	ds := books.matching(lm.db.sq, strings.TrimSpace(filter.Query))
	if filter.Available != nil {
		ds = ds.Where(goqu.I("b.available").Eq(*filter.Available))
	}
	if filter.AuthorID > 0 {
		ds = ds.Where(goqu.I("b.author_id").Eq(filter.AuthorID))
	}
	if filter.PublisherID > 0 {
		ds = ds.Where(goqu.I("b.publisher_id").Eq(filter.PublisherID))
	}
	return books.list(ctx, lm.db, ds, page)
}

// ViewBook returns a book for its detail page and counts the view in times_of_issued.
func (lm *LibraryManager) ViewBook(ctx context.Context, id int64) (*Book, error) {
	var b *Book
	err := lm.db.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := lm.db.exec(ctx, tx, lm.db.sq.Update("books").
			Set(goqu.Record{"times_of_issued": goqu.L("times_of_issued + 1")}).
			Where(goqu.C("id").Eq(id)).Prepared(true))
		if err != nil {
			return internal("count book view", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound("book", id)
		}
		b, err = books.get(ctx, lm.db, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}
