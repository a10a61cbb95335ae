package library

import (
	"context"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
)

// reference is a live use of an entity that blocks its deletion.
type reference struct {
	table  string
	column string
	// where narrows which referencing rows count; nil means all of them.
	where exp.Expression
	what  string
}

// entity describes how one catalog table maps onto T.
type entity[T any] struct {
	name   string
	table  string
	idCol  string
	base   func(sq goqu.DialectWrapper) *goqu.SelectDataset
	search []string
	order  []exp.OrderedExpression
	refs   []reference
	// unique names the column whose UNIQUE constraint surfaces as a validation error.
	unique string
	// named is the column FindByName compares against.
	named string
}

func (e entity[T]) get(ctx context.Context, d *Database, q queryer, id int64) (*T, error) {
	var v T
	ok, err := d.get(ctx, q, &v, e.base(d.sq).Where(goqu.I(e.idCol).Eq(id)))
	if err != nil {
		return nil, internal("get "+e.name, err)
	}
	if !ok {
		return nil, notFound(e.name, id)
	}
	return &v, nil
}

func (e entity[T]) list(ctx context.Context, d *Database, ds *goqu.SelectDataset, page Page) (Listing[T], error) {
	page = page.normalize()
	total, err := d.count(ctx, d.db, ds)
	if err != nil {
		return Listing[T]{}, internal("count "+e.table, err)
	}
	items := []T{}
	ds = ds.Order(e.order...).Limit(uint(page.PerPage)).Offset(page.offset())
	if err := d.selectAll(ctx, d.db, &items, ds); err != nil {
		return Listing[T]{}, internal("list "+e.table, err)
	}
	return Listing[T]{Items: items, Total: total, Page: page.Number, PerPage: page.PerPage}, nil
}

func (e entity[T]) matching(sq goqu.DialectWrapper, query string) *goqu.SelectDataset {
	ds := e.base(sq)
	if query == "" || len(e.search) == 0 {
		return ds
	}
	pattern := "%" + likeEscaper.Replace(query) + "%"
	ors := make([]exp.Expression, 0, len(e.search))
	for _, col := range e.search {
		ors = append(ors, goqu.L(`? LIKE ? ESCAPE '\'`, goqu.I(col), pattern))
	}
	return ds.Where(goqu.Or(ors...))
}

// likeEscaper makes user text match literally inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (e entity[T]) insert(ctx context.Context, d *Database, q queryer, rec goqu.Record) (int64, error) {
	res, err := d.exec(ctx, q, d.sq.Insert(e.table).Rows(rec).Prepared(true))
	if err != nil {
		return 0, e.writeError("create", err)
	}
	return res.LastInsertId()
}

func (e entity[T]) update(ctx context.Context, d *Database, q queryer, id int64, rec goqu.Record) error {
	res, err := d.exec(ctx, q, d.sq.Update(e.table).Set(rec).Where(goqu.C("id").Eq(id)).Prepared(true))
	if err != nil {
		return e.writeError("update", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(e.name, id)
	}
	return nil
}

// inUse returns the first live reference to id, or "" when there is none.
func (e entity[T]) inUse(ctx context.Context, d *Database, q queryer, id int64) (string, error) {
	for _, ref := range e.refs {
		ds := d.sq.From(ref.table).Where(goqu.C(ref.column).Eq(id))
		if ref.where != nil {
			ds = ds.Where(ref.where)
		}
		found, err := d.exists(ctx, q, ds)
		if err != nil {
			return "", err
		}
		if found {
			return ref.what, nil
		}
	}
	return "", nil
}

func (e entity[T]) delete(ctx context.Context, d *Database, id int64) error {
	return d.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := e.get(ctx, d, tx, id); err != nil {
			return err
		}
		what, err := e.inUse(ctx, d, tx, id)
		if err != nil {
			return internal("check "+e.name+" references", err)
		}
		if what != "" {
			return newError(KindConflict, "%s %d cannot be deleted: %s", e.name, id, what)
		}
		if _, err := d.exec(ctx, tx, d.sq.Delete(e.table).Where(goqu.C("id").Eq(id)).Prepared(true)); err != nil {
			return internal("delete "+e.name, err)
		}
		return nil
	})
}

func (e entity[T]) writeError(op string, err error) error {
	if e.unique != "" && isUniqueViolation(err) {
		return invalidField(e.unique, fmt.Sprintf("a %s with this %s already exists", e.name, e.unique))
	}
	return internal(op+" "+e.name, err)
}

// Collection is the staff-managed CRUD surface for one catalog entity.
// Reads are public; writes require a staff actor.
type Collection[T any, In any] struct {
	m *LibraryManager
	e entity[T]
	// clean normalizes input before tag validation; may be nil.
	clean func(in *In)
	// row validates input and builds the column values; id is 0 on create.
	row func(ctx context.Context, q queryer, in In, id int64) (goqu.Record, error)
}

func (c *Collection[T, In]) check(in *In) error {
	if c.clean != nil {
		c.clean(in)
	}
	return checkStruct(in)
}

// Get returns one entity.
func (c *Collection[T, In]) Get(ctx context.Context, id int64) (*T, error) {
	return c.e.get(ctx, c.m.db, c.m.db.db, id)
}

// List returns a page of entities whose searchable columns contain query.
func (c *Collection[T, In]) List(ctx context.Context, query string, page Page) (Listing[T], error) {
	return c.e.list(ctx, c.m.db, c.e.matching(c.m.db.sq, query), page)
}

// FindByName returns the first entity whose name is exactly name.
func (c *Collection[T, In]) FindByName(ctx context.Context, name string) (*T, error) {
	if c.e.named == "" {
		return nil, newError(KindInvalidOperation, "%s cannot be looked up by name", c.e.name)
	}
	var v T
	ds := c.e.base(c.m.db.sq).Where(goqu.I(c.e.named).Eq(name)).Order(goqu.I(c.e.idCol).Asc()).Limit(1)
	ok, err := c.m.db.get(ctx, c.m.db.db, &v, ds)
	if err != nil {
		return nil, internal("find "+c.e.name, err)
	}
	if !ok {
		return nil, newError(KindNotFound, "no %s named %q", c.e.name, name)
	}
	return &v, nil
}

// Create validates in and inserts a new entity.
func (c *Collection[T, In]) Create(ctx context.Context, actor Actor, in In) (*T, error) {
	if err := c.m.requireStaff(actor); err != nil {
		return nil, err
	}
	if err := c.check(&in); err != nil {
		return nil, err
	}
	var id int64
	err := c.m.db.withTx(ctx, func(tx *sqlx.Tx) error {
		rec, err := c.row(ctx, tx, in, 0)
		if err != nil {
			return err
		}
		id, err = c.e.insert(ctx, c.m.db, tx, rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.m.log.InfoContext(ctx, "created "+c.e.name, "actor", actor.UserID, "id", id)
	return c.Get(ctx, id)
}

// Update validates in and replaces the stored entity.
func (c *Collection[T, In]) Update(ctx context.Context, actor Actor, id int64, in In) (*T, error) {
	if err := c.m.requireStaff(actor); err != nil {
		return nil, err
	}
	if err := c.check(&in); err != nil {
		return nil, err
	}
	err := c.m.db.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := c.e.get(ctx, c.m.db, tx, id); err != nil {
			return err
		}
		rec, err := c.row(ctx, tx, in, id)
		if err != nil {
			return err
		}
		return c.e.update(ctx, c.m.db, tx, id, rec)
	})
	if err != nil {
		return nil, err
	}
	c.m.log.InfoContext(ctx, "updated "+c.e.name, "actor", actor.UserID, "id", id)
	return c.Get(ctx, id)
}

// Delete removes the entity unless something still references it.
func (c *Collection[T, In]) Delete(ctx context.Context, actor Actor, id int64) error {
	if err := c.m.requireStaff(actor); err != nil {
		return err
	}
	if err := c.e.delete(ctx, c.m.db, id); err != nil {
		return err
	}
	c.m.log.InfoContext(ctx, "deleted "+c.e.name, "actor", actor.UserID, "id", id)
	return nil
}
