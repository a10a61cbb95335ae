package library

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cartIDs(c *Cart) []int64 {
	ids := make([]int64, 0, len(c.Books))
	for _, b := range c.Books {
		ids = append(ids, b.ID)
	}
	return ids
}

func TestCartRoundTrip(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t)
	staff := mustStaff(t, mgr, "librarian")
	patron := mustPatron(t, mgr, "pat")
	kept := mustBook(t, mgr, staff, "Kept", nil)
	tried := mustBook(t, mgr, staff, "Tried", nil)

	before, err := mgr.AddToCart(ctx, patron, kept.ID)
	require.NoError(t, err)

	_, err = mgr.AddToCart(ctx, patron, tried.ID)
	require.NoError(t, err)
	after, err := mgr.RemoveFromCart(ctx, patron, tried.ID)
	require.NoError(t, err)
	assert.Equal(t, cartIDs(before), cartIDs(after))
	assert.Equal(t, before.ID, after.ID, "same cart")

	// Removing again is harmless.
	after, err = mgr.RemoveFromCart(ctx, patron, tried.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{kept.ID}, cartIDs(after))
}

func TestCartAddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t)
	staff := mustStaff(t, mgr, "librarian")
	patron := mustPatron(t, mgr, "pat")
	b := mustBook(t, mgr, staff, "Twice", nil)

	for i := 0; i < 2; i++ {
		c, err := mgr.AddToCart(ctx, patron, b.ID)
		require.NoError(t, err)
		assert.Equal(t, []int64{b.ID}, cartIDs(c))
	}
}

func TestCartRejectsUnavailableAndUnknownBooks(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t)
	staff := mustStaff(t, mgr, "librarian")
	patron := mustPatron(t, mgr, "pat")

	no := false
	shelved, err := mgr.Books.Create(ctx, staff, BookInput{Title: "Shelved", Year: 1999, Available: &no})
	require.NoError(t, err)

	_, err = mgr.AddToCart(ctx, patron, shelved.ID)
	requireKind(t, err, KindUnavailable)

	_, err = mgr.AddToCart(ctx, patron, 9999)
	requireKind(t, err, KindNotFound)

	c, err := mgr.ViewCart(ctx, patron)
	require.NoError(t, err)
	assert.Empty(t, c.Books)
}

func TestCartOrderedByAuthorThenTitle(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t)
	staff := mustStaff(t, mgr, "librarian")
	patron := mustPatron(t, mgr, "pat")

	zola := mustAuthor(t, mgr, staff, "Zola")
	austen := mustAuthor(t, mgr, staff, "Austen")
	nana := mustBook(t, mgr, staff, "Nana", &zola.ID)
	persuasion := mustBook(t, mgr, staff, "Persuasion", &austen.ID)
	emma := mustBook(t, mgr, staff, "Emma", &austen.ID)
	anon := mustBook(t, mgr, staff, "Beowulf", nil)

	for _, b := range []*Book{nana, persuasion, emma, anon} {
		_, err := mgr.AddToCart(ctx, patron, b.ID)
		require.NoError(t, err)
	}
	c, err := mgr.ViewCart(ctx, patron)
	require.NoError(t, err)
	assert.Equal(t, []int64{anon.ID, emma.ID, persuasion.ID, nana.ID}, cartIDs(c))
}

func TestStaffCannotOwnCart(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t)
	staff := mustStaff(t, mgr, "librarian")

	_, err := mgr.GetOrCreateCart(ctx, staff)
	requireKind(t, err, KindInvalidOperation)

	var n int
	require.NoError(t, mgr.db.db.Get(&n, `SELECT COUNT(*) FROM carts`))
	assert.Zero(t, n)
}

func TestCartCreatedOnce(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t)
	patron := mustPatron(t, mgr, "pat")

	first, err := mgr.GetOrCreateCart(ctx, patron)
	require.NoError(t, err)
	second, err := mgr.GetOrCreateCart(ctx, patron)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, patron.UserID, first.UserID)
}

func TestListCarts(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t)
	staff := mustStaff(t, mgr, "librarian")
	zoe := mustPatron(t, mgr, "zoe")
	adam := mustPatron(t, mgr, "adam")
	idle := mustPatron(t, mgr, "idle")
	b1 := mustBook(t, mgr, staff, "One", nil)
	b2 := mustBook(t, mgr, staff, "Two", nil)

	_, err := mgr.AddToCart(ctx, zoe, b1.ID)
	require.NoError(t, err)
	_, err = mgr.AddToCart(ctx, adam, b1.ID)
	require.NoError(t, err)
	_, err = mgr.AddToCart(ctx, adam, b2.ID)
	require.NoError(t, err)
	_, err = mgr.GetOrCreateCart(ctx, idle)
	require.NoError(t, err)

	carts, err := mgr.ListCarts(ctx, staff)
	require.NoError(t, err)
	require.Len(t, carts, 2, "empty carts are not listed")
	assert.Equal(t, "adam", carts[0].User.FullName)
	assert.Len(t, carts[0].Books, 2)
	assert.Equal(t, "zoe", carts[1].User.FullName)

	c, err := mgr.UserCart(ctx, staff, adam.UserID)
	require.NoError(t, err)
	assert.Len(t, c.Books, 2)

	c, err = mgr.UserCart(ctx, staff, staff.UserID)
	require.NoError(t, err)
	assert.Empty(t, c.Books)
}
