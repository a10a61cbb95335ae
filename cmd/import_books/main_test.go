package main

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"library-lending/library"
)

func newTestImporter(t *testing.T) (*importer, *library.LibraryManager) {
	t.Helper()
	mgr, err := library.NewLibraryManager(filepath.Join(t.TempDir(), "import.db"), library.WithPasswordCost(bcrypt.MinCost))
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	u, err := mgr.CreateStaff(context.Background(), library.RegisterInput{
		Email: "importer@example.com", FullName: "Importer", DateOfBirth: "1980-01-01", Password: "correct horse",
	}, library.RoleStaff)
	require.NoError(t, err)
	return newImporter(mgr, library.ActorFor(u)), mgr
}

func TestImportCSV(t *testing.T) {
	imp, mgr := newTestImporter(t)
	ctx := context.Background()

	csvData := `title,author,publisher,isbn,year,key_words
1984,George Orwell,Secker & Warburg,978-0-306-40615-7,1949,dystopia
Animal Farm,George Orwell,Secker & Warburg,,1945,"allegory, farm"
The Art of War,Sun Tzu,,,500,strategy
Broken Year,Nobody,,,soon,
`
	var out bytes.Buffer
	res, err := imp.run(ctx, strings.NewReader(csvData), &out)
	require.NoError(t, err)
	assert.Equal(t, 3, res.imported)
	assert.Equal(t, 1, res.failed)
	assert.Contains(t, out.String(), "ERROR")

	authors, err := mgr.Authors.List(ctx, "", library.Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, authors.Total, "George Orwell is created once")

	publishers, err := mgr.Publishers.List(ctx, "", library.Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, publishers.Total)

	books, err := mgr.SearchBooks(ctx, library.BookFilter{Query: "Orwell"}, library.Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, books.Total)
}

func TestImportReusesExistingEntities(t *testing.T) {
	imp, mgr := newTestImporter(t)
	ctx := context.Background()

	existing, err := mgr.Authors.Create(ctx, imp.actor, library.AuthorInput{Name: "Alexandre Dumas"})
	require.NoError(t, err)

	_, err = imp.run(ctx, strings.NewReader("title,author,year\nThe Three Musketeers,Alexandre Dumas,1844\n"), &bytes.Buffer{})
	require.NoError(t, err)

	books, err := mgr.SearchBooks(ctx, library.BookFilter{AuthorID: existing.ID}, library.Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, books.Total)
}

func TestImportMatchesExactNameAmongMany(t *testing.T) {
	imp, mgr := newTestImporter(t)
	ctx := context.Background()

	for i := 0; i < 105; i++ {
		_, err := mgr.Authors.Create(ctx, imp.actor, library.AuthorInput{Name: fmt.Sprintf("Zola %03d", i)})
		require.NoError(t, err)
	}
	zola, err := mgr.Authors.Create(ctx, imp.actor, library.AuthorInput{Name: "Zola"})
	require.NoError(t, err)

	_, err = imp.run(ctx, strings.NewReader("title,author,year\nGerminal,Zola,1885\n"), &bytes.Buffer{})
	require.NoError(t, err)

	authors, err := mgr.Authors.List(ctx, "Zola", library.Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 106, authors.Total, "no duplicate author is created")

	books, err := mgr.SearchBooks(ctx, library.BookFilter{AuthorID: zola.ID}, library.Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, books.Total)
}

func TestImportRequiresHeader(t *testing.T) {
	imp, _ := newTestImporter(t)
	_, err := imp.run(context.Background(), strings.NewReader("name,author\nX,Y\n"), &bytes.Buffer{})
	assert.ErrorContains(t, err, "title")
}
