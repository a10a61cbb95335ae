// Command import_books loads a CSV catalog into the library database.
//
// The file needs a header row naming at least "title" and "year"; the optional
// columns are author, translator, publisher, isbn, key_words and description.
// Authors, translators and publishers are matched by exact name and created
// when missing.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/term"

	"library-lending/config"
	"library-lending/library"
)

func main() {
	file := flag.String("file", "books.csv", "CSV file to import")
	as := flag.String("as", "", "e-mail of the staff account performing the import")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	log := cfg.StderrLogger()

	manager, err := library.NewLibraryManager(cfg.DBPath,
		library.WithLogger(log),
		library.WithBooksAvailableByDefault(cfg.BooksAvailableByDefault))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer manager.Close()

	ctx := context.Background()
	fmt.Print("Password: ")
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading password: %v\n", err)
		os.Exit(1)
	}
	u, err := manager.Authenticate(ctx, *as, strings.TrimSpace(string(pw)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Authentication failed: %v\n", err)
		os.Exit(1)
	}

	f, err := os.Open(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening %s: %v\n", *file, err)
		os.Exit(1)
	}
	defer f.Close()

	fmt.Printf("Importing books from %s...\n", *file)
	imp := newImporter(manager, library.ActorFor(u))
	res, err := imp.run(ctx, f, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nImport complete!\n")
	fmt.Printf("Successfully imported: %d books\n", res.imported)
	fmt.Printf("Errors: %d books\n", res.failed)
}

type result struct {
	imported int
	failed   int
}

// importer creates books and resolves people and publishers by name, caching
// ids so a catalog with many books per author stays cheap.
type importer struct {
	mgr   *library.LibraryManager
	actor library.Actor

	authors     map[string]int64
	translators map[string]int64
	publishers  map[string]int64
}

func newImporter(mgr *library.LibraryManager, actor library.Actor) *importer {
	return &importer{
		mgr:         mgr,
		actor:       actor,
		authors:     map[string]int64{},
		translators: map[string]int64{},
		publishers:  map[string]int64{},
	}
}

func (imp *importer) run(ctx context.Context, r io.Reader, out io.Writer) (result, error) {
	var res result
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return res, fmt.Errorf("read header: %w", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"title", "year"} {
		if _, ok := cols[required]; !ok {
			return res, fmt.Errorf("header is missing column %q", required)
		}
	}
	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("line %d: %w", line, err)
		}

		title := field(rec, "title")
		fmt.Fprintf(out, "Importing: %s... ", title)
		if err := imp.importRow(ctx, field, rec); err != nil {
			fmt.Fprintf(out, "ERROR: %v\n", err)
			res.failed++
			continue
		}
		fmt.Fprintln(out, "OK")
		res.imported++
	}
	return res, nil
}

func (imp *importer) importRow(ctx context.Context, field func([]string, string) string, rec []string) error {
	year, err := strconv.Atoi(field(rec, "year"))
	if err != nil {
		return fmt.Errorf("year %q is not a number", field(rec, "year"))
	}
	in := library.BookInput{
		Title:            field(rec, "title"),
		ISBN:             field(rec, "isbn"),
		Year:             year,
		KeyWords:         field(rec, "key_words"),
		ShortDescription: field(rec, "description"),
	}
	if in.AuthorID, err = findOrCreate(ctx, imp.mgr.Authors, imp.actor, imp.authors, field(rec, "author"), personInput, authorKey); err != nil {
		return err
	}
	if in.TranslatorID, err = findOrCreate(ctx, imp.mgr.Translators, imp.actor, imp.translators, field(rec, "translator"), personInput, translatorKey); err != nil {
		return err
	}
	if in.PublisherID, err = findOrCreate(ctx, imp.mgr.Publishers, imp.actor, imp.publishers, field(rec, "publisher"), publisherInput, publisherKey); err != nil {
		return err
	}
	_, err = imp.mgr.Books.Create(ctx, imp.actor, in)
	return err
}

func authorKey(a *library.Author) int64         { return a.ID }
func translatorKey(t *library.Translator) int64 { return t.ID }
func publisherKey(p *library.Publisher) int64   { return p.ID }

func personInput(name string) library.AuthorInput       { return library.AuthorInput{Name: name} }
func publisherInput(name string) library.PublisherInput { return library.PublisherInput{Name: name} }

// findOrCreate resolves name to an id in col, creating the entity when no
// exact match exists. An empty name yields nil.
func findOrCreate[T, In any](
	ctx context.Context,
	col *library.Collection[T, In],
	actor library.Actor,
	cache map[string]int64,
	name string,
	input func(string) In,
	key func(*T) int64,
) (*int64, error) {
	if name == "" {
		return nil, nil
	}
	if id, ok := cache[name]; ok {
		return &id, nil
	}
	found, err := col.FindByName(ctx, name)
	if err == nil {
		id := key(found)
		cache[name] = id
		return &id, nil
	}
	if library.KindOf(err) != library.KindNotFound {
		return nil, err
	}
	v, err := col.Create(ctx, actor, input(name))
	if err != nil {
		return nil, err
	}
	id := key(v)
	cache[name] = id
	return &id, nil
}
