package web

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"library-lending/library"
)

const testSecret = "0123456789abcdef-test-secret"

type harness struct {
	t      *testing.T
	lm     *library.LibraryManager
	srv    *Server
	tokens *Tokens
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	lm, err := library.NewLibraryManager(filepath.Join(t.TempDir(), "web.db"),
		library.WithPasswordCost(bcrypt.MinCost))
	require.NoError(t, err)
	t.Cleanup(func() { lm.Close() })

	tokens := NewTokens(testSecret, time.Hour)
	srv := New(lm, tokens, Options{LoginRateLimit: 100})
	return &harness{t: t, lm: lm, srv: srv, tokens: tokens}
}

// response is the decoded envelope with Data left raw for the caller.
type response struct {
	Code    int               `json:"code"`
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Kind    string            `json:"kind"`
	Data    rawJSON           `json:"data"`
	Errors  map[string]string `json:"errors"`
}

type rawJSON []byte

func (r *rawJSON) UnmarshalJSON(b []byte) error {
	*r = append((*r)[:0], b...)
	return nil
}

func (h *harness) do(method, path, token string, body any) (int, response) {
	h.t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(h.t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.srv.App().Test(req, 5000)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	var out response
	require.NoError(h.t, json.Unmarshal(raw, &out), "body: %s", raw)
	return resp.StatusCode, out
}

func (h *harness) decode(r response, dst any) {
	h.t.Helper()
	require.NoError(h.t, json.Unmarshal(r.Data, dst))
}

func (h *harness) register(name string) (int64, string) {
	h.t.Helper()
	email := name + "@example.com"
	status, res := h.do(http.MethodPost, "/api/auth/register", "", library.RegisterInput{
		Email: email, FullName: name, DateOfBirth: "1992-03-04", Password: "correct horse",
	})
	require.Equal(h.t, http.StatusCreated, status, res.Message)
	var u library.User
	h.decode(res, &u)
	return u.ID, h.login(email)
}

func (h *harness) staff(name string) (int64, string) {
	h.t.Helper()
	email := name + "@example.com"
	u, err := h.lm.CreateStaff(context.Background(), library.RegisterInput{
		Email: email, FullName: name, DateOfBirth: "1980-01-01", Password: "correct horse",
	}, library.RoleStaff)
	require.NoError(h.t, err)
	return u.ID, h.login(email)
}

func (h *harness) login(email string) string {
	h.t.Helper()
	status, res := h.do(http.MethodPost, "/api/auth/login", "", loginRequest{Email: email, Password: "correct horse"})
	require.Equal(h.t, http.StatusOK, status, res.Message)
	var tok tokenResponse
	h.decode(res, &tok)
	require.NotEmpty(h.t, tok.AccessToken)
	return tok.AccessToken
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	status, res := h.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "success", res.Status)
}

func TestIssueAndReturnOverHTTP(t *testing.T) {
	h := newHarness(t)
	_, staffToken := h.staff("librarian")
	patronID, patronToken := h.register("pat")

	status, res := h.do(http.MethodPost, "/api/authors", staffToken, library.AuthorInput{Name: "A. Smith"})
	require.Equal(t, http.StatusCreated, status, res.Message)
	var author library.Author
	h.decode(res, &author)

	status, res = h.do(http.MethodPost, "/api/books", staffToken, library.BookInput{Title: "X", AuthorID: &author.ID, Year: 1999})
	require.Equal(t, http.StatusCreated, status, res.Message)
	var book library.Book
	h.decode(res, &book)
	assert.True(t, book.Available)

	status, res = h.do(http.MethodPost, fmt.Sprintf("/api/cart/books/%d", book.ID), patronToken, nil)
	require.Equal(t, http.StatusOK, status, res.Message)
	var cart library.Cart
	h.decode(res, &cart)
	require.Len(t, cart.Books, 1)

	status, res = h.do(http.MethodGet, "/api/staff/carts", staffToken, nil)
	require.Equal(t, http.StatusOK, status)
	var carts []library.CartSummary
	h.decode(res, &carts)
	require.Len(t, carts, 1)
	assert.Equal(t, patronID, carts[0].User.ID)

	status, res = h.do(http.MethodPost, fmt.Sprintf("/api/staff/carts/%d/issue", patronID), staffToken, nil)
	require.Equal(t, http.StatusOK, status, res.Message)
	var loans []library.BorrowedBook
	h.decode(res, &loans)
	require.Len(t, loans, 1)
	assert.Equal(t, book.ID, loans[0].BookID)

	status, res = h.do(http.MethodGet, "/api/me/loans", patronToken, nil)
	require.Equal(t, http.StatusOK, status)
	var mine []library.BorrowedBook
	h.decode(res, &mine)
	require.Len(t, mine, 1)

	status, res = h.do(http.MethodGet, "/api/cart", patronToken, nil)
	require.Equal(t, http.StatusOK, status)
	h.decode(res, &cart)
	assert.Empty(t, cart.Books)

	status, res = h.do(http.MethodPost, fmt.Sprintf("/api/staff/loans/%d/return", loans[0].ID), staffToken, nil)
	require.Equal(t, http.StatusOK, status, res.Message)

	status, res = h.do(http.MethodPost, fmt.Sprintf("/api/staff/loans/%d/return", loans[0].ID), staffToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, string(library.KindNotFound), res.Kind)
}

func TestErrorKindsOverHTTP(t *testing.T) {
	h := newHarness(t)
	_, staffToken := h.staff("librarian")
	_, patronToken := h.register("pat")

	no := false
	status, res := h.do(http.MethodPost, "/api/books", staffToken, library.BookInput{Title: "Shelved", Year: 2000, Available: &no})
	require.Equal(t, http.StatusCreated, status, res.Message)
	var shelved library.Book
	h.decode(res, &shelved)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
		kind   library.Kind
	}{
		{"anonymous cart", http.MethodGet, "/api/cart", "", nil, http.StatusUnauthorized, library.KindUnauthenticated},
		{"bad token", http.MethodGet, "/api/cart", "not-a-token", nil, http.StatusUnauthorized, library.KindUnauthenticated},
		{"patron issues", http.MethodPost, "/api/staff/carts/1/issue", patronToken, nil, http.StatusForbidden, library.KindForbidden},
		{"patron returns", http.MethodPost, "/api/staff/loans/1/return", patronToken, nil, http.StatusForbidden, library.KindForbidden},
		{"unavailable book", http.MethodPost, fmt.Sprintf("/api/cart/books/%d", shelved.ID), patronToken, nil, http.StatusConflict, library.KindUnavailable},
		{"staff cart", http.MethodGet, "/api/cart", staffToken, nil, http.StatusBadRequest, library.KindInvalidOperation},
		{"unknown book", http.MethodGet, "/api/books/9999", "", nil, http.StatusNotFound, library.KindNotFound},
		{"bad id", http.MethodGet, "/api/books/abc", "", nil, http.StatusUnprocessableEntity, library.KindValidation},
		{"future death", http.MethodPost, "/api/authors", staffToken,
			library.AuthorInput{Name: "Seer", DateOfDeath: "2999-01-01"}, http.StatusUnprocessableEntity, library.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, res := h.do(tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.status, status, res.Message)
			assert.Equal(t, string(tt.kind), res.Kind)
			assert.Equal(t, "error", res.Status)
		})
	}
}

func TestValidationFieldsInEnvelope(t *testing.T) {
	h := newHarness(t)
	status, res := h.do(http.MethodPost, "/api/auth/register", "", library.RegisterInput{Email: "nope"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, res.Errors, "email")
	assert.Contains(t, res.Errors, "password")
}

func TestAuthorDeleteConflictOverHTTP(t *testing.T) {
	h := newHarness(t)
	_, staffToken := h.staff("librarian")

	_, res := h.do(http.MethodPost, "/api/authors", staffToken, library.AuthorInput{Name: "Busy"})
	var author library.Author
	h.decode(res, &author)
	status, res := h.do(http.MethodPost, "/api/books", staffToken, library.BookInput{Title: "Busy Book", AuthorID: &author.ID, Year: 2001})
	require.Equal(t, http.StatusCreated, status, res.Message)

	status, res = h.do(http.MethodDelete, fmt.Sprintf("/api/authors/%d", author.ID), staffToken, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(library.KindConflict), res.Kind)
}

func TestBookListingAndViews(t *testing.T) {
	h := newHarness(t)
	_, staffToken := h.staff("librarian")
	for _, title := range []string{"Alpha", "Beta", "Gamma"} {
		status, res := h.do(http.MethodPost, "/api/books", staffToken, library.BookInput{Title: title, Year: 2010})
		require.Equal(t, http.StatusCreated, status, res.Message)
	}

	status, res := h.do(http.MethodGet, "/api/books?q=a&per_page=2&page=1", "", nil)
	require.Equal(t, http.StatusOK, status)
	var page library.Listing[library.Book]
	h.decode(res, &page)
	assert.EqualValues(t, 3, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Alpha", page.Items[0].Title)

	status, res = h.do(http.MethodGet, fmt.Sprintf("/api/books/%d", page.Items[0].ID), "", nil)
	require.Equal(t, http.StatusOK, status)
	var b library.Book
	h.decode(res, &b)
	assert.EqualValues(t, 1, b.TimesOfIssued)

	status, _ = h.do(http.MethodGet, "/api/books?available=maybe", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestDeactivatedTokenRejected(t *testing.T) {
	h := newHarness(t)
	_, staffToken := h.staff("librarian")
	patronID, patronToken := h.register("pat")

	no := false
	status, res := h.do(http.MethodPatch, fmt.Sprintf("/api/staff/users/%d", patronID), staffToken, library.UserUpdateInput{Active: &no})
	require.Equal(t, http.StatusOK, status, res.Message)

	status, res = h.do(http.MethodGet, "/api/me", patronToken, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, string(library.KindUnauthenticated), res.Kind)
}

func TestLoginRateLimit(t *testing.T) {
	lm, err := library.NewLibraryManager(filepath.Join(t.TempDir(), "rl.db"), library.WithPasswordCost(bcrypt.MinCost))
	require.NoError(t, err)
	t.Cleanup(func() { lm.Close() })
	h := &harness{t: t, lm: lm, tokens: NewTokens(testSecret, time.Hour)}
	h.srv = New(lm, h.tokens, Options{LoginRateLimit: 2})

	for i := 0; i < 2; i++ {
		status, _ := h.do(http.MethodPost, "/api/auth/login", "", loginRequest{Email: "x@example.com", Password: "whatever1"})
		assert.Equal(t, http.StatusUnauthorized, status)
	}
	status, res := h.do(http.MethodPost, "/api/auth/login", "", loginRequest{Email: "x@example.com", Password: "whatever1"})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limited", res.Kind)
}
