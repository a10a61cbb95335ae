package web

import (
	"github.com/gofiber/fiber/v2"

	"library-lending/library"
)

func (s *Server) routes(credentialLimit fiber.Handler) {
	s.app.Get("/health", s.health)

	api := s.app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/register", credentialLimit, s.register)
	auth.Post("/login", credentialLimit, s.login)

	api.Use(s.authenticate)

	api.Get("/me", s.me)
	api.Get("/me/loans", s.myLoans)

	mountCollection(api.Group("/authors"), s.lm.Authors, nil, nil)
	mountCollection(api.Group("/translators"), s.lm.Translators, nil, nil)
	mountCollection(api.Group("/publishers"), s.lm.Publishers, nil, nil)
	mountCollection(api.Group("/books"), s.lm.Books, s.searchBooks, s.viewBook)

	cart := api.Group("/cart")
	cart.Get("/", s.viewCart)
	cart.Post("/books/:bookID", s.addToCart)
	cart.Delete("/books/:bookID", s.removeFromCart)

	staff := api.Group("/staff")
	staff.Get("/carts", s.listCarts)
	staff.Get("/carts/:userID", s.userCart)
	staff.Post("/carts/:userID/issue", s.issueCart)
	staff.Get("/loans", s.listLoans)
	staff.Get("/loans/:loanID", s.loan)
	staff.Post("/loans/:loanID/return", s.returnBook)
	staff.Get("/borrowers", s.listBorrowers)
	staff.Get("/users", s.listPatrons)
	staff.Patch("/users/:userID", s.updateUser)
	staff.Delete("/users/:userID", s.deleteUser)
	staff.Get("/users/:userID/loans", s.userLoans)
}

func (s *Server) health(c *fiber.Ctx) error {
	if err := s.lm.Ping(c.UserContext()); err != nil {
		return failure(c, fiber.StatusServiceUnavailable, "unavailable", "database unreachable", nil)
	}
	return success(c, "ok", nil)
}

// mountCollection registers the CRUD routes of one catalog entity. list and
// get replace the generic handlers when non-nil.
func mountCollection[T, In any](r fiber.Router, col *library.Collection[T, In], list, get fiber.Handler) {
	if list == nil {
		list = func(c *fiber.Ctx) error {
			res, err := col.List(c.UserContext(), c.Query("q"), pageOf(c))
			if err != nil {
				return err
			}
			return success(c, "ok", res)
		}
	}
	if get == nil {
		get = func(c *fiber.Ctx) error {
			id, err := paramID(c, "id")
			if err != nil {
				return err
			}
			v, err := col.Get(c.UserContext(), id)
			if err != nil {
				return err
			}
			return success(c, "ok", v)
		}
	}

	r.Get("/", list)
	r.Get("/:id", get)
	r.Post("/", func(c *fiber.Ctx) error {
		var in In
		if err := parseBody(c, &in); err != nil {
			return err
		}
		v, err := col.Create(c.UserContext(), actorOf(c), in)
		if err != nil {
			return err
		}
		return successWithCode(c, fiber.StatusCreated, "created", v)
	})
	r.Put("/:id", func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return err
		}
		var in In
		if err := parseBody(c, &in); err != nil {
			return err
		}
		v, err := col.Update(c.UserContext(), actorOf(c), id, in)
		if err != nil {
			return err
		}
		return success(c, "updated", v)
	})
	r.Delete("/:id", func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return err
		}
		if err := col.Delete(c.UserContext(), actorOf(c), id); err != nil {
			return err
		}
		return success(c, "deleted", nil)
	})
}
