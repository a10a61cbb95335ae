package web

import (
	"github.com/gofiber/fiber/v2"

	"library-lending/library"
)

// ------------------ Catalog ------------------

func (s *Server) searchBooks(c *fiber.Ctx) error {
	available, err := queryBool(c, "available")
	if err != nil {
		return err
	}
	authorID, err := queryID(c, "author_id")
	if err != nil {
		return err
	}
	publisherID, err := queryID(c, "publisher_id")
	if err != nil {
		return err
	}
	res, err := s.lm.SearchBooks(c.UserContext(), library.BookFilter{
		Query:       c.Query("q"),
		Available:   available,
		AuthorID:    authorID,
		PublisherID: publisherID,
	}, pageOf(c))
	if err != nil {
		return err
	}
	return success(c, "ok", res)
}

func (s *Server) viewBook(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	b, err := s.lm.ViewBook(c.UserContext(), id)
	if err != nil {
		return err
	}
	return success(c, "ok", b)
}

// ------------------ Cart ------------------

func (s *Server) viewCart(c *fiber.Ctx) error {
	cart, err := s.lm.ViewCart(c.UserContext(), actorOf(c))
	if err != nil {
		return err
	}
	return success(c, "ok", cart)
}

func (s *Server) addToCart(c *fiber.Ctx) error {
	bookID, err := paramID(c, "bookID")
	if err != nil {
		return err
	}
	cart, err := s.lm.AddToCart(c.UserContext(), actorOf(c), bookID)
	if err != nil {
		return err
	}
	return success(c, "added to cart", cart)
}

func (s *Server) removeFromCart(c *fiber.Ctx) error {
	bookID, err := paramID(c, "bookID")
	if err != nil {
		return err
	}
	cart, err := s.lm.RemoveFromCart(c.UserContext(), actorOf(c), bookID)
	if err != nil {
		return err
	}
	return success(c, "removed from cart", cart)
}

func (s *Server) listCarts(c *fiber.Ctx) error {
	carts, err := s.lm.ListCarts(c.UserContext(), actorOf(c))
	if err != nil {
		return err
	}
	return success(c, "ok", carts)
}

func (s *Server) userCart(c *fiber.Ctx) error {
	userID, err := paramID(c, "userID")
	if err != nil {
		return err
	}
	cart, err := s.lm.UserCart(c.UserContext(), actorOf(c), userID)
	if err != nil {
		return err
	}
	return success(c, "ok", cart)
}

// ------------------ Circulation ------------------

func (s *Server) issueCart(c *fiber.Ctx) error {
	userID, err := paramID(c, "userID")
	if err != nil {
		return err
	}
	loans, err := s.lm.IssueCart(c.UserContext(), actorOf(c), userID)
	if err != nil {
		return err
	}
	return success(c, "cart issued", loans)
}

func (s *Server) returnBook(c *fiber.Ctx) error {
	loanID, err := paramID(c, "loanID")
	if err != nil {
		return err
	}
	loan, err := s.lm.ReturnBook(c.UserContext(), actorOf(c), loanID)
	if err != nil {
		return err
	}
	return success(c, "book returned", loan)
}

func (s *Server) loan(c *fiber.Ctx) error {
	loanID, err := paramID(c, "loanID")
	if err != nil {
		return err
	}
	loan, err := s.lm.Loan(c.UserContext(), actorOf(c), loanID)
	if err != nil {
		return err
	}
	return success(c, "ok", loan)
}

func (s *Server) listLoans(c *fiber.Ctx) error {
	active, err := queryBool(c, "active")
	if err != nil {
		return err
	}
	res, err := s.lm.ListLoans(c.UserContext(), actorOf(c), active != nil && *active, pageOf(c))
	if err != nil {
		return err
	}
	return success(c, "ok", res)
}

func (s *Server) myLoans(c *fiber.Ctx) error {
	loans, err := s.lm.MyLoans(c.UserContext(), actorOf(c))
	if err != nil {
		return err
	}
	return success(c, "ok", loans)
}

func (s *Server) userLoans(c *fiber.Ctx) error {
	userID, err := paramID(c, "userID")
	if err != nil {
		return err
	}
	loans, err := s.lm.UserLoans(c.UserContext(), actorOf(c), userID)
	if err != nil {
		return err
	}
	return success(c, "ok", loans)
}

func (s *Server) listBorrowers(c *fiber.Ctx) error {
	borrowers, err := s.lm.ListBorrowers(c.UserContext(), actorOf(c))
	if err != nil {
		return err
	}
	return success(c, "ok", borrowers)
}

// ------------------ Users ------------------

func (s *Server) listPatrons(c *fiber.Ctx) error {
	res, err := s.lm.ListPatrons(c.UserContext(), actorOf(c), c.Query("q"), pageOf(c))
	if err != nil {
		return err
	}
	return success(c, "ok", res)
}

func (s *Server) updateUser(c *fiber.Ctx) error {
	userID, err := paramID(c, "userID")
	if err != nil {
		return err
	}
	var in library.UserUpdateInput
	if err := parseBody(c, &in); err != nil {
		return err
	}
	u, err := s.lm.UpdateUser(c.UserContext(), actorOf(c), userID, in)
	if err != nil {
		return err
	}
	return success(c, "updated", u)
}

func (s *Server) deleteUser(c *fiber.Ctx) error {
	userID, err := paramID(c, "userID")
	if err != nil {
		return err
	}
	if err := s.lm.DeleteUser(c.UserContext(), actorOf(c), userID); err != nil {
		return err
	}
	return success(c, "deleted", nil)
}
