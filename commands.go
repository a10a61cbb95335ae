package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"library-lending/library"
)

func (a *app) createStaffCmd() *cobra.Command {
	var in library.RegisterInput
	var role string
	cmd := &cobra.Command{
		Use:   "create-staff",
		Short: "Create a staff or admin account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := a.openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			password, err := readPassword("Password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			confirm, err := readPassword("Confirm password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			if password != confirm {
				return errors.New("passwords do not match")
			}
			in.Password = password

			u, err := mgr.CreateStaff(cmd.Context(), in, library.Role(role))
			if err != nil {
				return err
			}
			fmt.Printf("Created %s account %s (ID: %d)\n", u.Role, u.Email, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Email, "email", "", "account e-mail")
	cmd.Flags().StringVar(&in.FullName, "name", "", "full name")
	cmd.Flags().StringVar(&in.DateOfBirth, "dob", "", "date of birth (YYYY-MM-DD)")
	cmd.Flags().StringVar(&role, "role", string(library.RoleStaff), "staff or admin")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("dob")
	return cmd
}

func (a *app) resetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password <user-id>",
		Short: "Set a new password for any account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID("user ID", args[0])
			if err != nil {
				return err
			}
			mgr, err := a.openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			u, err := mgr.User(cmd.Context(), userID)
			if err != nil {
				return err
			}
			password, err := readPassword(fmt.Sprintf("New password for %s: ", u.Email))
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			if err := mgr.ResetPassword(cmd.Context(), userID, password); err != nil {
				return err
			}
			fmt.Printf("Password reset for %s\n", u.Email)
			return nil
		},
	}
}

func (a *app) listBooksCmd() *cobra.Command {
	var availableOnly bool
	var page, perPage int
	cmd := &cobra.Command{
		Use:   "list-books [query]",
		Short: "List or search the catalog",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			filter := library.BookFilter{Query: strings.Join(args, " ")}
			if availableOnly {
				filter.Available = &availableOnly
			}
			res, err := mgr.SearchBooks(cmd.Context(), filter, library.Page{Number: page, PerPage: perPage})
			if err != nil {
				return err
			}
			if len(res.Items) == 0 {
				fmt.Println("No books found.")
				return nil
			}

			fmt.Printf("%-5s %-30s %-25s %-20s %-6s %-10s %s\n", "ID", "Title", "Author", "Publisher", "Year", "Available", "Issued")
			fmt.Println(strings.Repeat("-", 110))
			for _, b := range res.Items {
				availStr := "Yes"
				if !b.Available {
					availStr = "No"
				}
				fmt.Printf("%-5d %-30s %-25s %-20s %-6d %-10s %d\n",
					b.ID,
					truncateString(b.Title, 30),
					truncateString(deref(b.AuthorName), 25),
					truncateString(deref(b.PublisherName), 20),
					b.Year,
					availStr,
					b.TimesOfIssued)
			}
			fmt.Printf("Page %d, %d of %d books\n", res.Page, len(res.Items), res.Total)
			return nil
		},
	}
	cmd.Flags().BoolVar(&availableOnly, "available", false, "only books that can be borrowed")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&perPage, "per-page", 20, "books per page")
	return cmd
}

func (a *app) listCartsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list-carts",
		Short: "Show every patron cart awaiting issuance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := a.openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			actor, err := a.authenticateStaff(cmd.Context(), mgr)
			if err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}
			carts, err := mgr.ListCarts(cmd.Context(), actor)
			if err != nil {
				return err
			}
			if len(carts) == 0 {
				fmt.Println("No pending carts.")
				return nil
			}
			for _, c := range carts {
				fmt.Printf("%s <%s> (ID: %d)\n", c.User.FullName, c.User.Email, c.User.ID)
				for _, b := range c.Books {
					fmt.Printf("    %-5d %-30s %s\n", b.ID, truncateString(b.Title, 30), deref(b.AuthorName))
				}
			}
			return nil
		},
	}
	a.staffFlag(cmd)
	return cmd
}

func (a *app) issueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue <user-id>",
		Short: "Issue every available book in a patron's cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID("user ID", args[0])
			if err != nil {
				return err
			}
			mgr, err := a.openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			actor, err := a.authenticateStaff(cmd.Context(), mgr)
			if err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}
			loans, err := mgr.IssueCart(cmd.Context(), actor, userID)
			if err != nil {
				return err
			}
			if len(loans) == 0 {
				fmt.Println("Nothing issued.")
				return nil
			}
			for _, l := range loans {
				fmt.Printf("Issued '%s' (loan %d)\n", l.BookTitle, l.ID)
			}
			return nil
		},
	}
	a.staffFlag(cmd)
	return cmd
}

func (a *app) returnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "return <loan-id>",
		Short: "Record the return of a borrowed book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loanID, err := parseID("loan ID", args[0])
			if err != nil {
				return err
			}
			mgr, err := a.openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			actor, err := a.authenticateStaff(cmd.Context(), mgr)
			if err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}
			loan, err := mgr.ReturnBook(cmd.Context(), actor, loanID)
			if err != nil {
				return fmt.Errorf("error returning book: %w", err)
			}
			fmt.Printf("Book '%s' returned; it is now available for checkout\n", loan.BookTitle)
			return nil
		},
	}
	a.staffFlag(cmd)
	return cmd
}

func (a *app) borrowersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "borrowers",
		Short: "List patrons currently holding books",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := a.openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			actor, err := a.authenticateStaff(cmd.Context(), mgr)
			if err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}
			borrowers, err := mgr.ListBorrowers(cmd.Context(), actor)
			if err != nil {
				return err
			}
			if len(borrowers) == 0 {
				fmt.Println("No books are on loan.")
				return nil
			}
			fmt.Printf("%-5s %-30s %-30s %s\n", "ID", "Name", "E-mail", "Books")
			fmt.Println(strings.Repeat("-", 75))
			for _, b := range borrowers {
				fmt.Printf("%-5d %-30s %-30s %d\n", b.UserID, truncateString(b.FullName, 30), truncateString(b.Email, 30), b.ActiveLoans)
			}
			return nil
		},
	}
	a.staffFlag(cmd)
	return cmd
}

func parseID(what, s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid %s: %s", what, s)
	}
	return id, nil
}
