package web

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"

	"library-lending/library"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// envelope is the body of every API response.
type envelope struct {
	Code    int               `json:"code"`
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Kind    string            `json:"kind,omitempty"`
	Data    any               `json:"data,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func success(c *fiber.Ctx, message string, data any) error {
	return successWithCode(c, fiber.StatusOK, message, data)
}

func successWithCode(c *fiber.Ctx, code int, message string, data any) error {
	return c.Status(code).JSON(envelope{Code: code, Status: "success", Message: message, Data: data})
}

func failure(c *fiber.Ctx, code int, kind, message string, fields map[string]string) error {
	return c.Status(code).JSON(envelope{Code: code, Status: "error", Kind: kind, Message: message, Errors: fields})
}

// badRequest reports a malformed request before it reaches the library.
func badRequest(field, msg string) error {
	return &library.Error{
		Kind:    library.KindValidation,
		Message: field + ": " + msg,
		Fields:  map[string]string{field: msg},
	}
}

func paramID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id < 1 {
		return 0, badRequest(name, "must be a positive integer")
	}
	return id, nil
}

func queryID(c *fiber.Ctx, name string) (int64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, badRequest(name, "must be a positive integer")
	}
	return id, nil
}

func queryBool(c *fiber.Ctx, name string) (*bool, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, badRequest(name, "must be true or false")
	}
	return &v, nil
}

// pageOf reads ?page and ?per_page; the library clamps out-of-range values.
func pageOf(c *fiber.Ctx) library.Page {
	return library.Page{Number: c.QueryInt("page", 1), PerPage: c.QueryInt("per_page", 0)}
}

func parseBody(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}
	return nil
}
