package web

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"library-lending/library"
)

const actorKey = "actor"

// Tokens issues and verifies HS256 access tokens. The subject is the user id.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens returns an issuer signing with secret.
func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

type accessClaims struct {
	Role library.Role `json:"role"`
	jwt.RegisteredClaims
}

// Issue signs a token for u and reports when it expires.
func (t *Tokens) Issue(u *library.User) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	claims := accessClaims{
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature and expiry and returns the user id.
func (t *Tokens) Verify(token string) (int64, error) {
	var claims accessClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now), jwt.WithExpirationRequired())
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("token subject is not a user id")
	}
	return id, nil
}

var errBadToken = &library.Error{Kind: library.KindUnauthenticated, Message: "invalid or expired token"}

// authenticate resolves the bearer token, when present, into the request actor.
// Requests without a token continue as the anonymous actor; the library decides
// which operations need one.
func (s *Server) authenticate(c *fiber.Ctx) error {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if header == "" {
		return c.Next()
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return errBadToken
	}
	userID, err := s.tokens.Verify(strings.TrimSpace(token))
	if err != nil {
		s.log.DebugContext(c.UserContext(), "rejected token", "err", err)
		return errBadToken
	}
	u, err := s.lm.User(c.UserContext(), userID)
	if err != nil {
		if library.KindOf(err) == library.KindNotFound {
			return errBadToken
		}
		return err
	}
	if !u.Active {
		return &library.Error{Kind: library.KindUnauthenticated, Message: "account is deactivated"}
	}
	c.Locals(actorKey, library.ActorFor(u))
	return c.Next()
}

func actorOf(c *fiber.Ctx) library.Actor {
	a, _ := c.Locals(actorKey).(library.Actor)
	return a
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	ExpiresAt   time.Time     `json:"expires_at"`
	User        *library.User `json:"user"`
}

func (s *Server) register(c *fiber.Ctx) error {
	var in library.RegisterInput
	if err := parseBody(c, &in); err != nil {
		return err
	}
	u, err := s.lm.Register(c.UserContext(), in)
	if err != nil {
		return err
	}
	return successWithCode(c, fiber.StatusCreated, "registered", u)
}

func (s *Server) login(c *fiber.Ctx) error {
	var in loginRequest
	if err := parseBody(c, &in); err != nil {
		return err
	}
	u, err := s.lm.Authenticate(c.UserContext(), in.Email, in.Password)
	if err != nil {
		return err
	}
	token, exp, err := s.tokens.Issue(u)
	if err != nil {
		return err
	}
	s.log.InfoContext(c.UserContext(), "login", "user", u.ID)
	return success(c, "logged in", tokenResponse{AccessToken: token, TokenType: "Bearer", ExpiresAt: exp, User: u})
}

func (s *Server) me(c *fiber.Ctx) error {
	a := actorOf(c)
	if !a.Authenticated() {
		return &library.Error{Kind: library.KindUnauthenticated, Message: "authentication required"}
	}
	u, err := s.lm.User(c.UserContext(), a.UserID)
	if err != nil {
		return err
	}
	return success(c, "ok", u)
}
