// Package middleware provides authentication, request context, rate limiting
// and tracing middleware for the HTTP and websocket surface.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nosmobile/internal/models"
	"nosmobile/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	tokenIssuer   = "nosmobile-api"
	tokenAudience = "nosmobile-client"
	tokenTTL      = 7 * 24 * time.Hour

	// WSTicketTTL is how long a websocket ticket stays redeemable.
	WSTicketTTL    = 30 * time.Second
	wsTicketPrefix = "ws_ticket:"

	// UserIDLocal is the fiber local holding the authenticated user id.
	UserIDLocal = "userID"
)

// ErrTicketsUnavailable is returned when tickets are requested without Redis.
var ErrTicketsUnavailable = errors.New("websocket tickets need redis")

// Auth issues and verifies bearer tokens and one-time websocket tickets.
type Auth struct {
	secret []byte
	rdb    *redis.Client
}

// NewAuth creates an Auth. rdb may be nil, which disables tickets.
func NewAuth(secret string, rdb *redis.Client) *Auth {
	return &Auth{secret: []byte(secret), rdb: rdb}
}

// IssueToken signs an HS256 token whose subject is userID.
func (a *Auth) IssueToken(userID, username string) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("JWT secret not configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":      userID,
		"username": username,
		"iss":      tokenIssuer,
		"aud":      tokenAudience,
		"exp":      now.Add(tokenTTL).Unix(),
		"iat":      now.Unix(),
		"nbf":      now.Unix(),
		"jti":      uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ParseToken validates tokenString and returns its subject.
func (a *Auth) ParseToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
	)
	if err != nil || !token.Valid {
		return "", models.NewUnauthorizedError("Invalid or expired token")
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", models.NewUnauthorizedError("Invalid token structure - missing subject")
	}
	return sub, nil
}

// IssueTicket stores a single-use websocket ticket for userID.
func (a *Auth) IssueTicket(ctx context.Context, userID string) (string, error) {
	if a.rdb == nil {
		return "", ErrTicketsUnavailable
	}
	ticket := uuid.NewString()
	if err := a.rdb.Set(ctx, wsTicketPrefix+ticket, userID, WSTicketTTL).Err(); err != nil {
		return "", err
	}
	return ticket, nil
}

// RedeemTicket consumes a ticket and returns its user id.
func (a *Auth) RedeemTicket(ctx context.Context, ticket string) (string, bool) {
	if a.rdb == nil || ticket == "" {
		return "", false
	}
	userID, err := a.rdb.GetDel(ctx, wsTicketPrefix+ticket).Result()
	if err != nil || userID == "" {
		return "", false
	}
	return userID, true
}

// Required rejects requests without a valid credential. It accepts, in order,
// a websocket ticket (?ticket=), a bearer header, and a ?token= query
// parameter for websocket clients that cannot set headers.
func (a *Auth) Required() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if ticket := c.Query("ticket"); ticket != "" {
			userID, ok := a.RedeemTicket(c.UserContext(), ticket)
			if !ok {
				return models.RespondWithError(c, models.NewUnauthorizedError("Invalid or expired websocket ticket"))
			}
			return a.authenticated(c, userID)
		}

		tokenString := ""
		if authHeader := c.Get("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return models.RespondWithError(c, models.NewUnauthorizedError("Invalid authorization header format"))
			}
			tokenString = parts[1]
		}
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			return models.RespondWithError(c, models.NewUnauthorizedError("Authorization required"))
		}

		userID, err := a.ParseToken(tokenString)
		if err != nil {
			return models.RespondWithError(c, err)
		}
		return a.authenticated(c, userID)
	}
}

func (a *Auth) authenticated(c *fiber.Ctx, userID string) error {
	c.Locals(UserIDLocal, userID)
	c.SetUserContext(observability.WithUserID(c.UserContext(), userID))
	return c.Next()
}

// UserID returns the authenticated user id, or "" outside Required.
func UserID(c *fiber.Ctx) string {
	if v, ok := c.Locals(UserIDLocal).(string); ok {
		return v
	}
	return ""
}
