package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// AnonymousUser is the identity given to every caller when no verifier is
// configured.
const AnonymousUser = "anonymous"

// ErrUnauthenticated is returned when a request carries no usable identity.
var ErrUnauthenticated = errors.New("unauthenticated")

type identityKey struct{}

// WithUser returns a context carrying userID.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, identityKey{}, userID)
}

// UserFromContext returns the caller stored by the middleware.
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(identityKey{}).(string)
	return userID, ok && userID != ""
}

// Authenticator resolves the caller of a request.
type Authenticator struct {
	verifier TokenVerifier
}

// NewAuthenticator creates an authenticator. A nil verifier admits every
// request as AnonymousUser, which is meant for local development.
func NewAuthenticator(verifier TokenVerifier) *Authenticator {
	return &Authenticator{verifier: verifier}
}

// Enabled reports whether tokens are checked.
func (a *Authenticator) Enabled() bool {
	return a.verifier != nil
}

// Authenticate returns the user id for an Authorization header value.
func (a *Authenticator) Authenticate(header string) (string, error) {
	if a.verifier == nil {
		return AnonymousUser, nil
	}
	token, err := extractBearerToken(header)
	if err != nil {
		return "", err
	}
	userID, err := a.verifier.Verify(token)
	if err != nil {
		return "", err
	}
	return userID, nil
}

// Middleware rejects unauthenticated requests with 401 before the handler
// runs, so a streaming handler never writes a frame for them.
func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, err := a.Authenticate(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				msg := "invalid token"
				switch {
				case errors.Is(err, ErrUnauthenticated):
					msg = err.Error()
				case errors.Is(err, ErrExpiredToken):
					msg = "token expired"
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": msg})
			}
			req := c.Request()
			c.SetRequest(req.WithContext(WithUser(req.Context(), userID)))
			c.Set("userId", userID)
			return next(c)
		}
	}
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("%w: missing authorization header", ErrUnauthenticated)
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", fmt.Errorf("%w: invalid authorization header format", ErrUnauthenticated)
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrUnauthenticated)
	}
	return token, nil
}
