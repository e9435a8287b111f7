package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type contextKey int

const identityKey contextKey = iota

// identityClaims — claims сессионного токена провайдера идентификации.
type identityClaims struct {
	Email      string `json:"email"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Picture    string `json:"picture"`
	jwt.RegisteredClaims
}

// Authenticator проверяет bearer-токены HS256 и определяет администраторов по email.
type Authenticator struct {
	secret []byte
	admins map[string]struct{}
}

// NewAuthenticator создаёт Authenticator. Пустой secret отклоняет любые токены.
func NewAuthenticator(secret string, adminEmails []string) *Authenticator {
	admins := make(map[string]struct{}, len(adminEmails))
	for _, email := range adminEmails {
		if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
			admins[email] = struct{}{}
		}
	}
	return &Authenticator{secret: []byte(secret), admins: admins}
}

// Parse проверяет подпись и срок действия токена и возвращает identity.
func (a *Authenticator) Parse(token string) (domain.Identity, error) {
	if len(a.secret) == 0 {
		return domain.Identity{}, fmt.Errorf("%w: authentication is not configured", domain.ErrUnauthorized)
	}

	claims := &identityClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return domain.Identity{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
	}

	return domain.Identity{
		UserID:    claims.Subject,
		Email:     claims.Email,
		FirstName: claims.GivenName,
		LastName:  claims.FamilyName,
		ImageURL:  claims.Picture,
	}, nil
}

// IsAdmin сообщает, входит ли email пользователя в список администраторов.
func (a *Authenticator) IsAdmin(identity domain.Identity) bool {
	_, ok := a.admins[strings.ToLower(strings.TrimSpace(identity.Email))]
	return ok && identity.Email != ""
}

// IssueToken подписывает токен для identity (локальная разработка и тесты).
func (a *Authenticator) IssueToken(identity domain.Identity, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = identity.UserID
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, identityClaims{
		Email:            identity.Email,
		GivenName:        identity.FirstName,
		FamilyName:       identity.LastName,
		Picture:          identity.ImageURL,
		RegisteredClaims: claims,
	})
	return token.SignedString(a.secret)
}

// identityFromContext возвращает identity, положенную authenticate.
func identityFromContext(ctx context.Context) (domain.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(domain.Identity)
	return identity, ok && identity.UserID != ""
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			respondError(w, r, s.logger, fmt.Errorf("%w: malformed authorization header", domain.ErrUnauthorized))
			return
		}
		identity, err := s.auth.Parse(strings.TrimSpace(token))
		if err != nil {
			s.logger.WithError(err).WithField("path", r.URL.Path).Debug("token rejected")
			respondError(w, r, s.logger, domain.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	})
}

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := identityFromContext(r.Context()); !ok {
			respondError(w, r, s.logger, domain.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := identityFromContext(r.Context())
		if !ok {
			respondError(w, r, s.logger, domain.ErrUnauthorized)
			return
		}
		if !s.auth.IsAdmin(identity) {
			respondError(w, r, s.logger, fmt.Errorf("%w: admin access required", domain.ErrForbidden))
			return
		}
		next.ServeHTTP(w, r)
	})
}
