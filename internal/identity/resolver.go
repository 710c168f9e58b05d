package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/coaching-marketplace/internal/application"
)

// Resolver maps a bearer credential to its acting principal.
type Resolver interface {
	Resolve(ctx context.Context, bearer string) (application.Principal, error)
}

type serviceClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ServiceTokenResolver validates HS256 JWTs minted by the surrounding
// platform for service-to-service calls such as the sweep trigger.
type ServiceTokenResolver struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewServiceTokenResolver constructs a resolver over a shared secret.
// issuer, when non-empty, is required to match the token's iss claim.
func NewServiceTokenResolver(secret []byte, issuer string) *ServiceTokenResolver {
	return &ServiceTokenResolver{secret: secret, issuer: issuer, now: time.Now}
}

// Resolve validates the JWT and maps its sub and role claims to a
// principal.
func (r *ServiceTokenResolver) Resolve(ctx context.Context, bearer string) (application.Principal, error) {
	if r == nil || len(r.secret) == 0 {
		return application.Principal{}, fmt.Errorf("service token resolver not configured")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	claims := &serviceClaims{}
	_, err := jwt.ParseWithClaims(bearer, claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	}, opts...)
	if err != nil {
		return application.Principal{}, fmt.Errorf("%w: %v", ErrInvalidServiceToken, err)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return application.Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidServiceToken)
	}

	principal := application.Principal{UserID: subject}
	switch claims.Role {
	case "service":
		principal.IsService = true
	case "coach":
		principal.IsCoach = true
	case "client", "":
	default:
		return application.Principal{}, fmt.Errorf("%w: unknown role %q", ErrInvalidServiceToken, claims.Role)
	}
	return principal, nil
}

// MintServiceToken signs an HS256 service JWT. Exposed for tests and
// operator tooling; production tokens come from the platform.
func MintServiceToken(secret []byte, issuer, subject, role string, ttl time.Duration, now time.Time) (string, error) {
	claims := serviceClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ChainResolver tries each resolver in order. Credential mismatches move
// to the next resolver; expiry, revocation and infrastructure errors stop
// the chain.
type ChainResolver struct {
	resolvers []Resolver
}

// NewChainResolver combines resolvers, typically the session service
// first and the service token resolver second.
func NewChainResolver(resolvers ...Resolver) *ChainResolver {
	return &ChainResolver{resolvers: resolvers}
}

// Resolve implements Resolver.
func (c *ChainResolver) Resolve(ctx context.Context, bearer string) (application.Principal, error) {
	if c == nil || len(c.resolvers) == 0 {
		return application.Principal{}, fmt.Errorf("no resolvers configured")
	}

	lastErr := error(ErrInvalidCredentials)
	for _, resolver := range c.resolvers {
		if resolver == nil {
			continue
		}
		principal, err := resolver.Resolve(ctx, bearer)
		if err == nil {
			return principal, nil
		}
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrInvalidServiceToken) {
			lastErr = err
			continue
		}
		return application.Principal{}, err
	}
	return application.Principal{}, lastErr
}
