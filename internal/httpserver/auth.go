package httpserver

import (
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/crowdfund/pkg/crowdfund"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	contextKeyPrincipal = "auth_principal"
	bearerPrefix        = "Bearer "
)

// principalMiddleware authenticates the caller from a signed bearer token and
// threads the resulting principal through the request context. The principal
// is always explicit; it is never inferred from transport details.
func principalMiddleware(signingKey []byte, issuer string) gin.HandlerFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing bearer token"))
			return
		}
		claims := &jwt.RegisteredClaims{}
		_, err := parser.ParseWithClaims(strings.TrimPrefix(header, bearerPrefix), claims, func(token *jwt.Token) (any, error) {
			return signingKey, nil
		})
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid bearer token"))
			return
		}
		principal, err := crowdfund.NewPrincipal(claims.Subject)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "token subject missing"))
			return
		}
		ctx.Set(contextKeyPrincipal, principal)
		ctx.Next()
	}
}

func callerPrincipal(ctx *gin.Context) (crowdfund.Principal, bool) {
	value, ok := ctx.Get(contextKeyPrincipal)
	if !ok {
		return crowdfund.Principal{}, false
	}
	principal, ok := value.(crowdfund.Principal)
	return principal, ok
}
