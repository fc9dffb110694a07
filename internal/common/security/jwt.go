package security

import (
	"errors"
	"time"
	"workbridge/internal/platform/config"

	"github.com/go-chi/jwtauth/v5"
	"github.com/golang-jwt/jwt/v5"
)

// TokenAuth is shared by the router's Verifier and the Authenticator
// middleware. Tokens are issued by the external account service; we only
// verify them and read the actor claims.
var TokenAuth *jwtauth.JWTAuth

func InitJWT() {
	TokenAuth = jwtauth.New("HS256", config.AppConfig.JWTKey, nil)
}

// GenerateToken exists for local development and tests; production tokens
// come from the account service.
func GenerateToken(actorID, role string) (string, error) {
	claims := jwt.MapClaims{
		"actor_id": actorID,
		"role":     role,
		"exp":      time.Now().Add(config.AppConfig.JWTExp).Unix(),
		"iat":      time.Now().Unix(),
	}
	_, tokenString, err := TokenAuth.Encode(claims)
	return tokenString, err
}

func GetActorIDFromClaims(claims jwt.MapClaims) (string, error) {
	id, ok := claims["actor_id"].(string)
	if !ok {
		return "", errors.New("actor_id claim is missing or not a string")
	}
	return id, nil
}

func GetRoleFromClaims(claims jwt.MapClaims) (string, error) {
	role, ok := claims["role"].(string)
	if !ok {
		return "", errors.New("role claim is missing or not a string")
	}
	return role, nil
}
