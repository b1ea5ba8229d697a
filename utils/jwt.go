package utils

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"mation/config"
)

// Claims is the subset of the identity provider's session token this
// service cares about. The subject is the provider's stable user id.
type Claims struct {
	Email     string `json:"email"`
	Firstname string `json:"given_name"`
	Lastname  string `json:"family_name"`
	jwt.RegisteredClaims
}

// ParseJWTToken validates a session token issued by the identity provider
// and returns its claims.
func ParseJWTToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(config.AppConfig.JWTSecret), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		if claims.Subject == "" {
			return nil, errors.New("token missing subject")
		}
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
