package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	operatorRole     = "operator"
	operatorTokenTTL = 365 * 24 * time.Hour
)

// OperatorAuth issues and validates operator API tokens
type OperatorAuth struct {
	secret []byte
	now    Clock
}

// NewOperatorAuth creates a new operator auth service
func NewOperatorAuth(secret string, now Clock) *OperatorAuth {
	if now == nil {
		now = time.Now
	}
	return &OperatorAuth{secret: []byte(secret), now: now}
}

// GenerateToken generates a JWT for an operator
func (a *OperatorAuth) GenerateToken(subject string) (string, error) {
	now := a.now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": operatorRole,
		"exp":  now.Add(operatorTokenTTL).Unix(),
		"iat":  now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken validates a JWT and returns the operator subject
func (a *OperatorAuth) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	if role, _ := claims["role"].(string); role != operatorRole {
		return "", fmt.Errorf("token is not an operator token")
	}

	subject, ok := claims["sub"].(string)
	if !ok || subject == "" {
		return "", fmt.Errorf("sub not found in token")
	}
	return subject, nil
}
