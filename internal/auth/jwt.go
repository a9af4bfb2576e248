package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dukepan/chatroom-gateway/internal/apperr"
)

const issuer = "chatroom-gateway"

type Claims struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTManager signs and verifies tokens with either a shared HMAC secret
// (HS256) or an RSA key pair (RS256). Verification only needs the secret or
// the public key; signing additionally needs the private key in RSA mode.
type JWTManager struct {
	secret     []byte
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
}

// NewHMACManager creates a manager for HS256 tokens.
func NewHMACManager(secret string) (*JWTManager, error) {
	if secret == "" {
		return nil, errors.New("empty JWT secret")
	}
	return &JWTManager{secret: []byte(secret)}, nil
}

// NewJWTManager creates a manager for RS256 tokens. privateKeyPEM may be
// empty when the process only verifies tokens issued elsewhere.
func NewJWTManager(privateKeyPEM, publicKeyPEM string) (*JWTManager, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM encoded public key")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSA public key: %w", err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not of type RSA")
	}

	jm := &JWTManager{publicKey: rsaPub}
	if privateKeyPEM == "" {
		return jm, nil
	}

	block, _ = pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM encoded private key")
	}

	pk, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSA private key: %w", err)
	}
	jm.privateKey = pk
	return jm, nil
}

// NewFromConfig picks RS256 when a public key is configured and HS256 otherwise.
func NewFromConfig(secret, privateKeyPEM, publicKeyPEM string) (*JWTManager, error) {
	if publicKeyPEM != "" {
		return NewJWTManager(privateKeyPEM, publicKeyPEM)
	}
	return NewHMACManager(secret)
}

// GenerateToken creates a new JWT token
func (jm *JWTManager) GenerateToken(userID int64, username string, expiresIn time.Duration) (string, error) {
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    issuer,
		},
	}

	if jm.secret != nil {
		return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jm.secret)
	}
	if jm.privateKey == nil {
		return "", errors.New("no private key configured for signing")
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(jm.privateKey)
}

// ValidateToken validates a JWT token and returns the claims
func (jm *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if jm.secret != nil {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return jm.secret, nil
		}
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jm.publicKey, nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

// Verify implements the authentication provider contract: it resolves a
// bearer token to the user it was issued for. Every failure is
// apperr.ErrUnauthenticated.
func (jm *JWTManager) Verify(token string) (int64, error) {
	if token == "" {
		return 0, fmt.Errorf("missing token: %w", apperr.ErrUnauthenticated)
	}
	claims, err := jm.ValidateToken(token)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", apperr.ErrUnauthenticated, err)
	}
	if claims.UserID <= 0 {
		return 0, fmt.Errorf("token without user: %w", apperr.ErrUnauthenticated)
	}
	return claims.UserID, nil
}

// ExtractTokenFromHeader extracts JWT from Authorization header
func ExtractTokenFromHeader(authHeader string) (string, error) {
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || token == "" {
		return "", fmt.Errorf("invalid authorization header: %w", apperr.ErrUnauthenticated)
	}
	return token, nil
}
