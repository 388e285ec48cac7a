package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const tokenTTL = 15 * time.Minute

// Service exchanges the configured operator key for short-lived tokens.
// There is no user table, the single credential lives in config as a bcrypt
// hash.
type Service struct {
	secret   []byte
	operator string
	keyHash  []byte
}

type Claims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

func NewService(secret, operator, keyHash string) *Service {
	return &Service{
		secret:   []byte(secret),
		operator: operator,
		keyHash:  []byte(keyHash),
	}
}

// IssueToken checks the operator key against the configured hash and signs a
// fresh token.
func (s *Service) IssueToken(key string) (TokenResponse, error) {
	if len(s.keyHash) == 0 {
		return TokenResponse{}, errors.New("no operator key configured")
	}
	if err := bcrypt.CompareHashAndPassword(s.keyHash, []byte(key)); err != nil {
		return TokenResponse{}, errors.New("invalid operator key")
	}

	token, err := signTokenFn(s, s.operator, tokenTTL)
	if err != nil {
		return TokenResponse{}, err
	}

	return TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(tokenTTL.Seconds()),
	}, nil
}

func (s *Service) ValidateToken(token string) (string, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return "", err
	}
	return claims.Operator, nil
}

// HashKey produces the bcrypt hash the config stores for the operator key.
func HashKey(key string) (string, error) {
	hash, err := hashPasswordFn([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

var (
	signTokenFn       = (*Service).signToken
	hashPasswordFn    = bcrypt.GenerateFromPassword
	parseWithClaimsFn = jwt.ParseWithClaims
)

func (s *Service) signToken(operator string, ttl time.Duration) (string, error) {
	claims := Claims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Service) parseToken(token string) (*Claims, error) {
	parsed, err := parseWithClaimsFn(token, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}
