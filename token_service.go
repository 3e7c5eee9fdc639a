package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenPair carries both halves of a session grant
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	logger     Logger
}

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg TokenConfig, logger Logger) TokenService {
	if logger == nil {
		logger = defLogger{}
	}
	return &TokenServiceImpl{
		accessKey:  []byte(cfg.GetAccessSigningKey()),
		refreshKey: []byte(cfg.GetRefreshSigningKey()),
		accessTTL:  cfg.GetAccessTokenTTL(),
		refreshTTL: cfg.GetRefreshTokenTTL(),
		issuer:     cfg.GetIssuer(),
		logger:     logger,
	}
}

// IssuePair signs a fresh access and refresh token for the identity
func (ts *TokenServiceImpl) IssuePair(identity Identity) (TokenPair, error) {
	access, err := ts.SignAccess(identity)
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := ts.SignRefresh(identity)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// SignAccess creates a short lived API token
func (ts *TokenServiceImpl) SignAccess(identity Identity) (string, error) {
	return ts.sign(identity, TokenUseAccess, ts.accessKey, ts.accessTTL)
}

// SignRefresh creates a long lived rotation token
func (ts *TokenServiceImpl) SignRefresh(identity Identity) (string, error) {
	return ts.sign(identity, TokenUseRefresh, ts.refreshKey, ts.refreshTTL)
}

func (ts *TokenServiceImpl) sign(identity Identity, use string, key []byte, ttl time.Duration) (string, error) {
	if identity == nil {
		return "", errors.New("identity is required", errors.CategoryBadInput)
	}

	now := time.Now()
	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   identity.ID(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UID:       identity.ID(),
		UserEmail: identity.Email(),
		UserRole:  identity.Role(),
		TokenUse:  use,
	}

	ensureTokenID(&claims.RegisteredClaims)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(key)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// VerifyAccess parses and validates an access token
func (ts *TokenServiceImpl) VerifyAccess(tokenString string) (AuthClaims, error) {
	return ts.verify(tokenString, TokenUseAccess, ts.accessKey)
}

// VerifyRefresh parses and validates a refresh token
func (ts *TokenServiceImpl) VerifyRefresh(tokenString string) (AuthClaims, error) {
	return ts.verify(tokenString, TokenUseRefresh, ts.refreshKey)
}

func (ts *TokenServiceImpl) verify(tokenString, use string, key []byte) (AuthClaims, error) {
	parserOptions := make([]jwt.ParserOption, 0, 1)
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("TokenService verify encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).WithTextCode(ErrTokenMalformed.TextCode)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		ts.logger.Error("TokenService verify could not decode or validate claims")
		return nil, ErrTokenMalformed
	}

	// a refresh token presented on the access path, or the reverse
	if claims.TokenUse != use {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
}
