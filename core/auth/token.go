package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken token 缺失、签名错误或已过期
var ErrInvalidToken = errors.New("invalid token")

const issuer = "musicsquare"

// Claims 会话 token 载荷，Subject 为用户 id
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken 签发 HS256 token
func IssueToken(secret string, userID int64, username string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("签发token失败: 未配置密钥")
	}
	now := time.Now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("签发token失败: %w", err)
	}
	return signed, nil
}

// ParseToken 校验 token 并返回用户 id
func ParseToken(secret, token string) (int64, *Claims, error) {
	if token == "" || secret == "" {
		return 0, nil, ErrInvalidToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, nil, ErrInvalidToken
	}
	return userID, claims, nil
}
