// Package token 提供了用于验证 JSON Web Tokens (JWT) 的功能。
package token

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWTManager 负责验证调用方携带的 JWT。
// 本服务不签发用户 token（认证由外部系统负责），只做校验并取出操作者身份。
type JWTManager struct {
	secretKey []byte
}

// ActorClaims 定义了我们关心的 JWT 声明：操作者标识。
// ActorID 会被注入请求上下文，并随管道事件一路透传。
type ActorClaims struct {
	ActorID string `json:"actorId"`
	jwt.RegisteredClaims
}

// NewJWTManager 创建一个新的 JWTManager 实例。
func NewJWTManager(secret string) *JWTManager {
	return &JWTManager{secretKey: []byte(secret)}
}

// VerifyToken 验证给定的 token 字符串。
// 如果 token 有效，返回 ActorClaims；无效（签名不匹配或已过期）则返回错误。
func (m *JWTManager) VerifyToken(tokenString string) (*ActorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ActorClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("意外的签名方法: %v", t.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token 验证失败: %w", err)
	}

	claims, ok := token.Claims.(*ActorClaims)
	if !ok || !token.Valid {
		return nil, errors.New("无效的 token claims")
	}
	if claims.ActorID == "" {
		return nil, errors.New("token 中缺少操作者标识")
	}
	return claims, nil
}
