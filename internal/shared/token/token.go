package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// =============================================================================
// 报价链接令牌 — 供应商通过邮件中的链接访问询价单时携带
// =============================================================================

// QuoteClaims 报价链接令牌声明
type QuoteClaims struct {
	BRFQID     string `json:"brfq_id"`
	SupplierID string `json:"supplier_id"`
	jwt.RegisteredClaims
}

// QuoteTokenTTL 报价链接有效期
const QuoteTokenTTL = 14 * 24 * time.Hour

// IssueQuoteToken 签发报价链接令牌
func IssueQuoteToken(secret, brfqID, supplierID string) (string, error) {
	claims := QuoteClaims{
		BRFQID:     brfqID,
		SupplierID: supplierID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(QuoteTokenTTL)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("签发报价令牌失败: %w", err)
	}
	return signed, nil
}

// VerifyQuoteToken 校验报价链接令牌并返回声明
func VerifyQuoteToken(secret, tokenStr string) (*QuoteClaims, error) {
	claims := &QuoteClaims{}
	t, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("非预期的签名算法: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("解析报价令牌失败: %w", err)
	}
	if !t.Valid {
		return nil, fmt.Errorf("报价令牌无效")
	}
	return claims, nil
}
