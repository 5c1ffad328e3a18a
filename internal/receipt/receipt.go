// Package receipt signs and verifies reward claim receipts as HS256 JWTs so
// a payout can be proven outside the service.
package receipt

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"questboard/internal/domain"
)

const issuer = "questboard"

type Claims struct {
	jwt.RegisteredClaims
	QuestID        string `json:"questId"`
	AdventurerName string `json:"adventurerName"`
	GoldReceived   int    `json:"goldReceived"`
	ItemReceived   string `json:"itemReceived,omitempty"`
}

// EnrollmentID is carried as the token subject.
func (c Claims) EnrollmentID() string { return c.Subject }

type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner returns nil when secret is blank; callers treat a nil Signer as
// receipts disabled. A zero ttl issues tokens that never expire.
func NewSigner(secret string, ttl time.Duration) *Signer {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *Signer) Sign(r domain.ClaimReceipt) (string, error) {
	if s == nil {
		return "", errors.New("receipt signing disabled")
	}
	now := s.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			Subject:  r.EnrollmentID,
			IssuedAt: jwt.NewNumericDate(now),
		},
		QuestID:        r.QuestID,
		AdventurerName: r.AdventurerName,
		GoldReceived:   r.GoldReceived,
		ItemReceived:   r.ItemReceived,
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses token and checks signature, issuer and expiry. Any failure is
// reported as invalid input.
func (s *Signer) Verify(token string) (Claims, error) {
	if s == nil {
		return Claims{}, domain.InvalidInputf("receipt verification is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, domain.InvalidInputf("receiptToken is required")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	claims := Claims{}
	parsed, err := parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return Claims{}, domain.InvalidInputf("invalid receipt: %v", err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return Claims{}, domain.InvalidInputf("invalid receipt")
	}
	return claims, nil
}
