package pkg

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// TokenHashCost is the bcrypt cost for admin token hashes. The hash is
// checked on every admin request.
const TokenHashCost = bcrypt.DefaultCost

// HashToken returns the bcrypt hash of token. A zero cost means TokenHashCost.
func HashToken(token string, cost int) (string, error) {
	if cost == 0 {
		cost = TokenHashCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return BytesToString(hash), nil
}

func CheckTokenHash(token, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

// TokenHashCostOf returns the cost a hash was generated with.
func TokenHashCostOf(hash string) (int, error) {
	return bcrypt.Cost([]byte(hash))
}
