package utils

import (
	"crypto/rand"
	"math/big"
)

const (
	letterBytes  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	numberBytes  = "0123456789"
	alphanumeric = letterBytes + numberBytes

	// Referral code alphabet excludes confusing characters (0, O, I, L, 1).
	referralCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
)

func GenerateRandomString(length int) string {
	return generateRandom(length, alphanumeric)
}

// GenerateReferralCodeBody produces the random portion of a referral code;
// callers prepend the product prefix.
func GenerateReferralCodeBody() string {
	return generateRandom(ReferralCodeLength, referralCodeAlphabet)
}

func generateRandom(length int, charset string) string {
	result := make([]byte, length)
	charsetLength := big.NewInt(int64(len(charset)))

	for i := range result {
		num, _ := rand.Int(rand.Reader, charsetLength)
		result[i] = charset[num.Int64()]
	}

	return string(result)
}

func SecureRandomInt(max int) int {
	n, _ := rand.Int(rand.Reader, big.NewInt(int64(max)))
	return int(n.Int64())
}
