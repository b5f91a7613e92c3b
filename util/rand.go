package util

import (
	"crypto/rand"
	"math/big"
)

const tokenChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ1234567890"

// GetToken returns a random alphanumeric access token.
func GetToken(length int) string {
	token := make([]byte, length)
	max := big.NewInt(int64(len(tokenChars)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err.Error())
		}
		token[i] = tokenChars[n.Int64()]
	}
	return string(token)
}
