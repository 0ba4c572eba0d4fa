package storage

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"time"
)

const (
	identifierAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	identifierRandLen  = 8
)

var alphabetSize = big.NewInt(int64(len(identifierAlphabet)))

// NewIdentifier returns "<unix seconds>_<8 random alphanumerics>". Two calls in
// the same second still differ with overwhelming probability.
func NewIdentifier() string {
	suffix := make([]byte, identifierRandLen)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken.
			panic(fmt.Sprintf("storage: read random: %v", err))
		}
		suffix[i] = identifierAlphabet[n.Int64()]
	}
	return strconv.FormatInt(time.Now().Unix(), 10) + "_" + string(suffix)
}

// PrimaryName is the blob name of an object's main file.
func PrimaryName(id, ext string) string {
	return id + "." + ext
}

// RelatedName is the blob name of the ordinal-th accepted companion file.
func RelatedName(id string, ordinal int, ext string) string {
	return fmt.Sprintf("%s_related_%d.%s", id, ordinal, ext)
}
