package services

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/yashrajoria/reservation-service/models"
)

// CartHash is a stable digest of the cart contents. Lines for the same
// product and variant are merged, empty lines dropped, and the result sorted,
// so item order in the request does not matter.
func CartHash(items []models.CartItem) string {
	type key struct{ product, variant string }
	merged := make(map[key]int, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		merged[key{strings.TrimSpace(it.ProductID), strings.TrimSpace(it.VariantID)}] += it.Quantity
	}

	keys := make([]key, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].product != keys[j].product {
			return keys[i].product < keys[j].product
		}
		return keys[i].variant < keys[j].variant
	})

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k.product)
		b.WriteByte('|')
		b.WriteString(k.variant)
		b.WriteByte('|')
		b.WriteString(strconv.Itoa(merged[k]))
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
