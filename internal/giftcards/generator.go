package giftcards

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/telar-co/promo-server/internal/promo"
)

// codeCharset excludes ambiguous characters (0/O, 1/I) so codes survive
// being read aloud or handwritten on a gift note.
const codeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	codeGroups     = 3
	codeGroupSize  = 4
	maxCodeRetries = 10
)

// ErrCodeSpaceExhausted is returned when repeated generation attempts all
// collided with existing codes.
var ErrCodeSpaceExhausted = errors.New("giftcards: could not generate a unique code")

// GenerateCode produces a random gift card code of the form
// "GC-XXXX-XXXX-XXXX". The 32-character alphabet divides a byte's range
// evenly, so the modulo draw is uniform.
func GenerateCode() (string, error) {
	buf := make([]byte, codeGroups*codeGroupSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	code := make([]byte, 0, 3+codeGroups*(codeGroupSize+1))
	code = append(code, 'G', 'C')
	for i, b := range buf {
		if i%codeGroupSize == 0 {
			code = append(code, '-')
		}
		code = append(code, codeCharset[int(b)%len(codeCharset)])
	}
	return string(code), nil
}

// codeChecker reports whether a code already exists.
type codeChecker interface {
	FindGiftCard(ctx context.Context, code string) (promo.GiftCard, error)
}

// generateUniqueCode draws codes until one is free in storage, bounded by
// maxCodeRetries. The check-then-insert window is closed by the primary key
// on the gift card table; a loss there surfaces as a create error.
func generateUniqueCode(ctx context.Context, checker codeChecker) (string, error) {
	for attempt := 0; attempt < maxCodeRetries; attempt++ {
		code, err := GenerateCode()
		if err != nil {
			return "", err
		}

		_, err = checker.FindGiftCard(ctx, code)
		if errors.Is(err, promo.ErrCodeNotFound) {
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("check code uniqueness: %w", err)
		}
	}
	return "", ErrCodeSpaceExhausted
}
