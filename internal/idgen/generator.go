// Package idgen produces receipt identifiers, receipt numbers and
// verification tokens.
package idgen

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	receiptPrefix = "OR"
	suffixLen     = 4
	suffixChars   = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
	maxOrgLen     = 10

	ulidLen   = 26
	digestLen = 12
	// TokenLen is the length of every verification token.
	TokenLen = ulidLen + digestLen
)

// Generator creates ids, receipt numbers and verification tokens.
// It is safe for concurrent use.
type Generator struct {
	seq    Sequencer
	local  *LocalSequencer
	logger *zap.Logger
}

// NewGenerator returns a generator backed by seq. A nil seq uses an
// in-process counter.
func NewGenerator(seq Sequencer, logger *zap.Logger) *Generator {
	local := NewLocalSequencer()
	if seq == nil {
		seq = local
	}
	return &Generator{seq: seq, local: local, logger: logger}
}

// NewID returns a new ULID string.
func (g *Generator) NewID() string {
	return ulid.Make().String()
}

// NewReceiptNumber returns a code like OR-2026-CSS-000042-7KQ2. The sequence
// is scoped per organization and year; the random suffix keeps numbers
// distinct when two sequencers disagree.
func (g *Generator) NewReceiptNumber(ctx context.Context, org string, year int) string {
	code := OrgCode(org)
	n, err := g.seq.Next(ctx, code, year)
	if err != nil {
		g.logger.Warn("sequencer unavailable, using local counter",
			zap.String("organization", code),
			zap.Int("year", year),
			zap.Error(err),
		)
		n, _ = g.local.Next(ctx, code, year)
	}
	return fmt.Sprintf("%s-%d-%s-%06d-%s", receiptPrefix, year, code, n, randomSuffix())
}

// NewVerificationToken derives the QR payload for a receipt: a ULID carrying
// issuedAt as its time component followed by a digest of the receipt number.
func (g *Generator) NewVerificationToken(receiptNumber string, issuedAt time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(issuedAt), rand.Reader).String()
	return id + digest(receiptNumber, id)
}

// ValidToken is the structural check run before any store access.
func ValidToken(token string) bool {
	if len(token) != TokenLen {
		return false
	}
	if _, err := ulid.ParseStrict(token[:ulidLen]); err != nil {
		return false
	}
	for _, c := range token[ulidLen:] {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// OrgCode normalizes an organization name into the code embedded in
// receipt numbers.
func OrgCode(org string) string {
	var b strings.Builder
	for _, c := range strings.ToUpper(org) {
		if c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
		if b.Len() == maxOrgLen {
			break
		}
	}
	if b.Len() == 0 {
		return "ORG"
	}
	return b.String()
}

func digest(receiptNumber, id string) string {
	sum := sha256.Sum256([]byte(receiptNumber + "|" + id))
	return hex.EncodeToString(sum[:])[:digestLen]
}

func randomSuffix() string {
	b := make([]byte, suffixLen)
	max := big.NewInt(int64(len(suffixChars)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			panic(err)
		}
		b[i] = suffixChars[n.Int64()]
	}
	return string(b)
}
