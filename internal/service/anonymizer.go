package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// PseudonymLength is the length of a hex encoded SHA-256 digest.
const PseudonymLength = 64

type saltSource interface {
	Get(ctx context.Context) (string, error)
	Regenerate(ctx context.Context) (string, error)
}

// Anonymizer replaces platform user ids with salted one-way pseudonyms before any data
// leaves the service.
type Anonymizer struct {
	salts saltSource
}

// NewAnonymizer constructs an anonymizer over the given salt source.
func NewAnonymizer(salts saltSource) *Anonymizer {
	return &Anonymizer{salts: salts}
}

// Anonymize returns the pseudonym for subjectID under the active salt.
func (a *Anonymizer) Anonymize(ctx context.Context, subjectID int64) (string, error) {
	salt, err := a.salts.Get(ctx)
	if err != nil {
		return "", err
	}
	return pseudonym(subjectID, salt), nil
}

// AnonymizeBatch maps every id to its pseudonym.
func (a *Anonymizer) AnonymizeBatch(ctx context.Context, subjectIDs []int64) (map[int64]string, error) {
	salt, err := a.salts.Get(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(subjectIDs))
	for _, id := range subjectIDs {
		out[id] = pseudonym(id, salt)
	}
	return out, nil
}

// ReverseLookup finds which candidate produced value. It only works against a small
// trusted candidate set such as a course roster.
func (a *Anonymizer) ReverseLookup(ctx context.Context, value string, candidates []int64) (int64, bool, error) {
	if !IsPseudonymShaped(value) {
		return 0, false, nil
	}
	salt, err := a.salts.Get(ctx)
	if err != nil {
		return 0, false, err
	}
	value = strings.ToLower(value)
	for _, id := range candidates {
		if pseudonym(id, salt) == value {
			return id, true, nil
		}
	}
	return 0, false, nil
}

// RegenerateSalt rotates the salt. Previously issued pseudonyms become unverifiable.
func (a *Anonymizer) RegenerateSalt(ctx context.Context) (string, error) {
	return a.salts.Regenerate(ctx)
}

// IsPseudonymShaped is a format check only: 64 hex characters.
func IsPseudonymShaped(value string) bool {
	if len(value) != PseudonymLength {
		return false
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func pseudonym(subjectID int64, salt string) string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(subjectID, 10) + salt))
	return hex.EncodeToString(sum[:])
}
