package util

import "errors"

var (
	// ErrEmptyDocument is the only fatal condition of chapter processing.
	ErrEmptyDocument = errors.New("no extractable text found in chapter")

	ErrProvidersExhausted = errors.New("all oracle providers exhausted")
	ErrProviderCoolingOff = errors.New("oracle provider cooling off")
)

func IsEmptyDocument(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEmptyDocument) {
		return true
	}
	// Temporal flattens activity errors into application errors carrying the message only.
	return containsFold(err.Error(), ErrEmptyDocument.Error())
}
