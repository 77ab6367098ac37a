package utils

import (
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestCursorRoundTrip(t *testing.T) {
	is := is.New(t)

	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	cursor := EncodeCursor(createdAt, "record-42")

	decodedAt, id, err := DecodeCursor(cursor)
	is.NoErr(err)
	is.True(decodedAt.Equal(createdAt))
	is.Equal(id, "record-42")
}

func TestDecodeEmptyCursorMeansFromTop(t *testing.T) {
	is := is.New(t)

	decodedAt, id, err := DecodeCursor("")
	is.NoErr(err)
	is.True(decodedAt.IsZero())
	is.Equal(id, "")
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	is := is.New(t)

	_, _, err := DecodeCursor("not-base64!")
	is.True(err != nil)

	_, _, err = DecodeCursor("bm8tc2VwYXJhdG9y") // valid base64, no separator
	is.True(err != nil)
}
