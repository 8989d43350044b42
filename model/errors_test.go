package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgramErrorFromCode(t *testing.T) {
	for code, want := range map[ProgramErrorCode]*ProgramError{
		6000: ErrNotListed,
		6001: ErrSellerCannotBuy,
		6002: ErrNameTooLong,
		6003: ErrDescriptionTooLong,
		6004: ErrUnauthorized,
	} {
		got, ok := ProgramErrorFromCode(code)
		assert.True(t, ok)
		assert.Same(t, want, got)
	}
	_, ok := ProgramErrorFromCode(7000)
	assert.False(t, ok)
}

func TestProgramError_Wrapping(t *testing.T) {
	err := fmt.Errorf("buy_item: %w", ErrNotListed)
	assert.ErrorIs(t, err, ErrNotListed)

	var perr *ProgramError
	assert.True(t, errors.As(err, &perr))
	assert.Equal(t, CodeNotListed, perr.Code)
	assert.Equal(t, "NotListed (6000): Item is not listed.", ErrNotListed.Error())
}

func TestValidateBounds(t *testing.T) {
	assert.NoError(t, ValidateBounds(strings.Repeat("a", 32), strings.Repeat("b", 256)))
	assert.ErrorIs(t, ValidateBounds(strings.Repeat("a", 33), ""), ErrNameTooLong)
	assert.ErrorIs(t, ValidateBounds("", strings.Repeat("b", 257)), ErrDescriptionTooLong)
	// 名前の検査が先
	assert.ErrorIs(t, ValidateBounds(strings.Repeat("a", 33), strings.Repeat("b", 257)), ErrNameTooLong)
	// バイト数で数える
	assert.ErrorIs(t, ValidateBounds(strings.Repeat("あ", 11), ""), ErrNameTooLong)
}
