package fserr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tinyfat/fatfs/fserr"
)

func TestCodeWithMessage(t *testing.T) {
	err := fserr.DiskFull.WithMessage("cluster scan wrapped with no hits")
	assert.Equal(
		t,
		"no free clusters available: cluster scan wrapped with no hits",
		err.Error(),
	)
	assert.ErrorIs(t, err, fserr.DiskFull)
}

func TestCodeWrap(t *testing.T) {
	cause := errors.New("sector 12 read failed")
	err := fserr.DiskAccessError.Wrap(cause)

	assert.Equal(t, "disk access error: sector 12 read failed", err.Error())
	assert.ErrorIs(t, err, fserr.DiskAccessError)
	assert.ErrorIs(t, err, cause)
}
