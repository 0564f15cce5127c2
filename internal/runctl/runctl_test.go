package runctl

import (
	"testing"

	"fortio.org/assert"
)

func TestAbortIsIdempotent(t *testing.T) {
	a := NewAborter()
	assert.True(t, !a.Aborted())
	a.Abort()
	assert.True(t, a.Aborted())
	a.Abort() // must not panic on double-close
	assert.True(t, a.Aborted())
}

func TestRecordStartDoesNotBlock(t *testing.T) {
	a := NewAborter()
	a.RecordStart()
	a.RecordStart() // must not block on a full buffered channel
}
