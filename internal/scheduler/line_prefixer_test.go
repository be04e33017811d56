package scheduler

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinePrefixer_CompleteLinesFlushImmediately(t *testing.T) {
	var dst bytes.Buffer
	p := &linePrefixer{id: "t", dst: &dst}

	_, err := p.Write([]byte("one\ntwo\n"))
	assert.NoError(t, err)
	assert.Equal(t, "[t] one\n[t] two\n", dst.String())
}

func TestLinePrefixer_FlushEmitsResidualLineWithoutTrailingNewline(t *testing.T) {
	var dst bytes.Buffer
	p := &linePrefixer{id: "t", dst: &dst}

	_, err := p.Write([]byte("complete\npartial"))
	assert.NoError(t, err)
	assert.Equal(t, "[t] complete\n", dst.String(), "partial line must stay buffered until Flush")

	p.Flush()
	assert.Equal(t, "[t] complete\n[t] partial\n", dst.String())
}

func TestLinePrefixer_FlushIsNoOpWhenBufferEmpty(t *testing.T) {
	var dst bytes.Buffer
	p := &linePrefixer{id: "t", dst: &dst}

	_, err := p.Write([]byte("whole line\n"))
	assert.NoError(t, err)
	p.Flush()
	assert.Equal(t, "[t] whole line\n", dst.String())
}
