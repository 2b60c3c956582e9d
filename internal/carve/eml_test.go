package carve

import (
	"testing"

	"github.com/kenchrcum/forensic-carver/internal/evidence"
	"github.com/kenchrcum/forensic-carver/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEMLCarver_RejectsTemplateMarker(t *testing.T) {
	data := []byte("From: %s via WMI auto-mailer\nSubject: %s\n\nBody")
	src := evidence.NewMemorySource(data)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := &EMLCarver{}
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: 0, FileTypeID: "eml"}, ctx)
	require.NoError(t, err)
	assert.Nil(t, file, "template marker %%s must be rejected as a false positive")
}

func TestEMLCarver_RejectsSingleHeaderToken(t *testing.T) {
	data := []byte("From: alice@example.com\n\nHello there, no other headers here.\n")
	src := evidence.NewMemorySource(data)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := &EMLCarver{}
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: 0, FileTypeID: "eml"}, ctx)
	require.NoError(t, err)
	assert.Nil(t, file, "fewer than two header tokens must be rejected")
}

func TestEMLCarver_AcceptsPlausibleMessageAndStopsAtMboxBoundary(t *testing.T) {
	msg := "From: alice@example.com\r\nTo: bob@example.com\r\nSubject: hi\r\n\r\nBody text.\r\n"
	next := "From bob@example.com Mon Jan 1 00:00:00 2026\r\nSubject: next\r\n\r\n"
	data := []byte(msg + next)
	src := evidence.NewMemorySource(data)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := &EMLCarver{}
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: 0, FileTypeID: "eml"}, ctx)
	require.NoError(t, err)
	require.NotNil(t, file)

	assert.True(t, file.Validated)
	assert.False(t, file.Truncated)
	// The mbox boundary pattern "\nFrom " starts at the newline that ends
	// msg's trailing CRLF, so the carved size is one byte short of the
	// full msg string (the \n belongs to the next message's boundary).
	assert.Equal(t, uint64(len(msg)-1), file.Size)
}

func TestEMLCarver_MinSizeRejection(t *testing.T) {
	data := []byte("From: a@b.com\nTo: c@d.com\n\nhi\n")
	src := evidence.NewMemorySource(data)
	ctx := &ExtractionContext{RunID: "r1", OutputRoot: t.TempDir(), Evidence: src}

	c := &EMLCarver{MinSize: uint64(len(data)) + 1}
	file, err := c.ProcessHit(model.NormalizedHit{GlobalOffset: 0, FileTypeID: "eml"}, ctx)
	require.NoError(t, err)
	assert.Nil(t, file)
}
