// Package carve implements the per-format carvers: state machines that,
// starting from a header hit, walk a file's internal structure to
// determine its true end, producing a validated/truncated/rejected
// verdict and streaming MD5+SHA-256 hashes.
package carve

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"strings"

	"github.com/kenchrcum/forensic-carver/internal/evidence"
	"github.com/kenchrcum/forensic-carver/internal/model"
)

// ErrKind classifies a CarveError for the pipeline's typed error counters.
type ErrKind int

const (
	KindIO ErrKind = iota
	KindEvidence
	KindInvalid
	KindTruncated
	KindEOF
)

func (k ErrKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindEvidence:
		return "evidence"
	case KindInvalid:
		return "invalid"
	case KindTruncated:
		return "truncated"
	case KindEOF:
		return "eof"
	default:
		return "unknown"
	}
}

// CarveError classifies carver failures. An Invalid diagnosis is
// converted to (nil, nil) by the carver itself (false positive, not an
// error); Truncated/Eof keep partial output.
type CarveError struct {
	Kind ErrKind
	Msg  string
	Err  error
}

func (e *CarveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *CarveError) Unwrap() error { return e.Err }

func errIO(err error) *CarveError        { return &CarveError{Kind: KindIO, Msg: "io error", Err: err} }
func errEvidence(err error) *CarveError  { return &CarveError{Kind: KindEvidence, Msg: "evidence error", Err: err} }
func errInvalid(msg string) *CarveError  { return &CarveError{Kind: KindInvalid, Msg: msg} }
func errTruncated() *CarveError          { return &CarveError{Kind: KindTruncated, Msg: "truncated output"} }
func errEOF() *CarveError                { return &CarveError{Kind: KindEOF, Msg: "unexpected eof"} }

// ExtractionContext is passed to every carver invocation.
type ExtractionContext struct {
	RunID      string
	OutputRoot string
	Evidence   evidence.Source
}

// Carver is the capability set every format implements. There is no
// inheritance: carvers share code by calling the helpers in this file
// (FindPattern, ReadPrefix, WriteRange, CarveStream), not by subclassing
// a base type.
type Carver interface {
	FileType() string
	Extension() string
	ProcessHit(hit model.NormalizedHit, ctx *ExtractionContext) (*model.CarvedFile, error)
}

// Registry maps a file_type_id to its carver. Built once per run from
// configuration and read-only afterward.
type Registry struct {
	handlers map[string]Carver
}

// NewRegistry builds a registry from the given carvers, indexed by
// FileType().
func NewRegistry(carvers ...Carver) *Registry {
	m := make(map[string]Carver, len(carvers))
	for _, c := range carvers {
		m[c.FileType()] = c
	}
	return &Registry{handlers: m}
}

// Get looks up a carver by file_type_id.
func (r *Registry) Get(fileTypeID string) (Carver, bool) {
	c, ok := r.handlers[fileTypeID]
	return c, ok
}

// OutputPath builds the conventional <output_root>/<file_type>/<file_type>_<HEX12>.<ext>
// path and ensures the containing directory exists.
func OutputPath(outputRoot, fileType, extension string, globalStart uint64) (fullPath, relPath string, err error) {
	dir := filepath.Join(outputRoot, fileType)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("carve: mkdir %s: %w", dir, err)
	}
	filename := fmt.Sprintf("%s_%012X.%s", fileType, globalStart, extension)
	full := filepath.Join(dir, filename)
	rel, err := filepath.Rel(outputRoot, full)
	if err != nil {
		rel = full
	}
	return full, rel, nil
}

// relFromFull computes a path relative to outputRoot, falling back to the
// full path if it isn't actually inside outputRoot.
func relFromFull(outputRoot, fullPath string) (string, error) {
	rel, err := filepath.Rel(outputRoot, fullPath)
	if err != nil {
		return fullPath, nil
	}
	return rel, nil
}

// SanitizeExtension strips a leading dot and lowercases an extension.
func SanitizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// FindPattern returns the first index of needle in haystack, or -1.
func FindPattern(haystack, needle []byte) int {
	if len(needle) == 0 || len(haystack) < len(needle) {
		return -1
	}
	first := needle[0]
	limit := len(haystack) - len(needle)
	for i := 0; i <= limit; i++ {
		if haystack[i] != first {
			continue
		}
		match := true
		for j := 1; j < len(needle); j++ {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// ReadPrefix is a best-effort read of up to n bytes at offset, used by
// carvers that need to inspect a header before committing to a write
// (EML's header-count check, ICO's directory walk prevalidation).
func ReadPrefix(ctx *ExtractionContext, offset uint64, n int) []byte {
	buf := make([]byte, n)
	read, err := ctx.Evidence.ReadAt(offset, buf)
	if err != nil || read <= 0 {
		return nil
	}
	return buf[:read]
}

// ReadExactAt reads exactly n bytes at offset, or returns an Eof error if
// the evidence source runs out first.
func ReadExactAt(ctx *ExtractionContext, offset uint64, n int) ([]byte, error) {
	buf := make([]byte, n)
	read := 0
	for read < n {
		got, err := ctx.Evidence.ReadAt(offset+uint64(read), buf[read:])
		if err != nil {
			return nil, errEvidence(err)
		}
		if got == 0 {
			return nil, errEOF()
		}
		read += got
	}
	return buf, nil
}

// WriteRange copies evidence[start:end) to f, updating md5/sha256 as it
// goes. It returns the number of bytes written and whether evidence ran
// out before reaching end (eofTruncated).
func WriteRange(ctx *ExtractionContext, start, end uint64, f *os.File, md5h, sha256h hash.Hash) (uint64, bool, error) {
	const bufSize = 64 * 1024
	var written uint64
	buf := make([]byte, bufSize)
	offset := start
	for offset < end {
		want := end - offset
		if want > bufSize {
			want = bufSize
		}
		n, err := ctx.Evidence.ReadAt(offset, buf[:want])
		if err != nil {
			return written, false, errEvidence(err)
		}
		if n == 0 {
			return written, true, nil
		}
		if _, err := f.Write(buf[:n]); err != nil {
			return written, false, errIO(err)
		}
		md5h.Write(buf[:n])
		sha256h.Write(buf[:n])
		written += uint64(n)
		offset += uint64(n)
	}
	return written, false, nil
}

// CarveStream is the streaming write-and-hash abstraction every carver
// that walks a structure incrementally (rather than computing a total
// size up front) writes through: an output file handle plus MD5 and
// SHA-256 hashers updated as bytes flow.
type CarveStream struct {
	ctx     *ExtractionContext
	offset  uint64
	maxSize uint64
	written uint64
	f       *os.File
	md5     hash.Hash
	sha256  hash.Hash
}

// NewCarveStream opens a stream writing through f, reading evidence
// starting at offset. maxSize == 0 means unbounded.
func NewCarveStream(ctx *ExtractionContext, offset, maxSize uint64, f *os.File) *CarveStream {
	return &CarveStream{
		ctx:     ctx,
		offset:  offset,
		maxSize: maxSize,
		f:       f,
		md5:     md5.New(),
		sha256:  sha256.New(),
	}
}

// ReadExact reads n bytes from evidence at the stream's current offset,
// writes them through, and advances. Returns Truncated if writing n more
// bytes would exceed maxSize, or Eof if evidence runs out mid-read.
func (s *CarveStream) ReadExact(n int) ([]byte, error) {
	if s.maxSize > 0 && s.written+uint64(n) > s.maxSize {
		return nil, errTruncated()
	}
	buf := make([]byte, n)
	read := 0
	for read < n {
		got, err := s.ctx.Evidence.ReadAt(s.offset, buf[read:])
		if err != nil {
			return nil, errEvidence(err)
		}
		if got == 0 {
			return nil, errEOF()
		}
		if err := s.writeBytesInternal(buf[read : read+got]); err != nil {
			return nil, err
		}
		read += got
	}
	return buf, nil
}

// WriteBytes writes buf through without a corresponding evidence read
// (used when the carver already has the bytes in hand, e.g. a
// synthesized header).
func (s *CarveStream) WriteBytes(buf []byte) error {
	if s.maxSize > 0 && s.written+uint64(len(buf)) > s.maxSize {
		return errTruncated()
	}
	return s.writeBytesInternal(buf)
}

func (s *CarveStream) writeBytesInternal(buf []byte) error {
	if _, err := s.f.Write(buf); err != nil {
		return errIO(err)
	}
	s.md5.Write(buf)
	s.sha256.Write(buf)
	s.offset += uint64(len(buf))
	s.written += uint64(len(buf))
	return nil
}

// Offset returns the stream's current evidence read offset.
func (s *CarveStream) Offset() uint64 { return s.offset }

// Written returns the number of bytes written so far.
func (s *CarveStream) Written() uint64 { return s.written }

// Finish returns the final size and hex digests. Writes go straight to
// the output file, so there is nothing buffered to flush.
func (s *CarveStream) Finish() (uint64, string, string, error) {
	md5hex := hex.EncodeToString(s.md5.Sum(nil))
	sha256hex := hex.EncodeToString(s.sha256.Sum(nil))
	return s.written, md5hex, sha256hex, nil
}
