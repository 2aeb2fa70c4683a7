package codec

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/cuemby/fleetctl/pkg/errs"
)

// archive is a stable, self-describing file-tree serialization: entries
// are sorted lexicographically by canonical relative path (LF
// separators) so encode(T) is byte-identical across runs given the same
// file contents.
//
// Wire format: magic(4) | count(uint32) | entries...
// entry: pathLen(uint32) | path (LF-joined, no leading slash) |
//        contentLen(uint64) | content

var archiveMagic = [4]byte{'f', 'b', 'a', '1'}

func canonicalPath(p string) string {
	return filepath.ToSlash(p)
}

// buildArchive reads each file under sourceRoot named in relPaths and
// serializes them in canonical sorted order.
func buildArchive(sourceRoot string, relPaths []string) ([]byte, error) {
	sorted := append([]string(nil), relPaths...)
	sort.Strings(sorted)

	var buf bytes.Buffer
	buf.Write(archiveMagic[:])

	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(sorted)))
	buf.Write(count[:])

	for _, rel := range sorted {
		canon := canonicalPath(rel)
		data, err := os.ReadFile(filepath.Join(sourceRoot, rel))
		if err != nil {
			return nil, errs.Wrap(errs.KindInvalidArgument, "reading source file "+rel, err)
		}

		var pathLen [4]byte
		binary.BigEndian.PutUint32(pathLen[:], uint32(len(canon)))
		buf.Write(pathLen[:])
		buf.WriteString(canon)

		var contentLen [8]byte
		binary.BigEndian.PutUint64(contentLen[:], uint64(len(data)))
		buf.Write(contentLen[:])
		buf.Write(data)
	}

	return buf.Bytes(), nil
}

// archiveEntry is one decoded file within an archive.
type archiveEntry struct {
	Path    string
	Content []byte
}

// parseArchive reverses buildArchive.
func parseArchive(data []byte) ([]archiveEntry, error) {
	r := bytes.NewReader(data)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != archiveMagic {
		return nil, errs.New(errs.KindMetadataInvalid, "archive magic mismatch")
	}

	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, errs.Wrap(errs.KindMetadataInvalid, "reading archive entry count", err)
	}
	count := binary.BigEndian.Uint32(countBuf[:])

	entries := make([]archiveEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		var pathLen [4]byte
		if _, err := io.ReadFull(r, pathLen[:]); err != nil {
			return nil, errs.Wrap(errs.KindMetadataInvalid, "reading archive path length", err)
		}
		pathBuf := make([]byte, binary.BigEndian.Uint32(pathLen[:]))
		if _, err := io.ReadFull(r, pathBuf); err != nil {
			return nil, errs.Wrap(errs.KindMetadataInvalid, "reading archive path", err)
		}

		var contentLen [8]byte
		if _, err := io.ReadFull(r, contentLen[:]); err != nil {
			return nil, errs.Wrap(errs.KindMetadataInvalid, "reading archive content length", err)
		}
		content := make([]byte, binary.BigEndian.Uint64(contentLen[:]))
		if _, err := io.ReadFull(r, content); err != nil {
			return nil, errs.Wrap(errs.KindMetadataInvalid, "reading archive content", err)
		}

		entries = append(entries, archiveEntry{Path: string(pathBuf), Content: content})
	}

	return entries, nil
}

// materialize writes each entry under targetRoot, creating parent
// directories as needed and overwriting existing files.
func materialize(entries []archiveEntry, targetRoot string) error {
	for _, entry := range entries {
		dest := filepath.Join(targetRoot, filepath.FromSlash(entry.Path))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return errs.Wrap(errs.KindUnexpected, "creating parent directory for "+entry.Path, err)
		}
		if err := os.WriteFile(dest, entry.Content, 0o644); err != nil {
			return errs.Wrap(errs.KindUnexpected, "writing restored file "+entry.Path, err)
		}
	}
	return nil
}
