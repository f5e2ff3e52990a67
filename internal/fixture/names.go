package fixture

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// indexWidth is the zero-padding of entry file names.
const indexWidth = 5

// DirName maps a test-case name to its cassette directory name.
//
// The mapping is a pure function of the name so record and replay runs
// resolve the same directory without any bookkeeping. Names are NFC
// normalized first so visually identical names written on different
// platforms land in the same place. Bytes in [A-Za-z0-9._-] are kept and
// every other byte (including the "/" of Go subtest names) is written as
// %XX, so distinct normalized names never share a directory and
// CaseName recovers the name.
func DirName(testCase string) (string, error) {
	if strings.TrimSpace(testCase) == "" {
		return "", fmt.Errorf("empty test case name")
	}
	name := norm.NFC.String(testCase)
	if name == "." || name == ".." {
		return "", fmt.Errorf("test case name %q does not map to a usable directory", testCase)
	}

	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if isDirSafe(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0x0f])
	}
	return b.String(), nil
}

// CaseName reverses DirName. Directory names DirName could not have
// produced are rejected.
func CaseName(dir string) (string, error) {
	var b strings.Builder
	b.Grow(len(dir))
	for i := 0; i < len(dir); i++ {
		c := dir[i]
		switch {
		case isDirSafe(c):
			b.WriteByte(c)
		case c == '%' && i+2 < len(dir):
			v, err := strconv.ParseUint(dir[i+1:i+3], 16, 8)
			if err != nil || isDirSafe(byte(v)) {
				return "", fmt.Errorf("directory %q: bad escape at offset %d", dir, i)
			}
			b.WriteByte(byte(v))
			i += 2
		default:
			return "", fmt.Errorf("directory %q: unexpected byte %q at offset %d", dir, c, i)
		}
	}
	name := b.String()
	if got, err := DirName(name); err != nil || got != dir {
		return "", fmt.Errorf("directory %q is not a cassette directory name", dir)
	}
	return name, nil
}

const upperHex = "0123456789ABCDEF"

func isDirSafe(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '.', c == '_', c == '-':
		return true
	}
	return false
}

// EntryFileName returns the file name for the entry at index.
func EntryFileName(index int, ext string) string {
	return fmt.Sprintf("%0*d%s", indexWidth, index, ext)
}

// parseEntryFileName extracts the index from an entry file name.
// Returns false for files that are not entries for this extension.
func parseEntryFileName(name, ext string) (int, bool) {
	stem, ok := strings.CutSuffix(name, ext)
	if !ok || len(stem) < indexWidth {
		return 0, false
	}
	idx, err := strconv.Atoi(stem)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}
