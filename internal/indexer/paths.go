package indexer

import (
	"strings"

	"github.com/moabualruz/rice-search/internal/rserr"
)

// MaxPathLen bounds document paths in bytes.
const MaxPathLen = 1024

// reservedNames are Windows device names rejected as path segments.
var reservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true,
	"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
	"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

// ValidatePath rejects absolute paths, traversal, null bytes, reserved
// names, and over-long paths. Paths are store-root-relative with
// forward slashes.
func ValidatePath(path string) error {
	if path == "" {
		return rserr.Newf(rserr.CodeInvalidPath, "path must not be empty")
	}
	if len(path) > MaxPathLen {
		return rserr.Newf(rserr.CodeInvalidPath, "path exceeds %d bytes", MaxPathLen)
	}
	if strings.ContainsRune(path, 0) {
		return rserr.Newf(rserr.CodeInvalidPath, "path contains a null byte")
	}
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, "\\") {
		return rserr.Newf(rserr.CodeInvalidPath, "path must be relative: %q", path)
	}
	// Windows drive letters and UNC-ish prefixes.
	if len(path) >= 2 && path[1] == ':' {
		return rserr.Newf(rserr.CodeInvalidPath, "path must be relative: %q", path)
	}

	normalized := strings.ReplaceAll(path, "\\", "/")
	for _, seg := range strings.Split(normalized, "/") {
		if seg == ".." {
			return rserr.Newf(rserr.CodeInvalidPath, "path traversal not allowed: %q", path)
		}
		base := seg
		if i := strings.IndexByte(base, '.'); i >= 0 {
			base = base[:i]
		}
		if reservedNames[strings.ToLower(base)] {
			return rserr.Newf(rserr.CodeInvalidPath, "reserved name in path: %q", seg)
		}
	}
	return nil
}
