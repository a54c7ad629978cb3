package walker

import (
	"path"
	"strings"
)

// binaryExts lists extensions of formats never worth reading as text.
var binaryExts = setOf(
	".so", ".dylib", ".dll", ".exe", ".bin", ".o", ".a", ".class", ".pyc", ".wasm",
	".gz", ".bz2", ".xz", ".zst", ".zip", ".tar", ".7z", ".rar", ".jar",
	".png", ".jpg", ".jpeg", ".gif", ".bmp", ".ico", ".webp", ".psd",
	".mp3", ".mp4", ".ogg", ".flac", ".wav", ".mkv", ".mov",
	".ttf", ".otf", ".woff", ".woff2", ".pdf", ".docx", ".xlsx",
	".db", ".sqlite", ".swp",
)

func setOf(items ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}
	return m
}

// HasBinaryExtension reports whether name looks like a binary format by
// its extension, including versioned shared objects such as libc.so.6.
func HasBinaryExtension(name string) bool {
	if _, ok := binaryExts[strings.ToLower(path.Ext(name))]; ok {
		return true
	}
	return strings.Contains(name, ".so.")
}

// SkipDir reports directories that are never descended into: VCS
// metadata always, other dot-directories unless hidden is set.
func SkipDir(name string, hidden bool) bool {
	switch name {
	case ".git", ".svn", ".hg", ".jj":
		return true
	}
	return !hidden && isHidden(name)
}

// SkipFile reports files left out of the candidate set.
func SkipFile(name string, hidden bool) bool {
	return !hidden && isHidden(name) || HasBinaryExtension(name)
}

func isHidden(name string) bool {
	return len(name) > 1 && name[0] == '.'
}
