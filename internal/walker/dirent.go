package walker

import (
	"bytes"
	"encoding/binary"
)

// File types reported in linux_dirent64.d_type.
const (
	DT_UNKNOWN = 0
	DT_DIR     = 4
	DT_REG     = 8
	DT_LNK     = 10
)

// direntHeader is the size of the fixed part of linux_dirent64:
// d_ino (8), d_off (8), d_reclen (2), d_type (1).
const direntHeader = 19

// Dirent is one parsed directory entry.
type Dirent struct {
	Name string
	Type uint8
}

// ParseDirents parses the first n bytes of a getdents64 buffer, appending
// to dst[:0]. The "." and ".." entries are dropped.
func ParseDirents(buf []byte, n int, dst []Dirent) []Dirent {
	entries := dst[:0]
	for off := 0; off+direntHeader <= n; {
		reclen := int(binary.NativeEndian.Uint16(buf[off+16:]))
		if reclen == 0 {
			break
		}
		name := buf[off+direntHeader : min(off+reclen, n)]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		if s := string(name); s != "." && s != ".." {
			entries = append(entries, Dirent{Name: s, Type: buf[off+18]})
		}
		off += reclen
	}
	return entries
}
