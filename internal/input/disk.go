package input

import (
	"bytes"
	"errors"
	"fmt"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sys/unix"
)

// ErrNotRegular is returned for paths that are not regular files.
var ErrNotRegular = errors.New("not a regular file")

// binaryProbe is how much of a file is checked for NUL bytes.
const binaryProbe = 8 << 10

// IsBinary reports whether data looks binary: a NUL byte within the
// first 8 KiB, as GNU grep decides it.
func IsBinary(data []byte) bool {
	return bytes.IndexByte(data[:min(len(data), binaryProbe)], 0) >= 0
}

// snapshot is the content of a file as read from disk.
type snapshot struct {
	text   string
	binary bool
	sum    uint64
}

// readDisk reads path with one open and one fstat. Files of at least
// mmapThreshold bytes are memory-mapped; binaries found that way are
// never copied to the heap. Smaller files are read with pread.
func readDisk(path string, mmapThreshold int64) (snapshot, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NOATIME|unix.O_CLOEXEC, 0)
	if err != nil {
		fd, err = unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err != nil {
			return snapshot{}, fmt.Errorf("open %s: %w", path, err)
		}
	}
	defer unix.Close(fd)

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return snapshot{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if stat.Mode&unix.S_IFMT != unix.S_IFREG {
		return snapshot{}, fmt.Errorf("%s: %w", path, ErrNotRegular)
	}
	if stat.Size == 0 {
		return snapshot{sum: xxhash.Sum64(nil)}, nil
	}
	if stat.Size >= mmapThreshold {
		if s, err := readMmap(fd, stat.Size); err == nil {
			return s, nil
		}
	}
	return readPread(fd, stat.Size)
}

func readMmap(fd int, size int64) (snapshot, error) {
	_ = unix.Fadvise(fd, 0, size, unix.FADV_SEQUENTIAL)
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE|unix.MAP_POPULATE)
	if err != nil {
		return snapshot{}, err
	}
	defer unix.Munmap(data)
	_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)

	s := snapshot{sum: xxhash.Sum64(data)}
	if IsBinary(data) {
		s.binary = true
		return s, nil
	}
	s.text = string(data)
	return s, nil
}

func readPread(fd int, size int64) (snapshot, error) {
	buf := make([]byte, size)
	total := 0
	for total < len(buf) {
		n, err := unix.Pread(fd, buf[total:], int64(total))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return snapshot{}, err
		}
		if n == 0 {
			break // truncated while reading
		}
		total += n
	}
	buf = buf[:total]

	s := snapshot{sum: xxhash.Sum64(buf)}
	if IsBinary(buf) {
		s.binary = true
		return s, nil
	}
	if total > 0 {
		// buf is never written again
		s.text = unsafe.String(&buf[0], total)
	}
	return s, nil
}
