package cmn

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/golang/glog"
)

const SizeofI64 = 8

// GenTie returns a short random string used to disambiguate concurrent
// tempfile names (the same role as the teacher's `cos.GenTie`).
func GenTie() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// CreateFile creates path, including any missing parent directories, the
// way every atomic-save path in this module expects.
func CreateFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

func RemoveFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func Close(f *os.File) { _ = f.Close() }

func FlushClose(f *os.File) error {
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// StringSet is the set representation used throughout AccessPolicy for the
// ban/allow lists: membership-only, order never matters.
type StringSet map[string]struct{}

func NewStringSet(items ...string) StringSet {
	s := make(StringSet, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

func (s StringSet) Has(item string) bool {
	_, ok := s[item]
	return ok
}

func (s StringSet) Add(item string)    { s[item] = struct{}{} }
func (s StringSet) Delete(item string) { delete(s, item) }

func (s StringSet) ToSlice() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s StringSet) Clone() StringSet {
	out := make(StringSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// ExitLogf logs a formatted fatal message and terminates the process,
// the same helper the daemon's startup path calls on any unrecoverable
// config or bootstrap error.
func ExitLogf(format string, args ...interface{}) {
	glog.Errorf(format, args...)
	glog.Flush()
	os.Exit(1)
}

// Exitf prints a fatal message straight to stderr (no logger involved,
// used before logging is initialized) and terminates the process.
func Exitf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// B2S renders a byte count in human units, e.g. for log lines ("1.2MiB").
func B2S(b int64, digits int) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.*f%ciB", digits, float64(b)/float64(div), "KMGTPE"[exp])
}
