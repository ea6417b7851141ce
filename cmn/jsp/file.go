// Package jsp (JSON persistence) provides utilities to atomically save and
// load arbitrary JSON-encoded structures, with an optional checksum.
package jsp

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"reflect"

	jsoniter "github.com/json-iterator/go"

	"github.com/ceresfs/mgm/cmn"
	"github.com/ceresfs/mgm/cmn/debug"
	"github.com/golang/glog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options controls how Encode/Decode handle a given payload.
type Options struct {
	Checksum bool
}

// Opts is implemented by any type that knows how it wants to be persisted,
// mirroring the teacher's meta-describes-its-own-options convention.
type Opts interface {
	JspOpts() Options
}

// Cksum is the checksum recorded alongside a persisted payload.
type Cksum struct {
	Type  string
	Value string
}

var ErrBadCksum = errors.New("jsp: bad checksum")

// Encode writes v as JSON to w, prefixed with a sha256 checksum line when
// opts.Checksum is set.
func Encode(w io.Writer, v interface{}, opts Options) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if opts.Checksum {
		sum := sha256.Sum256(body)
		if _, err := io.WriteString(w, hex.EncodeToString(sum[:])+"\n"); err != nil {
			return err
		}
	}
	_, err = w.Write(body)
	return err
}

// Decode reads v back from r, verifying the checksum line when present.
func Decode(r io.Reader, v interface{}, opts Options, path string) (*Cksum, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var cksum *Cksum
	if opts.Checksum {
		nl := indexByte(body, '\n')
		if nl < 0 {
			return nil, ErrBadCksum
		}
		want := string(body[:nl])
		rest := body[nl+1:]
		sum := sha256.Sum256(rest)
		got := hex.EncodeToString(sum[:])
		if got != want {
			return nil, ErrBadCksum
		}
		cksum = &Cksum{Type: "sha256", Value: got}
		body = rest
	}
	if err := json.Unmarshal(body, v); err != nil {
		return nil, err
	}
	return cksum, nil
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

func SaveMeta(filepath string, meta Opts, wto io.WriterTo) error {
	return Save(filepath, meta, meta.JspOpts(), wto)
}

func Save(filepath string, v interface{}, opts Options, wto io.WriterTo) (err error) {
	var (
		file *os.File
		tmp  = filepath + ".tmp." + cmn.GenTie()
	)
	if file, err = cmn.CreateFile(tmp); err != nil {
		return
	}
	defer func() {
		if err == nil {
			return
		}
		if nestedErr := cmn.RemoveFile(tmp); nestedErr != nil {
			glog.Errorf("Nested (%v): failed to remove %s, err: %v", err, tmp, nestedErr)
		}
	}()
	if wto != nil && !reflect.ValueOf(wto).IsNil() {
		_, err = wto.WriteTo(file)
	} else {
		debug.Assert(v != nil)
		err = Encode(file, v, opts)
	}
	if err != nil {
		glog.Errorf("Failed to encode %s: %v", filepath, err)
		cmn.Close(file)
		return
	}
	if err = cmn.FlushClose(file); err != nil {
		glog.Errorf("Failed to flush and close %s: %v", tmp, err)
		return
	}
	err = os.Rename(tmp, filepath)
	return
}

func LoadMeta(filepath string, meta Opts) (*Cksum, error) {
	return Load(filepath, meta, meta.JspOpts())
}

func Load(filepath string, v interface{}, opts Options) (checksum *Cksum, err error) {
	var file *os.File
	file, err = os.Open(filepath)
	if err != nil {
		return
	}
	defer file.Close()
	checksum, err = Decode(file, v, opts, filepath)
	if err != nil && errors.Is(err, ErrBadCksum) {
		if errRm := os.Remove(filepath); errRm == nil {
			glog.Errorf("bad checksum: removing %s", filepath)
		} else {
			glog.Errorf("bad checksum: failed to remove %s: %v", filepath, errRm)
		}
		return
	}
	return
}
