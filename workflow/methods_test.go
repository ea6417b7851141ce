package workflow

import (
	"encoding/base64"
	"testing"
)

type fakeFileContext struct {
	paths     map[uint64]string
	owners    map[uint64][2]int64
	checksums map[uint64]string
	sizes     map[uint64]int64
	ctimes    map[uint64][2]int64
	names     map[uint64]string
	fileAttrs map[uint64]map[string]string
	ctnAttrs  map[uint64]map[string]string
}

func newFakeFileContext() *fakeFileContext {
	return &fakeFileContext{
		paths:     map[uint64]string{},
		owners:    map[uint64][2]int64{},
		checksums: map[uint64]string{},
		sizes:     map[uint64]int64{},
		ctimes:    map[uint64][2]int64{},
		names:     map[uint64]string{},
		fileAttrs: map[uint64]map[string]string{},
		ctnAttrs:  map[uint64]map[string]string{},
	}
}

func (f *fakeFileContext) Path(fid uint64) (string, bool) { v, ok := f.paths[fid]; return v, ok }
func (f *fakeFileContext) Owner(fid uint64) (int64, int64, bool) {
	v, ok := f.owners[fid]
	return v[0], v[1], ok
}
func (f *fakeFileContext) Checksum(fid uint64) (string, bool) { v, ok := f.checksums[fid]; return v, ok }
func (f *fakeFileContext) Size(fid uint64) (int64, bool)      { v, ok := f.sizes[fid]; return v, ok }
func (f *fakeFileContext) Ctime(fid uint64) (int64, int64, bool) {
	v, ok := f.ctimes[fid]
	return v[0], v[1], ok
}
func (f *fakeFileContext) ContainerName(fid uint64) (string, bool) { v, ok := f.names[fid]; return v, ok }
func (f *fakeFileContext) FileAttr(fid uint64, key string) (string, bool) {
	m, ok := f.fileAttrs[fid]
	if !ok {
		return "", false
	}
	v, ok := m[key]
	return v, ok
}
func (f *fakeFileContext) SetFileAttr(fid uint64, key, value string) error {
	if f.fileAttrs[fid] == nil {
		f.fileAttrs[fid] = map[string]string{}
	}
	f.fileAttrs[fid][key] = value
	return nil
}
func (f *fakeFileContext) ContainerAttr(fid uint64, key string) (string, bool) {
	m, ok := f.ctnAttrs[fid]
	if !ok {
		return "", false
	}
	v, ok := m[key]
	return v, ok
}
func (f *fakeFileContext) HasDiskReplica(fid uint64) bool        { return true }
func (f *fakeFileContext) AddTapeReplica(fid uint64) error       { return nil }
func (f *fakeFileContext) RemoveDiskReplicas(fid uint64) error   { return nil }
func (f *fakeFileContext) IncrRetrieveCounter(fid uint64) (int, error) { return 1, nil }
func (f *fakeFileContext) DecrRetrieveCounter(fid uint64) (int, error) { return 0, nil }

func TestExpandArgsSubstitutesPathAndIdentity(t *testing.T) {
	fc := newFakeFileContext()
	fc.paths[1] = "/eos/user/foo/bar.dat"
	fc.owners[1] = [2]int64{99, 100}

	got := ExpandArgs("<eos::wfe::path> <eos::wfe::uid>:<eos::wfe::gid>", fc, 1)
	want := "/eos/user/foo/bar.dat 99:100"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestExpandArgsBase64Path(t *testing.T) {
	fc := newFakeFileContext()
	fc.paths[1] = "/eos/user/foo/bar.dat"

	got := ExpandArgs("<eos::wfe::base64:path>", fc, 1)
	want := base64.StdEncoding.EncodeToString([]byte("/eos/user/foo/bar.dat"))
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestExpandArgsFidAndFxid(t *testing.T) {
	fc := newFakeFileContext()
	got := ExpandArgs("<eos::wfe::fid> <eos::wfe::fxid>", fc, 0x1a)
	want := "26 1a"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestExpandArgsUnknownAttrResolvesEmpty(t *testing.T) {
	fc := newFakeFileContext()
	got := ExpandArgs("v=<eos::wfe::fxattr:missing>", fc, 1)
	if got != "v=" {
		t.Fatalf("expected empty substitution for unresolved attribute, got %q", got)
	}
}

func TestExpandArgsFxattrAndBase64Variant(t *testing.T) {
	fc := newFakeFileContext()
	fc.fileAttrs[1] = map[string]string{"checksum.type": "adler"}

	got := ExpandArgs("<eos::wfe::fxattr:checksum.type>", fc, 1)
	if got != "adler" {
		t.Fatalf("got %q", got)
	}

	got = ExpandArgs("<eos::wfe::fxattr:base64:checksum.type>", fc, 1)
	want := base64.StdEncoding.EncodeToString([]byte("adler"))
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestExpandArgsCxattr(t *testing.T) {
	fc := newFakeFileContext()
	fc.ctnAttrs[1] = map[string]string{"sys.forced.space": "default"}

	got := ExpandArgs("<eos::wfe::cxattr:sys.forced.space>", fc, 1)
	if got != "default" {
		t.Fatalf("got %q", got)
	}
}

func TestRunBashSplitsExeFromArgsAndExpands(t *testing.T) {
	fc := newFakeFileContext()
	fc.paths[1] = "/eos/user/foo/bar.dat"

	var gotExe, gotArgs string
	runner := bashRunnerFunc(func(exe, args string) (map[string]string, error) {
		gotExe, gotArgs = exe, args
		return nil, nil
	})

	if _, err := RunBash(runner, fc, 1, "notify.sh <eos::wfe::path>"); err != nil {
		t.Fatalf("RunBash: %v", err)
	}
	if gotExe != bashScriptRoot+"notify.sh" {
		t.Fatalf("got exe %q", gotExe)
	}
	if gotArgs != "/eos/user/foo/bar.dat" {
		t.Fatalf("got args %q", gotArgs)
	}
}

type bashRunnerFunc func(exe, args string) (map[string]string, error)

func (f bashRunnerFunc) Run(exe, args string) (map[string]string, error) { return f(exe, args) }
