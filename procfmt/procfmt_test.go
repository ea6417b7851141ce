package procfmt

import "testing"

func TestEncodeDecodeRecycleNameFile(t *testing.T) {
	name := EncodeRecycleName("/eos/user/foo/bar.txt", 0x1a2b, false)
	path, fid, isDir, ok := DecodeRecycleName(name)
	if !ok {
		t.Fatalf("decode failed for %q", name)
	}
	if path != "/eos/user/foo/bar.txt" || fid != 0x1a2b || isDir {
		t.Fatalf("got path=%q fid=%x isDir=%v", path, fid, isDir)
	}
}

func TestEncodeDecodeRecycleNameDir(t *testing.T) {
	name := EncodeRecycleName("/eos/user/foo", 0xdead, true)
	path, fid, isDir, ok := DecodeRecycleName(name)
	if !ok {
		t.Fatalf("decode failed for %q", name)
	}
	if path != "/eos/user/foo" || fid != 0xdead || !isDir {
		t.Fatalf("got path=%q fid=%x isDir=%v", path, fid, isDir)
	}
}

func TestParseRestoreKey(t *testing.T) {
	k, ok := ParseRestoreKey("fxid:1a2b")
	if !ok || k.Fid != 0x1a2b || k.IsDir {
		t.Fatalf("unexpected result %+v ok=%v", k, ok)
	}
	k, ok = ParseRestoreKey("pxid:ff")
	if !ok || k.Fid != 0xff || !k.IsDir {
		t.Fatalf("unexpected result %+v ok=%v", k, ok)
	}
	if _, ok := ParseRestoreKey("bogus:1"); ok {
		t.Fatalf("expected bogus prefix to be rejected")
	}
}

func TestVersionedName(t *testing.T) {
	if got := VersionedName("file.txt", 0xabc); got != "file.txt.abc" {
		t.Fatalf("got %q", got)
	}
}
