package namespace

import "testing"

func TestSnapshotAndAllFiles(t *testing.T) {
	v := NewMemView()
	if err := v.CreateFile(&FileMD{Fid: 1, Name: "a", Locations: []int64{10, 20}}); err != nil {
		t.Fatal(err)
	}
	if err := v.CreateFile(&FileMD{Fid: 2, Name: "b", Locations: []int64{30}}); err != nil {
		t.Fatal(err)
	}

	snap := v.Snapshot()
	if len(snap[1]) != 2 || len(snap[2]) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	all := v.AllFiles()
	if len(all) != 2 {
		t.Fatalf("expected 2 files, got %d", len(all))
	}

	// mutating the returned slices must not affect the view's own state
	snap[1][0] = 999
	if f, _ := v.GetFile(1); f.Locations[0] == 999 {
		t.Fatal("Snapshot leaked internal slice")
	}
}

func TestChildren(t *testing.T) {
	v := NewMemView()
	v.PutContainer(&ContainerMD{ID: 1, Name: "root", ParentID: 0})
	v.PutContainer(&ContainerMD{ID: 2, Name: "a", ParentID: 1})
	v.PutContainer(&ContainerMD{ID: 3, Name: "b", ParentID: 1})
	v.PutContainer(&ContainerMD{ID: 4, Name: "c", ParentID: 2})

	kids := v.Children(1)
	if len(kids) != 2 {
		t.Fatalf("expected 2 children of container 1, got %d", len(kids))
	}
	if len(v.Children(2)) != 1 {
		t.Fatal("expected 1 child of container 2")
	}
	if len(v.Children(4)) != 0 {
		t.Fatal("expected no children of leaf container")
	}
}
