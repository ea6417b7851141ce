package converter

import "github.com/ceresfs/mgm/namespace"

// ViewResolver adapts a namespace.View into a FidResolver.
type ViewResolver struct {
	View namespace.View
}

func (r ViewResolver) FileForEntry(fid uint64) (*namespace.FileMD, bool) {
	return r.View.GetFile(fid)
}
