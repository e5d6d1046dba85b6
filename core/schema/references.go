package schema

// RefPath locates one reference leaf of a field tree. Path is dotted from the
// document root; IsArray marks an array whose elements are references.
type RefPath struct {
	Scheme  string `json:"scheme"`
	Path    string `json:"path"`
	IsArray bool   `json:"isArray"`
}

// CollectRefs flattens every reference leaf reachable from the tree.
func CollectRefs(t *Tree) []RefPath {
	var refs []RefPath
	collectRefs(t, "", &refs)
	return refs
}

func collectRefs(t *Tree, prefix string, refs *[]RefPath) {
	if t == nil {
		return
	}
	for _, f := range t.Fields {
		path := joinPath(prefix, f.Name)
		switch d := f.Descriptor.(type) {
		case *Reference:
			*refs = append(*refs, RefPath{Scheme: d.Scheme, Path: path})
		case *Array:
			if d.Element == KindReference {
				*refs = append(*refs, RefPath{Scheme: d.Scheme, Path: path, IsArray: true})
			}
			collectRefs(d.Fields, path, refs)
		case *Object:
			collectRefs(d.Fields, path, refs)
		case *Container:
			collectRefs(d.Fields, path, refs)
		}
	}
}

// RefsTo returns the reference paths that target the named schema.
func (d *Definition) RefsTo(scheme string) []RefPath {
	var out []RefPath
	for _, r := range d.Refs {
		if r.Scheme == scheme {
			out = append(out, r)
		}
	}
	return out
}
