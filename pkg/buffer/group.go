package buffer

import (
	"github.com/taimin-go/tiledreduce/pkg/engerrors"
	"github.com/taimin-go/tiledreduce/pkg/roi"
	"github.com/taimin-go/tiledreduce/pkg/shape"
)

// Group is an ordered name->Buffer mapping with a view lifecycle that
// forwards to every member buffer (spec §4.2). The source system exposes
// buffers through both keyed and attribute-style access; here attribute
// access is a thin capability (Attr) over the same keyed container, since
// Go has no dynamic attribute protocol to imitate directly.
type Group struct {
	order []string
	bufs  map[string]*Buffer
}

// NewGroup returns an empty buffer group.
func NewGroup() *Group {
	return &Group{bufs: make(map[string]*Buffer)}
}

// Declare adds a named buffer to the group. Declaring a name twice is an
// error: buffer names are bound once and never rebound.
func (g *Group) Declare(name string, buf *Buffer) error {
	if _, exists := g.bufs[name]; exists {
		return engerrors.Configf("buffer group: %q already declared, names cannot be rebound", name)
	}
	g.order = append(g.order, name)
	g.bufs[name] = buf
	return nil
}

// Get returns the named buffer.
func (g *Group) Get(name string) (*Buffer, bool) {
	b, ok := g.bufs[name]
	return b, ok
}

// Names returns the declared buffer names in declaration order.
func (g *Group) Names() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Attr returns the named buffer's current view if one is set, otherwise
// its raw storage. Returns nil if the name is undeclared or unallocated.
func (g *Group) Attr(name string) []float64 {
	b, ok := g.bufs[name]
	if !ok || !b.HasData() {
		return nil
	}
	if v := b.CurrentView(); v != nil {
		return v.Data()
	}
	return b.RawData()
}

// AllocateForDataset binds and allocates every buffer in the group at
// dataset granularity.
func (g *Group) AllocateForDataset(datasetNav, datasetSig shape.Shape, r *roi.Mask, where Where) error {
	for _, name := range g.order {
		b := g.bufs[name]
		if err := b.SetShapeDS(datasetNav, datasetSig, r); err != nil {
			return err
		}
		if err := b.Allocate(where); err != nil {
			return err
		}
	}
	return nil
}

// AllocateForPartition binds and allocates every buffer in the group at
// partition granularity.
func (g *Group) AllocateForPartition(datasetSig shape.Shape, r *roi.Mask, partStart, partEnd int64, where Where) error {
	for _, name := range g.order {
		b := g.bufs[name]
		if err := b.SetShapePartition(datasetSig, r, partStart, partEnd); err != nil {
			return err
		}
		if err := b.Allocate(where); err != nil {
			return err
		}
	}
	return nil
}

// SetViewForDataset sets every buffer's view to the whole dataset-bound
// storage.
func (g *Group) SetViewForDataset() error {
	for _, name := range g.order {
		if _, err := g.bufs[name].GetViewForDataset(); err != nil {
			return err
		}
	}
	return nil
}

// SetViewForPartition sets every buffer's view to the whole
// partition-bound storage.
func (g *Group) SetViewForPartition() error {
	for _, name := range g.order {
		if _, err := g.bufs[name].GetViewForPartition(); err != nil {
			return err
		}
	}
	return nil
}

// SetViewForTile sets every buffer's view to the tile spanning the
// unfiltered dataset flat-nav range [globalStart, globalEnd). The caller
// (PartitionRunner) is responsible for having already skipped tiles whose
// ROI popcount is zero.
func (g *Group) SetViewForTile(globalStart, globalEnd int64) error {
	for _, name := range g.order {
		if _, _, err := g.bufs[name].GetViewForTile(globalStart, globalEnd); err != nil {
			return err
		}
	}
	return nil
}

// SetContiguousViewForTile is SetViewForTile but requests a
// contiguity-guaranteed view from every buffer.
func (g *Group) SetContiguousViewForTile(globalStart, globalEnd int64) error {
	for _, name := range g.order {
		if _, _, err := g.bufs[name].GetContiguousViewForTile(globalStart, globalEnd); err != nil {
			return err
		}
	}
	return nil
}

// SetViewForFrame sets every buffer's view to the single frame at
// unfiltered dataset flat-nav index globalIdx.
func (g *Group) SetViewForFrame(globalIdx int64) error {
	for _, name := range g.order {
		if _, _, err := g.bufs[name].GetViewForFrame(globalIdx); err != nil {
			return err
		}
	}
	return nil
}

// ClearViews drops every buffer's current view.
func (g *Group) ClearViews() {
	for _, name := range g.order {
		g.bufs[name].ClearViews()
	}
}

// Flush propagates staged writes back into storage for every buffer.
// Mandatory after each partition.
func (g *Group) Flush() error {
	for _, name := range g.order {
		if err := g.bufs[name].Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Export finalizes every buffer in the group (see Buffer.Export) before
// ship-back.
func (g *Group) Export() error {
	for _, name := range g.order {
		if err := g.bufs[name].Export(); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a group with the same declared buffers, each
// independently copied (see Buffer.Clone), so later writes into the
// original group's storage cannot affect the clone.
func (g *Group) Clone() *Group {
	out := &Group{order: append([]string(nil), g.order...), bufs: make(map[string]*Buffer, len(g.bufs))}
	for name, b := range g.bufs {
		out.bufs[name] = b.Clone()
	}
	return out
}

// Proxy is an immutable name->array snapshot pinned to the group's
// current views, passed to a UDF's merge function.
type Proxy map[string][]float64

// Snapshot returns a Proxy over the group's current state.
func (g *Group) Snapshot() Proxy {
	p := make(Proxy, len(g.order))
	for _, name := range g.order {
		p[name] = g.Attr(name)
	}
	return p
}
