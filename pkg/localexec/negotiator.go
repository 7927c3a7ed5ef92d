package localexec

import (
	"context"

	"github.com/taimin-go/tiledreduce/pkg/collab"
	"github.com/taimin-go/tiledreduce/pkg/udfmeta"
)

// Negotiator picks the minimum depth across every UDF's tiling
// preference (the most conservative choice honors every hint as a soft
// upper bound), defaulting to defaultTileDepth when no UDF expresses one.
type Negotiator struct{}

func (Negotiator) Negotiate(ctx context.Context, req collab.NegotiationRequest) (*udfmeta.TilingScheme, error) {
	depth := 0
	var total int64
	for _, p := range req.Preferences {
		if p.Depth > 0 && (depth == 0 || p.Depth < depth) {
			depth = p.Depth
		}
		if p.TotalSize > total {
			total = p.TotalSize
		}
	}
	if depth == 0 {
		depth = defaultTileDepth
	}
	return &udfmeta.TilingScheme{Depth: depth, TotalSize: total}, nil
}
