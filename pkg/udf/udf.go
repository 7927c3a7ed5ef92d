// Package udf defines the user-extension contract (spec §4.3): a UDF
// declares its result/aux buffers, supported backends, processing
// granularity, and optional lifecycle hooks. Dynamic dispatch across
// process_tile/process_frame/process_partition is represented as a tagged
// variant picked once at registration time (spec §9 design notes), via
// Go interface assertions rather than a runtime string switch.
package udf

import (
	"github.com/taimin-go/tiledreduce/pkg/buffer"
	"github.com/taimin-go/tiledreduce/pkg/collab"
	"github.com/taimin-go/tiledreduce/pkg/dtype"
	"github.com/taimin-go/tiledreduce/pkg/udfmeta"
)

// DeclaredBackend is a capability a UDF advertises via GetBackends: which
// execution substrates it can run on. This is the set intersected by the
// Dispatcher to resolve task resources (spec §4.5, §8 scenario 5).
type DeclaredBackend string

const (
	BackendCPU  DeclaredBackend = "cpu"
	BackendCUDA DeclaredBackend = "cuda"
	BackendCupy DeclaredBackend = "cupy"
)

// Tag is the backend a UDF instance is actually assigned for one
// partition (spec glossary "Backend tag"; spec §9 "reassigned on every
// partition... serialise with the task"). It is a different vocabulary
// from DeclaredBackend: a UDF declares capabilities, the runner assigns
// one concrete tag per run based on the worker's device class. See
// DESIGN.md for how the two vocabularies in spec.md §4.3/§4.4 are
// reconciled.
type Tag string

const (
	TagCPUNative    Tag = "cpu-native"
	TagCUDANative   Tag = "cuda-native"
	TagDeviceNative Tag = "device-native"
)

// Granularity is the processing unit a UDF declared by implementing
// exactly one of ProcessTile/ProcessFrame/ProcessPartition.
type Granularity uint8

const (
	GranularityTile Granularity = iota
	GranularityFrame
	GranularityPartition
)

func (g Granularity) String() string {
	switch g {
	case GranularityTile:
		return "tile"
	case GranularityFrame:
		return "frame"
	case GranularityPartition:
		return "partition"
	default:
		return "unknown"
	}
}

// UDF is the required surface every user reduction implements.
type UDF interface {
	// GetResultBuffers declares the buffers this UDF produces, sized and
	// typed according to meta. Must be deterministic and pure with
	// respect to params/meta: called on both coordinator (to size
	// globals) and worker (to size per-partition results).
	GetResultBuffers(meta *udfmeta.Meta) (*buffer.Group, error)
}

// Optional extension interfaces, asserted by the runner/dispatcher.

type TaskDataProvider interface {
	GetTaskData(meta *udfmeta.Meta) (map[string]interface{}, error)
}

type InputDTypePreference interface {
	GetPreferredInputDType() dtype.DType
}

type BackendDeclarer interface {
	GetBackends() []DeclaredBackend
}

type TilingPreferer interface {
	GetTilingPreferences() udfmeta.TilingPreferences
}

type Preprocessor interface {
	Preprocess(meta *udfmeta.Meta, params *buffer.Group) error
}

type Postprocessor interface {
	Postprocess(meta *udfmeta.Meta, results *buffer.Group) error
}

type Cleanup interface {
	Cleanup()
}

type Merger interface {
	Merge(meta *udfmeta.Meta, dest, src buffer.Proxy) error
}

// Exactly one of these must be implemented; Validate enforces it.

type TileProcessor interface {
	ProcessTile(meta *udfmeta.Meta, results *buffer.Group, tile collab.Tile) error
}

type FrameProcessor interface {
	ProcessFrame(meta *udfmeta.Meta, results *buffer.Group, frame collab.Frame) error
}

type PartitionProcessor interface {
	ProcessPartition(meta *udfmeta.Meta, results *buffer.Group, tile collab.Tile) error
}

// PreferredInputDType returns u's preferred dtype, defaulting to float32
// when u does not implement InputDTypePreference (spec §4.3).
func PreferredInputDType(u UDF) dtype.DType {
	if p, ok := u.(InputDTypePreference); ok {
		return p.GetPreferredInputDType()
	}
	return dtype.Float32
}

// Backends returns u's declared backend set, defaulting to {cpu-native's
// declared counterpart, "cpu"} when u does not implement BackendDeclarer.
func Backends(u UDF) []DeclaredBackend {
	if b, ok := u.(BackendDeclarer); ok {
		decl := b.GetBackends()
		if len(decl) == 0 {
			return []DeclaredBackend{BackendCPU}
		}
		return decl
	}
	return []DeclaredBackend{BackendCPU}
}

// TilingPreferencesOf returns u's tiling hints, or a zero value when u
// declares none.
func TilingPreferencesOf(u UDF) udfmeta.TilingPreferences {
	if t, ok := u.(TilingPreferer); ok {
		return t.GetTilingPreferences()
	}
	return udfmeta.TilingPreferences{}
}
