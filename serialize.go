package tiledreduce

import (
	"bytes"
	"encoding/gob"
	"strconv"

	"github.com/dgryski/go-farm"
	"github.com/klauspost/compress/zstd"

	"github.com/taimin-go/tiledreduce/pkg/buffer"
	"github.com/taimin-go/tiledreduce/pkg/engerrors"
)

// EncodeEnvelope gob-encodes and zstd-compresses e, the wire format an
// Executor collaborator receives for a Task (spec §6 "Tasks must be
// serialisable").
func EncodeEnvelope(e Envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return compressBytes(buf.Bytes())
}

// DecodeEnvelope reverses EncodeEnvelope.
func DecodeEnvelope(packed []byte) (Envelope, error) {
	raw, err := decompressBytes(packed)
	if err != nil {
		return Envelope{}, err
	}
	var e Envelope
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// EncodeResult gob-encodes and zstd-compresses a finalized partition's
// per-udf result proxies, the wire format an Executor returns for a Task
// (spec §6 "results likewise" serialisable).
func EncodeResult(partials []buffer.Proxy) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(partials); err != nil {
		return nil, err
	}
	return compressBytes(buf.Bytes())
}

// DecodeResult reverses EncodeResult.
func DecodeResult(packed []byte) ([]buffer.Proxy, error) {
	raw, err := decompressBytes(packed)
	if err != nil {
		return nil, err
	}
	var partials []buffer.Proxy
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&partials); err != nil {
		return nil, err
	}
	return partials, nil
}

// SelfTest round-trips a Task's Envelope through gob encoding and zstd
// compression, failing if the decoded Index, CancelID or any ROI bit
// differs from the original; Backends and Corrections are not compared
// (spec §7 SerializationError, §9 "pickling self-test...
// to catch non-serialisable user state; not required on the hot path").
// It never runs on the hot path; callers opt in (e.g. from a debug flag).
func SelfTest(t Task) error {
	env := envelopeOf(t)

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return engerrors.Serialization(err)
	}

	packed, err := compressBytes(buf.Bytes())
	if err != nil {
		return engerrors.Serialization(err)
	}
	raw, err := decompressBytes(packed)
	if err != nil {
		return engerrors.Serialization(err)
	}

	var decoded Envelope
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&decoded); err != nil {
		return engerrors.Serialization(err)
	}
	if decoded.Index != env.Index || decoded.CancelID != env.CancelID || len(decoded.ROIBits) != len(env.ROIBits) {
		return engerrors.Serialization(engerrors.NotImplementedf("task %d: envelope round-trip mismatch", env.Index))
	}
	for i := range env.ROIBits {
		if env.ROIBits[i] != decoded.ROIBits[i] {
			return engerrors.Serialization(engerrors.NotImplementedf("task %d: roi bit %d mismatch after round-trip", env.Index, i))
		}
	}
	return nil
}

// compressBytes wraps src in a zstd frame, used to keep shipped result
// buffers and task envelopes small over the executor's transport (spec
// §6 Executor "results likewise" serialisable).
func compressBytes(src []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(src, nil), nil
}

func decompressBytes(src []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(src, nil)
}

// taskKey returns a stable hash identifying a task's identity (its
// dispatch index and cancel scope), used by the dispatcher to tag
// in-flight tasks in its debug log output without repeatedly formatting
// the full envelope. farm.Hash64 is the same fast string hash the
// retrieval pack's grailbio-bio manifest pulls in for this kind of
// non-cryptographic keying.
func taskKey(t Task) uint64 {
	return farm.Hash64([]byte(t.CancelID + ":" + strconv.Itoa(t.Index)))
}
