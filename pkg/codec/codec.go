// Package codec serializes episodes, patterns, heuristics, and
// embeddings into a compact binary format for the cache backend, with a
// per-type size ceiling enforced before a decode buffer is allocated.
package codec

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/jordigilh/episodic-memory/internal/apperrors"
	"github.com/jordigilh/episodic-memory/pkg/episode"
	"github.com/jordigilh/episodic-memory/pkg/pattern"
)

// Per-type size ceilings enforced by the cache backend's serialization
// contract. Exceeding these on decode fails with InvalidPayload rather
// than allocating an oversized buffer.
const (
	MaxEpisodeBytes   = 10 * 1024 * 1024
	MaxPatternBytes   = 1 * 1024 * 1024
	MaxHeuristicBytes = 100 * 1024
	MaxEmbeddingBytes = 1 * 1024 * 1024
)

var encMode = func() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

func encode(v interface{}, maxBytes int, kind string) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, apperrors.InvalidPayload(kind + " failed to encode").WithDetails(err.Error())
	}
	if len(data) > maxBytes {
		return nil, apperrors.InvalidPayloadf("%s payload of %d bytes exceeds the %d byte ceiling", kind, len(data), maxBytes)
	}
	return data, nil
}

func decode(data []byte, maxBytes int, kind string, out interface{}) error {
	if len(data) > maxBytes {
		return apperrors.InvalidPayloadf("%s payload of %d bytes exceeds the %d byte ceiling", kind, len(data), maxBytes)
	}
	if err := cbor.Unmarshal(data, out); err != nil {
		return apperrors.InvalidPayload(kind + " failed to decode").WithDetails(err.Error())
	}
	return nil
}

// EncodeEpisode serializes an Episode for the cache tier's
// episode:<uuid> key space.
func EncodeEpisode(ep *episode.Episode) ([]byte, error) {
	return encode(ep, MaxEpisodeBytes, "episode")
}

// DecodeEpisode deserializes a cached episode payload, rejecting
// payloads over MaxEpisodeBytes before unmarshaling.
func DecodeEpisode(data []byte) (*episode.Episode, error) {
	var ep episode.Episode
	if err := decode(data, MaxEpisodeBytes, "episode", &ep); err != nil {
		return nil, err
	}
	return &ep, nil
}

// EncodePattern serializes a Pattern for the cache tier's pattern:<uuid>
// key space.
func EncodePattern(p *pattern.Pattern) ([]byte, error) {
	return encode(p, MaxPatternBytes, "pattern")
}

// DecodePattern deserializes a cached pattern payload.
func DecodePattern(data []byte) (*pattern.Pattern, error) {
	var p pattern.Pattern
	if err := decode(data, MaxPatternBytes, "pattern", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// EncodeHeuristic serializes a Heuristic.
func EncodeHeuristic(h *pattern.Heuristic) ([]byte, error) {
	return encode(h, MaxHeuristicBytes, "heuristic")
}

// DecodeHeuristic deserializes a cached heuristic payload.
func DecodeHeuristic(data []byte) (*pattern.Heuristic, error) {
	var h pattern.Heuristic
	if err := decode(data, MaxHeuristicBytes, "heuristic", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// EncodeEmbedding serializes a dense embedding vector for the cache
// tier's embedding:<hash> key space.
func EncodeEmbedding(vec []float64) ([]byte, error) {
	return encode(vec, MaxEmbeddingBytes, "embedding")
}

// DecodeEmbedding deserializes a cached embedding payload.
func DecodeEmbedding(data []byte) ([]float64, error) {
	var vec []float64
	if err := decode(data, MaxEmbeddingBytes, "embedding", &vec); err != nil {
		return nil, err
	}
	return vec, nil
}
