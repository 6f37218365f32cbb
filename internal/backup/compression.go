package backup

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType names a compression algorithm
type CompressionType string

const (
	CompressionTypeNone CompressionType = "NONE"
	CompressionTypeGzip CompressionType = "GZIP"
	CompressionTypeLZ4  CompressionType = "LZ4"
	CompressionTypeZstd CompressionType = "ZSTD"
)

// ParseCompressionType accepts any casing of a known algorithm name
func ParseCompressionType(s string) (CompressionType, error) {
	t := CompressionType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case CompressionTypeNone, CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeZstd:
		return t, nil
	case "":
		return CompressionTypeZstd, nil
	}
	return "", NewConfigurationError(fmt.Sprintf("unsupported compression algorithm: %s", s), nil)
}

var (
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
	gzipMagic = []byte{0x1F, 0x8B}
	lz4Magic  = []byte{0x04, 0x22, 0x4D, 0x18}
)

// DetectCompression identifies the algorithm from the stream's magic bytes
func DetectCompression(data []byte) CompressionType {
	switch {
	case bytes.HasPrefix(data, zstdMagic):
		return CompressionTypeZstd
	case bytes.HasPrefix(data, gzipMagic):
		return CompressionTypeGzip
	case bytes.HasPrefix(data, lz4Magic):
		return CompressionTypeLZ4
	default:
		return CompressionTypeNone
	}
}

// CompressionStats contains statistics about compression operations
type CompressionStats struct {
	OriginalSize     int64           `json:"original_size"`
	CompressedSize   int64           `json:"compressed_size"`
	CompressionRatio float64         `json:"compression_ratio"`
	Algorithm        CompressionType `json:"algorithm"`
	Duration         time.Duration   `json:"duration"`
}

// Compressor compresses at the algorithm's maximum ratio
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Algorithm() CompressionType
}

// CompressionManager dispatches to the registered compressors
type CompressionManager struct {
	compressors map[CompressionType]Compressor
}

// NewCompressionManager creates a new compression manager
func NewCompressionManager() *CompressionManager {
	cm := &CompressionManager{compressors: make(map[CompressionType]Compressor)}
	for _, c := range []Compressor{&GzipCompressor{}, &LZ4Compressor{}, &ZstdCompressor{}} {
		cm.compressors[c.Algorithm()] = c
	}
	return cm
}

// Compress compresses data with the given algorithm
func (cm *CompressionManager) Compress(data []byte, algorithm CompressionType) ([]byte, *CompressionStats, error) {
	start := time.Now()
	out := data

	if algorithm != CompressionTypeNone {
		compressor, ok := cm.compressors[algorithm]
		if !ok {
			return nil, nil, NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
		}
		var err error
		if out, err = compressor.Compress(data); err != nil {
			return nil, nil, err
		}
	}

	return out, &CompressionStats{
		OriginalSize:     int64(len(data)),
		CompressedSize:   int64(len(out)),
		CompressionRatio: CalculateCompressionRatio(int64(len(data)), int64(len(out))),
		Algorithm:        algorithm,
		Duration:         time.Since(start),
	}, nil
}

// Decompress detects the algorithm from data and reverses it
func (cm *CompressionManager) Decompress(data []byte) ([]byte, CompressionType, error) {
	algorithm := DetectCompression(data)
	if algorithm == CompressionTypeNone {
		return data, algorithm, nil
	}

	out, err := cm.compressors[algorithm].Decompress(data)
	return out, algorithm, err
}

// CalculateCompressionRatio calculates the compression ratio
func CalculateCompressionRatio(originalSize, compressedSize int64) float64 {
	if originalSize == 0 {
		return 1.0
	}
	return float64(compressedSize) / float64(originalSize)
}

// GzipCompressor implements gzip compression
type GzipCompressor struct{}

func (gc *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, NewCompressionError("failed to create gzip writer", err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, NewCompressionError("failed to write data to gzip writer", err)
	}
	if err := writer.Close(); err != nil {
		return nil, NewCompressionError("failed to close gzip writer", err)
	}
	return buf.Bytes(), nil
}

func (gc *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, NewCompressionError("failed to create gzip reader", err)
	}
	defer reader.Close()

	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, NewCompressionError("failed to decompress gzip data", err)
	}
	return out, nil
}

func (gc *GzipCompressor) Algorithm() CompressionType { return CompressionTypeGzip }

// LZ4Compressor implements LZ4 frame compression
type LZ4Compressor struct{}

func (lc *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := lz4.NewWriter(&buf)
	if err := writer.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
		return nil, NewCompressionError("failed to set LZ4 compression level", err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, NewCompressionError("failed to write data to LZ4 writer", err)
	}
	if err := writer.Close(); err != nil {
		return nil, NewCompressionError("failed to close LZ4 writer", err)
	}
	return buf.Bytes(), nil
}

func (lc *LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, NewCompressionError("failed to decompress LZ4 data", err)
	}
	return out, nil
}

func (lc *LZ4Compressor) Algorithm() CompressionType { return CompressionTypeLZ4 }

// ZstdCompressor implements Zstandard compression
type ZstdCompressor struct{}

func (zc *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, NewCompressionError("failed to create zstd encoder", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, make([]byte, 0, len(data)/4)), nil
}

func (zc *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, NewCompressionError("failed to create zstd decoder", err)
	}
	defer decoder.Close()

	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, NewCompressionError("failed to decompress zstd data", err)
	}
	return out, nil
}

func (zc *ZstdCompressor) Algorithm() CompressionType { return CompressionTypeZstd }
