package backup

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressionManager_NewCompressionManager(t *testing.T) {
	cm := NewCompressionManager()

	require.NotNil(t, cm)
	for _, alg := range []CompressionType{CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeZstd} {
		_, ok := cm.compressors[alg]
		assert.True(t, ok, "Algorithm %s should be registered", alg)
	}
}

func TestCompressionManager_Compress_None(t *testing.T) {
	cm := NewCompressionManager()
	testData := []byte("test data for compression")

	compressed, stats, err := cm.Compress(testData, CompressionTypeNone)

	require.NoError(t, err)
	assert.Equal(t, testData, compressed)
	assert.Equal(t, int64(len(testData)), stats.OriginalSize)
	assert.Equal(t, int64(len(testData)), stats.CompressedSize)
	assert.Equal(t, 1.0, stats.CompressionRatio)
	assert.Equal(t, CompressionTypeNone, stats.Algorithm)
}

func TestCompressionManager_Compress_UnsupportedAlgorithm(t *testing.T) {
	cm := NewCompressionManager()

	_, _, err := cm.Compress([]byte("test data"), CompressionType("INVALID"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported compression algorithm")
	assert.True(t, hasType(err, BackupErrorTypeCompression))
}

func TestCompressionManager_RoundTripAndDetection(t *testing.T) {
	cm := NewCompressionManager()
	testData := []byte(strings.Repeat(`{"name":"general","type":0,"position":1},`, 200))

	for _, alg := range []CompressionType{CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeZstd} {
		t.Run(string(alg), func(t *testing.T) {
			compressed, stats, err := cm.Compress(testData, alg)
			require.NoError(t, err)
			assert.Less(t, stats.CompressedSize, stats.OriginalSize)
			assert.Equal(t, alg, DetectCompression(compressed))

			decompressed, detected, err := cm.Decompress(compressed)
			require.NoError(t, err)
			assert.Equal(t, alg, detected)
			assert.Equal(t, testData, decompressed)
		})
	}
}

func TestCompressionManager_Decompress_PlainPassthrough(t *testing.T) {
	cm := NewCompressionManager()
	plain := []byte(`{"backupId":"ABC"}`)

	out, alg, err := cm.Decompress(plain)

	require.NoError(t, err)
	assert.Equal(t, CompressionTypeNone, alg)
	assert.Equal(t, plain, out)
}

func TestCompressionManager_Decompress_Corrupted(t *testing.T) {
	cm := NewCompressionManager()
	corrupted := append(append([]byte{}, zstdMagic...), bytes.Repeat([]byte{0xff}, 32)...)

	_, _, err := cm.Decompress(corrupted)

	require.Error(t, err)
	assert.True(t, hasType(err, BackupErrorTypeCompression))
}

func TestParseCompressionType(t *testing.T) {
	tests := []struct {
		input   string
		want    CompressionType
		wantErr bool
	}{
		{"", CompressionTypeZstd, false},
		{"zstd", CompressionTypeZstd, false},
		{"Gzip", CompressionTypeGzip, false},
		{" lz4 ", CompressionTypeLZ4, false},
		{"none", CompressionTypeNone, false},
		{"brotli", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCompressionType(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseCompressionType(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseCompressionType(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestCalculateCompressionRatio(t *testing.T) {
	assert.Equal(t, 1.0, CalculateCompressionRatio(0, 0))
	assert.Equal(t, 0.25, CalculateCompressionRatio(100, 25))
}
