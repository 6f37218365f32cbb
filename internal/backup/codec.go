package backup

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns documents into archives: encode, compress, then encrypt.
type Codec struct {
	config      CodecConfig
	compression *CompressionManager
	encryption  *EncryptionManager
}

// NewCodec creates a codec. A nil encryption config disables sealing.
func NewCodec(config CodecConfig, encryption *EncryptionConfig) *Codec {
	config.SetDefaults()
	return &Codec{
		config:      config,
		compression: NewCompressionManager(),
		encryption:  NewEncryptionManager(encryption),
	}
}

// Encode serializes v into an archive
func (c *Codec) Encode(v interface{}) ([]byte, error) {
	payload, err := c.marshal(v)
	if err != nil {
		return nil, err
	}

	compressed, _, err := c.compression.Compress(payload, c.config.Compression)
	if err != nil {
		return nil, err
	}

	return c.encryption.Encrypt(compressed)
}

// Decode reverses Encode. Compression and encoding are detected from the
// archive, so archives written under a different configuration still load.
func (c *Codec) Decode(data []byte, v interface{}) error {
	plain, err := c.encryption.Decrypt(data)
	if err != nil {
		return err
	}

	payload, _, err := c.compression.Decompress(plain)
	if err != nil {
		return err
	}

	switch detectEncoding(payload) {
	case EncodingJSON:
		if err := json.Unmarshal(payload, v); err != nil {
			return NewCorruptionError("failed to decode JSON document", err)
		}
	case EncodingMsgpack:
		dec := msgpack.NewDecoder(bytes.NewReader(payload))
		dec.SetCustomStructTag("json")
		if err := dec.Decode(v); err != nil {
			return NewCorruptionError("failed to decode msgpack document", err)
		}
	default:
		return NewCorruptionError("unrecognized document encoding", nil)
	}
	return nil
}

func (c *Codec) marshal(v interface{}) ([]byte, error) {
	switch c.config.Encoding {
	case EncodingJSON:
		out, err := json.Marshal(v)
		if err != nil {
			return nil, NewValidationError("failed to encode document as JSON", err)
		}
		return out, nil
	case EncodingMsgpack:
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(v); err != nil {
			return nil, NewValidationError("failed to encode document as msgpack", err)
		}
		return buf.Bytes(), nil
	}
	return nil, NewConfigurationError(fmt.Sprintf("unsupported encoding: %s", c.config.Encoding), nil)
}

func detectEncoding(payload []byte) Encoding {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	if len(trimmed) == 0 {
		return ""
	}
	b := trimmed[0]
	switch {
	case b == '{':
		return EncodingJSON
	case b >= 0x80 && b <= 0x8f, b == 0xde, b == 0xdf:
		return EncodingMsgpack
	}
	return ""
}
