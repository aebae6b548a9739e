package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how a framed payload body is compressed. The
// values are written into stored payloads and must not change.
type Compression uint8

const (
	// CompressionNone stores the CBOR body as is.
	CompressionNone Compression = 0

	// CompressionLZ4 is block-mode LZ4. Fast, modest ratio.
	CompressionLZ4 Compression = 1

	// CompressionZstd is zstd at the default level. Best ratio for the
	// text-heavy snapshots this package stores.
	CompressionZstd Compression = 2
)

// frameVersion is the first byte of every framed payload.
const frameVersion byte = 1

// ErrCorrupt is returned when a framed payload cannot be decoded.
var ErrCorrupt = errors.New("codec: corrupt payload")

var errIncompressible = errors.New("codec: incompressible")

// String returns the configuration name of c.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a configuration name. The empty string means zstd.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "none":
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("codec: unknown compression %q", name)
	}
}

// MarshalText implements encoding.TextMarshaler for config files.
func (c Compression) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for config files.
func (c *Compression) UnmarshalText(text []byte) error {
	parsed, err := ParseCompression(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Encode marshals v to CBOR and frames it as
//
//	version(1) | compression(1) | uvarint(len(cbor)) | body
//
// If compression does not shrink the body it is stored uncompressed, so
// the tag in the frame may differ from the requested one.
func Encode(v any, compression Compression) ([]byte, error) {
	raw, err := Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}

	body, used, err := compress(raw, compression)
	if err != nil {
		return nil, err
	}

	header := make([]byte, 2, 2+binary.MaxVarintLen64+len(body))
	header[0] = frameVersion
	header[1] = byte(used)
	header = binary.AppendUvarint(header, uint64(len(raw)))
	return append(header, body...), nil
}

// Decode reverses Encode.
func Decode(data []byte, v any) error {
	raw, err := Unframe(data)
	if err != nil {
		return err
	}
	if err := Unmarshal(raw, v); err != nil {
		return fmt.Errorf("codec: unmarshal: %w", err)
	}
	return nil
}

// Unframe returns the decompressed CBOR body of a framed payload.
func Unframe(data []byte) ([]byte, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorrupt, len(data))
	}
	if data[0] != frameVersion {
		return nil, fmt.Errorf("%w: version %d", ErrCorrupt, data[0])
	}
	compression := Compression(data[1])
	size, n := binary.Uvarint(data[2:])
	if n <= 0 {
		return nil, fmt.Errorf("%w: bad length", ErrCorrupt)
	}
	return decompress(data[2+n:], compression, int(size))
}

// FrameCompression reports the compression recorded in a framed payload.
func FrameCompression(data []byte) (Compression, bool) {
	if len(data) < 2 || data[0] != frameVersion {
		return 0, false
	}
	return Compression(data[1]), true
}

func compress(data []byte, compression Compression) ([]byte, Compression, error) {
	var (
		out []byte
		err error
	)
	switch compression {
	case CompressionNone:
		return data, CompressionNone, nil
	case CompressionLZ4:
		out, err = compressLZ4(data)
	case CompressionZstd:
		out, err = compressZstd(data)
	default:
		return nil, 0, fmt.Errorf("codec: unsupported compression %d", compression)
	}
	if errors.Is(err, errIncompressible) {
		return data, CompressionNone, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return out, compression, nil
}

func decompress(body []byte, compression Compression, size int) ([]byte, error) {
	switch compression {
	case CompressionNone:
		if len(body) != size {
			return nil, fmt.Errorf("%w: size %d does not match expected %d", ErrCorrupt, len(body), size)
		}
		return body, nil
	case CompressionLZ4:
		return decompressLZ4(body, size)
	case CompressionZstd:
		return decompressZstd(body, size)
	default:
		return nil, fmt.Errorf("%w: compression %d", ErrCorrupt, compression)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("codec: lz4 compress: %w", err)
	}
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
	}
	if read != size {
		return nil, fmt.Errorf("%w: lz4 got %d bytes, expected %d", ErrCorrupt, read, size)
	}
	return destination, nil
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
	}
	if len(out) != size {
		return nil, fmt.Errorf("%w: zstd got %d bytes, expected %d", ErrCorrupt, len(out), size)
	}
	return out, nil
}
