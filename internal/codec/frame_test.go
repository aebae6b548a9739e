package codec

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
)

type payload struct {
	Name  string   `cbor:"name"`
	Lines []string `cbor:"lines"`
	Count int      `cbor:"count"`
}

func samplePayload() payload {
	lines := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		lines = append(lines, strings.Repeat("repeated content line ", 4))
	}
	return payload{Name: "session-1", Lines: lines, Count: 50}
}

func TestEncodeDecode(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			in := samplePayload()
			data, err := Encode(in, c)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if got, _ := FrameCompression(data); got != c {
				t.Errorf("FrameCompression() = %v, want %v", got, c)
			}

			var out payload
			if err := Decode(data, &out); err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !reflect.DeepEqual(in, out) {
				t.Errorf("Decode() = %+v, want %+v", out, in)
			}
		})
	}
}

func TestEncodeDeterministic(t *testing.T) {
	a, err := Encode(map[string]int{"b": 2, "a": 1, "c": 3}, CompressionZstd)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encode(map[string]int{"c": 3, "a": 1, "b": 2}, CompressionZstd)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("Encode() is not deterministic across map orderings")
	}
}

func TestEncodeIncompressibleFallsBack(t *testing.T) {
	data, err := Encode(payload{Name: "x"}, CompressionZstd)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := FrameCompression(data); got != CompressionNone {
		t.Errorf("FrameCompression() = %v, want none for tiny payload", got)
	}
	var out payload
	if err := Decode(data, &out); err != nil || out.Name != "x" {
		t.Errorf("Decode() = %+v, %v", out, err)
	}
}

func TestDecodeCorrupt(t *testing.T) {
	good, err := Encode(samplePayload(), CompressionZstd)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte{frameVersion}},
		{"bad version", append([]byte{9}, good[1:]...)},
		{"bad compression", append([]byte{frameVersion, 7}, good[2:]...)},
		{"truncated body", good[:len(good)-5]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out payload
			if err := Decode(tt.data, &out); !errors.Is(err, ErrCorrupt) {
				t.Errorf("Decode() error = %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in      string
		want    Compression
		wantErr bool
	}{
		{"", CompressionZstd, false},
		{"zstd", CompressionZstd, false},
		{"lz4", CompressionLZ4, false},
		{"none", CompressionNone, false},
		{"gzip", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseCompression(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCompression(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCompression(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
