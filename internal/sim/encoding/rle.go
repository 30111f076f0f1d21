package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// EncodeRLE encodes a sequence of small signed values into
// base64(varint pairs). The pairs are (value, run_len) repeated; values are
// zigzag-encoded so -1 (an empty cell) stays one byte.
func EncodeRLE(vals []int) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(vals) {
		v := vals[i]
		run := 1
		for j := i + 1; j < len(vals) && vals[j] == v; j++ {
			run++
		}

		n := binary.PutVarint(tmp[:], int64(v))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecodeRLE reverses EncodeRLE. want is the expected length; a stream that
// decodes to a different length is rejected.
func DecodeRLE(b64 string, want int) ([]int, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, want)
	for i := 0; i < len(raw); {
		v, n := binary.Varint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if run == 0 || uint64(len(out))+run > uint64(want) {
			return nil, fmt.Errorf("run of %d overflows length %d", run, want)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, int(v))
		}
	}
	if len(out) != want {
		return nil, fmt.Errorf("decoded %d values, want %d", len(out), want)
	}
	return out, nil
}
