package xgboost

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"strconv"

	filerrors "github.com/YuminosukeSato/fil/pkg/errors"
)

// maxUBJSONDepth bounds container nesting.
const maxUBJSONDepth = 64

// transcodeUBJSON rewrites the UBJSON value at the head of br as JSON text so
// that both save_model formats share one decoder. float32 values are printed
// in their shortest float32 form, which is the text XGBoost writes to JSON.
func transcodeUBJSON(br *bufio.Reader) ([]byte, error) {
	t := ubjTranscoder{r: br}
	m, err := t.marker()
	if err != nil {
		return nil, err
	}
	if err := t.value(m, 0); err != nil {
		return nil, err
	}
	return t.out.Bytes(), nil
}

type ubjTranscoder struct {
	r   *bufio.Reader
	out bytes.Buffer
	buf [8]byte
}

// marker reads the next type marker. No-op markers are skipped.
func (t *ubjTranscoder) marker() (byte, error) {
	for {
		b, err := t.r.ReadByte()
		if err != nil {
			return 0, unexpectedEOF(err)
		}
		if b != 'N' {
			return b, nil
		}
	}
}

func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (t *ubjTranscoder) value(m byte, depth int) error {
	switch m {
	case 'Z':
		t.out.WriteString("null")
	case 'T':
		t.out.WriteString("true")
	case 'F':
		t.out.WriteString("false")
	case 'i', 'U', 'I', 'l', 'L':
		v, err := t.integer(m)
		if err != nil {
			return err
		}
		t.out.WriteString(strconv.FormatInt(v, 10))
	case 'd':
		if _, err := io.ReadFull(t.r, t.buf[:4]); err != nil {
			return unexpectedEOF(err)
		}
		return t.float(float64(math.Float32frombits(binary.BigEndian.Uint32(t.buf[:4]))), 32)
	case 'D':
		if _, err := io.ReadFull(t.r, t.buf[:8]); err != nil {
			return unexpectedEOF(err)
		}
		return t.float(math.Float64frombits(binary.BigEndian.Uint64(t.buf[:8])), 64)
	case 'C':
		b, err := t.r.ReadByte()
		if err != nil {
			return unexpectedEOF(err)
		}
		t.str([]byte{b})
	case 'S':
		s, err := t.string()
		if err != nil {
			return err
		}
		t.str(s)
	case 'H':
		s, err := t.string()
		if err != nil {
			return err
		}
		if !json.Valid(s) {
			return filerrors.Newf("ubjson: invalid high-precision number %q", s)
		}
		t.out.Write(s)
	case '[':
		return t.array(depth + 1)
	case '{':
		return t.object(depth + 1)
	default:
		return filerrors.Newf("ubjson: unknown marker %q", m)
	}
	return nil
}

func (t *ubjTranscoder) integer(m byte) (int64, error) {
	var n int
	switch m {
	case 'i', 'U':
		n = 1
	case 'I':
		n = 2
	case 'l':
		n = 4
	case 'L':
		n = 8
	default:
		return 0, filerrors.Newf("ubjson: %q is not an integer marker", m)
	}
	b := t.buf[:n]
	if _, err := io.ReadFull(t.r, b); err != nil {
		return 0, unexpectedEOF(err)
	}
	switch m {
	case 'i':
		return int64(int8(b[0])), nil
	case 'U':
		return int64(b[0]), nil
	case 'I':
		return int64(int16(binary.BigEndian.Uint16(b))), nil
	case 'l':
		return int64(int32(binary.BigEndian.Uint32(b))), nil
	default:
		return int64(binary.BigEndian.Uint64(b)), nil
	}
}

func (t *ubjTranscoder) float(v float64, bits int) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return filerrors.Newf("ubjson: non-finite number %v", v)
	}
	t.out.WriteString(strconv.FormatFloat(v, 'g', -1, bits))
	return nil
}

// lengthOf decodes a string length or container count whose marker is m.
func (t *ubjTranscoder) lengthOf(m byte) (int, error) {
	v, err := t.integer(m)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > math.MaxInt32 {
		return 0, filerrors.Newf("ubjson: invalid length %d", v)
	}
	return int(v), nil
}

func (t *ubjTranscoder) length() (int, error) {
	m, err := t.marker()
	if err != nil {
		return 0, err
	}
	return t.lengthOf(m)
}

func (t *ubjTranscoder) bytes(n int) ([]byte, error) {
	// grows with the data actually present, not with the declared length
	var sb bytes.Buffer
	if _, err := io.CopyN(&sb, t.r, int64(n)); err != nil {
		return nil, unexpectedEOF(err)
	}
	return sb.Bytes(), nil
}

func (t *ubjTranscoder) string() ([]byte, error) {
	n, err := t.length()
	if err != nil {
		return nil, err
	}
	return t.bytes(n)
}

func (t *ubjTranscoder) str(s []byte) {
	enc, _ := json.Marshal(string(s))
	t.out.Write(enc)
}

// header reads the optional $type and #count of an optimized container.
// count is -1 for containers closed by their end marker.
func (t *ubjTranscoder) header() (elem byte, count int, err error) {
	count = -1
	p, err := t.r.Peek(1)
	if err != nil {
		return 0, 0, unexpectedEOF(err)
	}
	if p[0] == '$' {
		_, _ = t.r.ReadByte()
		if elem, err = t.r.ReadByte(); err != nil {
			return 0, 0, unexpectedEOF(err)
		}
		if p, err = t.r.Peek(1); err != nil {
			return 0, 0, unexpectedEOF(err)
		}
		if p[0] != '#' {
			return 0, 0, filerrors.New("ubjson: typed container without a count")
		}
	}
	if p[0] == '#' {
		_, _ = t.r.ReadByte()
		if count, err = t.length(); err != nil {
			return 0, 0, err
		}
	}
	return elem, count, nil
}

func (t *ubjTranscoder) array(depth int) error {
	if depth > maxUBJSONDepth {
		return filerrors.Newf("ubjson: nesting deeper than %d", maxUBJSONDepth)
	}
	elem, count, err := t.header()
	if err != nil {
		return err
	}
	t.out.WriteByte('[')
	for i := 0; count < 0 || i < count; i++ {
		m := elem
		if m == 0 {
			if m, err = t.marker(); err != nil {
				return err
			}
			if count < 0 && m == ']' {
				break
			}
		}
		if i > 0 {
			t.out.WriteByte(',')
		}
		if err := t.value(m, depth); err != nil {
			return err
		}
	}
	t.out.WriteByte(']')
	return nil
}

func (t *ubjTranscoder) object(depth int) error {
	if depth > maxUBJSONDepth {
		return filerrors.Newf("ubjson: nesting deeper than %d", maxUBJSONDepth)
	}
	elem, count, err := t.header()
	if err != nil {
		return err
	}
	t.out.WriteByte('{')
	for i := 0; count < 0 || i < count; i++ {
		m, err := t.marker()
		if err != nil {
			return err
		}
		if count < 0 && m == '}' {
			break
		}
		n, err := t.lengthOf(m)
		if err != nil {
			return err
		}
		key, err := t.bytes(n)
		if err != nil {
			return err
		}
		if i > 0 {
			t.out.WriteByte(',')
		}
		t.str(key)
		t.out.WriteByte(':')

		m = elem
		if m == 0 {
			if m, err = t.marker(); err != nil {
				return err
			}
		}
		if err := t.value(m, depth); err != nil {
			return err
		}
	}
	t.out.WriteByte('}')
	return nil
}
