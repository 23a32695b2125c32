package vector

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hyperjump/shiori/internal/errs"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// File layout (little-endian):
//
//	magic "SHVX" | version u16 | codec u8 | reserved u8 | dims u32 | bodyLen u64 | crc32 u32 | payload
//
// payload is the compressed body:
//
//	nextSeq u64 | type u8 | nlist u32 | nlist*dims f32 | count u32 | count*(seq u64, idLen u16, id, dims*f32)
//
// Only live entries are written, in insertion order.
const (
	FormatVersion uint16 = 1
	headerSize           = 4 + 2 + 1 + 1 + 4 + 8 + 4
	// maxBodyLen guards allocation when a header is damaged.
	maxBodyLen = 1 << 36
)

var magic = [4]byte{'S', 'H', 'V', 'X'}

// Compression selects the body codec.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

var codecIDs = map[Compression]uint8{CompressionNone: 0, CompressionZstd: 1, CompressionLZ4: 2}

var typeIDs = map[IndexType]uint8{IndexTypeAuto: 0, IndexTypeFlat: 1, IndexTypeIVF: 2}

// ParseCompression validates a configured codec name.
func ParseCompression(s string) (Compression, error) {
	c := Compression(s)
	if s == "" {
		return CompressionZstd, nil
	}
	if _, ok := codecIDs[c]; !ok {
		return "", fmt.Errorf("unknown compression %q (supported: none, zstd, lz4)", s)
	}
	return c, nil
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return zstdEnc, zstdDec, zstdErr
}

// Save writes the index to path atomically (temporary file, then rename).
func (m *MemoryIndex) Save(path string) error {
	m.mu.RLock()
	body := m.encodeBodyLocked()
	codec := m.opts.Compression
	m.mu.RUnlock()

	payload, err := compress(codec, body)
	if err != nil {
		return fmt.Errorf("failed to compress index: %w", err)
	}

	var header [headerSize]byte
	copy(header[0:4], magic[:])
	binary.LittleEndian.PutUint16(header[4:6], FormatVersion)
	header[6] = codecIDs[codec]
	binary.LittleEndian.PutUint32(header[8:12], uint32(m.dimensions))
	binary.LittleEndian.PutUint64(header[12:20], uint64(len(body)))
	binary.LittleEndian.PutUint32(header[20:24], crc32.ChecksumIEEE(body))

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if _, err := f.Write(header[:]); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write index header: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write index body: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync index file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename index file: %w", err)
	}
	return nil
}

func (m *MemoryIndex) encodeBodyLocked() []byte {
	var buf bytes.Buffer
	le := binary.LittleEndian
	var scratch [8]byte

	le.PutUint64(scratch[:], m.nextSeq)
	buf.Write(scratch[:8])
	buf.WriteByte(typeIDs[m.opts.Type])

	var centroids [][]float32
	if m.ivf != nil {
		centroids = m.ivf.centroids
	}
	le.PutUint32(scratch[:4], uint32(len(centroids)))
	buf.Write(scratch[:4])
	for _, c := range centroids {
		writeFloats(&buf, c)
	}

	le.PutUint32(scratch[:4], uint32(len(m.slots)))
	buf.Write(scratch[:4])
	for slot, e := range m.entries {
		if m.tombstones.Contains(uint32(slot)) {
			continue
		}
		le.PutUint64(scratch[:], e.seq)
		buf.Write(scratch[:8])
		le.PutUint16(scratch[:2], uint16(len(e.id)))
		buf.Write(scratch[:2])
		buf.WriteString(e.id)
		writeFloats(&buf, e.vec)
	}
	return buf.Bytes()
}

func writeFloats(buf *bytes.Buffer, v []float32) {
	var b [4]byte
	for _, x := range v {
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(x))
		buf.Write(b[:])
	}
}

// Load replaces the contents of m with the index stored at path. The file must
// have been written with the same dimension.
func (m *MemoryIndex) Load(path string) error {
	loaded, err := ReadFile(path, m.dimensions, withOptions(m.opts))
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = loaded.entries
	m.slots = loaded.slots
	m.tombstones = loaded.tombstones
	m.nextSeq = loaded.nextSeq
	m.ivf = loaded.ivf
	return nil
}

func withOptions(o Options) Option {
	return func(dst *Options) { *dst = o }
}

// ReadFile loads an index from path. A positive dims must match the stored
// dimension. Damaged, truncated, foreign or future-version files fail with a
// *errs.CorruptIndexError; a missing file returns the os error unchanged.
func ReadFile(path string, dims int, opts ...Option) (*MemoryIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < headerSize {
		return nil, errs.Corrupt(path, "file shorter than header", io.ErrUnexpectedEOF)
	}
	if !bytes.Equal(data[0:4], magic[:]) {
		return nil, errs.Corrupt(path, "bad magic", nil)
	}
	le := binary.LittleEndian
	if v := le.Uint16(data[4:6]); v != FormatVersion {
		return nil, errs.Corrupt(path, fmt.Sprintf("unsupported format version %d", v), nil)
	}
	var codec Compression
	for c, id := range codecIDs {
		if id == data[6] {
			codec = c
		}
	}
	if codec == "" {
		return nil, errs.Corrupt(path, fmt.Sprintf("unknown codec %d", data[6]), nil)
	}
	storedDims := int(le.Uint32(data[8:12]))
	if storedDims <= 0 {
		return nil, errs.Corrupt(path, "invalid dimension", nil)
	}
	if dims > 0 && storedDims != dims {
		return nil, errs.Corrupt(path, "dimension differs from configuration",
			&errs.DimensionMismatchError{Expected: dims, Actual: storedDims})
	}
	bodyLen := le.Uint64(data[12:20])
	if bodyLen > maxBodyLen {
		return nil, errs.Corrupt(path, "implausible body length", nil)
	}
	sum := le.Uint32(data[20:24])

	hint := int(bodyLen)
	if limit := 16*(len(data)-headerSize) + 1024; hint > limit {
		hint = limit
	}
	body, err := decompress(codec, data[headerSize:], hint)
	if err != nil {
		return nil, errs.Corrupt(path, "decompress body", err)
	}
	if uint64(len(body)) != bodyLen {
		return nil, errs.Corrupt(path, "body length mismatch", nil)
	}
	if crc32.ChecksumIEEE(body) != sum {
		return nil, errs.Corrupt(path, "checksum mismatch", nil)
	}

	m, err := NewMemoryIndex(storedDims, opts...)
	if err != nil {
		return nil, err
	}
	if err := m.decodeBody(body); err != nil {
		return nil, errs.Corrupt(path, "decode body", err)
	}
	if opts == nil {
		m.opts.Compression = codec
		for t, id := range typeIDs {
			if id == m.storedType {
				m.opts.Type = t
			}
		}
	}
	return m, nil
}

type reader struct {
	b   []byte
	off int
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.b) {
		return nil, io.ErrUnexpectedEOF
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *reader) floats(dims int) ([]float32, error) {
	b, err := r.take(dims * 4)
	if err != nil {
		return nil, err
	}
	out := make([]float32, dims)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

func (m *MemoryIndex) decodeBody(body []byte) error {
	le := binary.LittleEndian
	r := &reader{b: body}

	b, err := r.take(8 + 1 + 4)
	if err != nil {
		return err
	}
	m.nextSeq = le.Uint64(b[0:8])
	m.storedType = b[8]
	nlist := int(le.Uint32(b[9:13]))
	if nlist > len(body)/(4*m.dimensions) {
		return fmt.Errorf("implausible list count %d", nlist)
	}
	var centroids [][]float32
	for i := 0; i < nlist; i++ {
		c, err := r.floats(m.dimensions)
		if err != nil {
			return err
		}
		centroids = append(centroids, c)
	}

	b, err = r.take(4)
	if err != nil {
		return err
	}
	count := int(le.Uint32(b))
	m.entries = make([]entry, 0, min(count, len(body)/(4*m.dimensions)+1))
	m.slots = make(map[string]uint32, len(m.entries))
	m.tombstones = roaring.New()
	var lastSeq uint64
	for i := 0; i < count; i++ {
		b, err := r.take(10)
		if err != nil {
			return err
		}
		seq := le.Uint64(b[0:8])
		idLen := int(le.Uint16(b[8:10]))
		if i > 0 && seq <= lastSeq {
			return fmt.Errorf("entries out of order at %d", i)
		}
		if seq >= m.nextSeq {
			return fmt.Errorf("entry sequence %d beyond next %d", seq, m.nextSeq)
		}
		lastSeq = seq
		idb, err := r.take(idLen)
		if err != nil {
			return err
		}
		vec, err := r.floats(m.dimensions)
		if err != nil {
			return err
		}
		id := string(idb)
		if _, dup := m.slots[id]; dup {
			return fmt.Errorf("duplicate id %q", id)
		}
		m.slots[id] = uint32(len(m.entries))
		m.entries = append(m.entries, entry{id: id, seq: seq, vec: vec})
	}
	if r.off != len(body) {
		return fmt.Errorf("%d trailing bytes", len(body)-r.off)
	}

	if len(centroids) > 0 {
		f := newIVF(centroids)
		for slot := range m.entries {
			f.add(uint32(slot), m.entries[slot].vec)
		}
		f.trainedOn = len(m.entries)
		m.ivf = f
	}
	return nil
}

func compress(codec Compression, body []byte) ([]byte, error) {
	switch codec {
	case CompressionNone:
		return body, nil
	case CompressionZstd:
		enc, _, err := zstdCodec()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(body, make([]byte, 0, len(body)/2)), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", codec)
	}
}

func decompress(codec Compression, payload []byte, sizeHint int) ([]byte, error) {
	switch codec {
	case CompressionNone:
		return payload, nil
	case CompressionZstd:
		_, dec, err := zstdCodec()
		if err != nil {
			return nil, err
		}
		return dec.DecodeAll(payload, make([]byte, 0, sizeHint))
	case CompressionLZ4:
		out := bytes.NewBuffer(make([]byte, 0, sizeHint))
		if _, err := io.Copy(out, lz4.NewReader(bytes.NewReader(payload))); err != nil {
			return nil, err
		}
		return out.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", codec)
	}
}
