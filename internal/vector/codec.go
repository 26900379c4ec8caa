package vector

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"
)

// File format, little-endian: magic, format version, snapshot id, dim,
// nprobe, built-at unix, inserted count, list count, then per list the
// centroid followed by its entries (id length, id bytes, vector). Vectors
// are already unit-normalized when written.
const (
	codecMagic   = uint32(0x4F495646) // "OIVF"
	codecVersion = uint32(1)
)

// Save persists the snapshot to path so the server can restart without a
// full rebuild. Parent directories are created if needed.
func (s *Snapshot) Save(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	for _, v := range []uint32{codecMagic, codecVersion} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := writeString(w, s.id); err != nil {
		return fmt.Errorf("write snapshot id: %w", err)
	}
	meta := []uint32{uint32(s.dim), uint32(s.nprobe), uint32(s.inserted), uint32(len(s.lists))}
	if err := binary.Write(w, binary.LittleEndian, int64(s.builtAt.Unix())); err != nil {
		return fmt.Errorf("write built_at: %w", err)
	}
	for _, v := range meta {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("write meta: %w", err)
		}
	}
	for c, list := range s.lists {
		if err := writeVec(w, s.centroids[c]); err != nil {
			return fmt.Errorf("write centroid: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(list))); err != nil {
			return fmt.Errorf("write list size: %w", err)
		}
		for _, e := range list {
			if err := writeString(w, e.id); err != nil {
				return fmt.Errorf("write entry id: %w", err)
			}
			if err := writeVec(w, e.vec); err != nil {
				return fmt.Errorf("write entry vector: %w", err)
			}
		}
	}
	return w.Flush()
}

// Load reads a snapshot from path. A missing file returns (nil, nil) so the
// caller falls back to a fresh build.
func Load(path string) (*Snapshot, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var magic, version uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != codecMagic {
		return nil, fmt.Errorf("not an index file: %s", path)
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if version != codecVersion {
		return nil, fmt.Errorf("unsupported index format version %d", version)
	}

	id, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("read snapshot id: %w", err)
	}
	var builtAt int64
	if err := binary.Read(r, binary.LittleEndian, &builtAt); err != nil {
		return nil, fmt.Errorf("read built_at: %w", err)
	}
	var dim, nprobe, inserted, numLists uint32
	for _, p := range []*uint32{&dim, &nprobe, &inserted, &numLists} {
		if err := binary.Read(r, binary.LittleEndian, p); err != nil {
			return nil, fmt.Errorf("read meta: %w", err)
		}
	}

	snap := &Snapshot{
		id:        id,
		builtAt:   time.Unix(builtAt, 0),
		dim:       int(dim),
		nprobe:    int(nprobe),
		inserted:  int(inserted),
		centroids: make([][]float32, numLists),
		lists:     make([][]entry, numLists),
		listOf:    make(map[string]int),
	}
	for c := uint32(0); c < numLists; c++ {
		centroid, err := readVec(r, int(dim))
		if err != nil {
			return nil, fmt.Errorf("read centroid: %w", err)
		}
		snap.centroids[c] = centroid
		var count uint32
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return nil, fmt.Errorf("read list size: %w", err)
		}
		list := make([]entry, 0, count)
		for i := uint32(0); i < count; i++ {
			eid, err := readString(r)
			if err != nil {
				return nil, fmt.Errorf("read entry id: %w", err)
			}
			vec, err := readVec(r, int(dim))
			if err != nil {
				return nil, fmt.Errorf("read entry vector: %w", err)
			}
			list = append(list, entry{id: eid, vec: vec})
			snap.listOf[eid] = int(c)
		}
		snap.lists[c] = list
	}
	return snap, nil
}

func writeString(w *bufio.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := w.WriteString(s)
	return err
}

func readString(r *bufio.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeVec(w *bufio.Writer, v []float32) error {
	buf := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:(i+1)*4], math.Float32bits(x))
	}
	_, err := w.Write(buf)
	return err
}

func readVec(r *bufio.Reader, dim int) ([]float32, error) {
	buf := make([]byte, dim*4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	out := make([]float32, dim)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4 : (i+1)*4]))
	}
	return out, nil
}
