// Package filter implements the two pieces of the domain filter: a cheap
// substring pre-filter over raw JSON lines, and a corpus-ID set persisted as
// sorted, deduplicated little-endian int64 and consulted by Phase 2 workers
// via a probabilistic cuckoo-filter pre-screen ahead of an exact lookup.
package filter

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/edsrzf/mmap-go"
	cuckoo "github.com/seiflotfy/cuckoofilter"
)

// NeedleSet is the pre-computed set of quoted substrings (domain names, topic
// IDs) checked against a raw line before full structured parsing. Rationale:
// at typical shard sizes the parse cost dominates, and this single pass over
// the buffer rejects the large majority of non-matching lines.
type NeedleSet struct {
	needles [][]byte
}

// NewNeedleSet quotes each needle (`"needle"`) the way it would appear as a
// JSON string value, matching the wire format of the JSONL sources.
func NewNeedleSet(needles []string) *NeedleSet {
	ns := &NeedleSet{needles: make([][]byte, len(needles))}
	for i, n := range needles {
		ns.needles[i] = []byte(`"` + n + `"`)
	}
	return ns
}

// Matches reports whether line contains any needle.
func (ns *NeedleSet) Matches(line []byte) bool {
	for _, n := range ns.needles {
		if bytes.Contains(line, n) {
			return true
		}
	}
	return len(ns.needles) == 0
}

// CorpusIDSet is a sorted, deduplicated set of int64 corpus IDs, used to
// filter Phase-2 shards against the set of papers that passed Phase-1 domain
// filtering. The exact lookup is preceded by a cuckoo-filter pre-screen.
type CorpusIDSet struct {
	ids    []int64 // sorted ascending, deduplicated
	cuckoo *cuckoo.Filter
	mm     mmap.MMap // non-nil when loaded via mmap; Close() must munmap
	file   *os.File
}

// SortDedup returns a sorted, deduplicated copy of ids.
func SortDedup(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	out = dedupSorted(out)
	return out
}

func dedupSorted(sorted []int64) []int64 {
	if len(sorted) == 0 {
		return sorted
	}
	w := 1
	for r := 1; r < len(sorted); r++ {
		if sorted[r] != sorted[w-1] {
			sorted[w] = sorted[r]
			w++
		}
	}
	return sorted[:w]
}

// SaveCorpusIDs writes a sorted-dedup copy of ids to path as raw
// little-endian int64.
func SaveCorpusIDs(path string, ids []int64) error {
	sorted := SortDedup(ids)
	buf := make([]byte, 8*len(sorted))
	for i, id := range sorted {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(id))
	}
	return os.WriteFile(path, buf, 0o644)
}

// LoadCorpusIDs memory-maps path and constructs an in-memory cuckoo
// pre-screen over it. Fails with an error if the file is empty or its length
// is not a positive multiple of 8.
func LoadCorpusIDs(path string) (*CorpusIDSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := info.Size()
	if size == 0 || size%8 != 0 {
		f.Close()
		return nil, fmt.Errorf("corpus-id file %s: invalid length %d (must be a positive multiple of 8)", path, size)
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	n := int(size / 8)
	ids := make([]int64, n)
	for i := 0; i < n; i++ {
		ids[i] = int64(binary.LittleEndian.Uint64(m[i*8 : i*8+8]))
	}

	return newSet(ids, m, f), nil
}

// RecoverCorpusIDs loads path without mmap (read_exact fallback): used when
// the target has no mmap support or the file is small enough that mapping
// offers no benefit.
func RecoverCorpusIDs(path string) (*CorpusIDSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || len(data)%8 != 0 {
		return nil, fmt.Errorf("corpus-id file %s: invalid length %d (must be a positive multiple of 8)", path, len(data))
	}
	n := len(data) / 8
	ids := make([]int64, n)
	for i := 0; i < n; i++ {
		ids[i] = int64(binary.LittleEndian.Uint64(data[i*8 : i*8+8]))
	}
	return newSet(ids, nil, nil), nil
}

func newSet(ids []int64, m mmap.MMap, f *os.File) *CorpusIDSet {
	cf := cuckoo.NewFilter(uint(max(len(ids), 1)))
	for _, id := range ids {
		if !cf.InsertUnique(idKey(id)) && !cf.Lookup(idKey(id)) {
			// filter is full: drop the pre-screen, Contains falls back to the exact lookup
			cf = nil
			break
		}
	}
	return &CorpusIDSet{ids: ids, cuckoo: cf, mm: m, file: f}
}

func idKey(id int64) []byte {
	return []byte(strconv.FormatInt(id, 10))
}

// Contains reports whether id is in the set: a cuckoo-filter pre-screen
// (cheap, may false-positive) gates an exact binary-search lookup (never
// false-positive). When the filter could not hold every ID, only the exact
// lookup is used.
func (s *CorpusIDSet) Contains(id int64) bool {
	if s.cuckoo != nil && !s.cuckoo.Lookup(idKey(id)) {
		return false
	}
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= id })
	return i < len(s.ids) && s.ids[i] == id
}

func (s *CorpusIDSet) Len() int { return len(s.ids) }

// Close releases the memory mapping (no-op if loaded via RecoverCorpusIDs).
func (s *CorpusIDSet) Close() error {
	if s.mm != nil {
		if err := s.mm.Unmap(); err != nil {
			return err
		}
	}
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
