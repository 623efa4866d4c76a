package buffer

// Arena is the per-task allocator for VariableSizedData (spec §3):
// variable-length payloads (strings, blobs) referenced by fixed-size
// descriptors inside a row. Its lifetime is the task that allocated it
// unless the caller explicitly copies a value out.
type Arena struct {
	data []byte
}

// NewArena preallocates capacity bytes of scratch space for one task.
func NewArena(capacity int) *Arena {
	return &Arena{data: make([]byte, 0, capacity)}
}

// VariableSizedData is a view into an Arena's backing slice. Offset and
// Length describe the span within the arena; the row stores only these two
// integers (see schema.VarSized).
type VariableSizedData struct {
	Offset int
	Length int
}

// Alloc copies payload into the arena and returns its descriptor. Reusing
// an Arena across unrelated tasks is a bug: the descriptors it hands out
// are only valid for the arena's own lifetime.
func (a *Arena) Alloc(payload []byte) VariableSizedData {
	offset := len(a.data)
	a.data = append(a.data, payload...)
	return VariableSizedData{Offset: offset, Length: len(payload)}
}

// Get resolves a descriptor back to the bytes it names.
func (a *Arena) Get(v VariableSizedData) []byte {
	return a.data[v.Offset : v.Offset+v.Length]
}

// CopyOut hands the caller an independent copy, outliving the arena itself
// (spec §3: "Lifetime ≤ the task that allocated it unless explicitly
// copied out").
func (a *Arena) CopyOut(v VariableSizedData) []byte {
	out := make([]byte, v.Length)
	copy(out, a.Get(v))
	return out
}

// Reset reclaims the arena for the next task without freeing the backing
// array, the same reuse-the-slice idiom the teacher's circular queue uses
// for its PopAll buffer.
func (a *Arena) Reset() {
	a.data = a.data[:0]
}
