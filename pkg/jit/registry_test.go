package jit

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Upsert(t *testing.T) {
	r := NewRegistry()

	assert.False(t, r.Upsert(CodeRecord{Addr: 0x1000, Size: 16, Name: "a", File: "a.dart"}))
	assert.True(t, r.Upsert(CodeRecord{Addr: 0x1000, Size: 32, Name: "b", File: "b.dart"}))
	assert.Equal(t, 1, r.Len())

	rec, ok := r.Lookup(0x1000)
	require.True(t, ok)
	assert.Equal(t, CodeRecord{Addr: 0x1000, Size: 32, Name: "b", File: "b.dart"}, rec)

	_, ok = r.Lookup(0x2000)
	assert.False(t, ok)
}

func TestRegistry_FindByName(t *testing.T) {
	r := NewRegistry()
	r.Upsert(CodeRecord{Addr: 0x3000, Size: 8, Name: "Foo.bar"})
	r.Upsert(CodeRecord{Addr: 0x1000, Size: 8, Name: "Baz.bar"})
	r.Upsert(CodeRecord{Addr: 0x2000, Size: 8, Name: "Qux"})

	rec, ok := r.FindByName("bar")
	require.True(t, ok)
	assert.Equal(t, uint64(0x1000), rec.Addr, "lowest address wins")

	_, ok = r.FindByName("BAR")
	assert.False(t, ok, "name lookup is case-sensitive")
}

func TestRegistry_LookupPC(t *testing.T) {
	r := NewRegistry()
	r.Upsert(CodeRecord{Addr: 0x1000, Size: 0x10, Name: "a"})

	rec, ok := r.LookupPC(0x100f)
	require.True(t, ok)
	assert.Equal(t, "a", rec.Name)

	_, ok = r.LookupPC(0x1010)
	assert.False(t, ok)
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry()
	for _, addr := range []uint64{0x30, 0x10, 0x20} {
		r.Upsert(CodeRecord{Addr: addr, Size: 1})
	}
	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []uint64{0x10, 0x20, 0x30}, []uint64{snap[0].Addr, snap[1].Addr, snap[2].Addr})
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				addr := uint64(i + 1)
				name := fmt.Sprintf("fn%d", i)
				r.Upsert(CodeRecord{Addr: addr, Size: addr, Name: name, File: name + ".dart"})
			}
		}(w)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				for _, rec := range r.Snapshot() {
					// name, file and size of an address always belong together
					if rec.Size != rec.Addr || rec.File != rec.Name+".dart" {
						t.Errorf("torn record %v", rec)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 200, r.Len())
}
