package buffer

import (
	"sync"
	"testing"

	"github.com/ValentinKolb/dMsg/rpc/common"
)

// TestPutReplaces tests that identical content collapses into one entry
func TestPutReplaces(t *testing.T) {
	b := NewBuffer()

	b.Put(common.NewMessage(1, 5, []byte("abc")))
	b.Put(common.NewMessage(2, 5, []byte("abc")))

	if b.Len() != 1 {
		t.Errorf("identical content should collapse, len = %d", b.Len())
	}
	if b.Bytes() != 3+EntryOverhead {
		t.Errorf("bytes = %d, want %d", b.Bytes(), 3+EntryOverhead)
	}

	// the newer message wins
	if msg := b.Take(1)[0]; msg.ClientID != 2 {
		t.Errorf("expected the replacing message, got client id %d", msg.ClientID)
	}
}

// TestPutIndependent tests that type and content both separate entries
func TestPutIndependent(t *testing.T) {
	b := NewBuffer()

	b.Put(common.NewMessage(1, 5, []byte("abc")))
	b.Put(common.NewMessage(1, 6, []byte("abc")))
	b.Put(common.NewMessage(1, 5, []byte("abcd")))

	if b.Len() != 3 {
		t.Errorf("expected 3 entries, got %d", b.Len())
	}
	if want := int64(3+3+4) + 3*EntryOverhead; b.Bytes() != want {
		t.Errorf("bytes = %d, want %d", b.Bytes(), want)
	}
}

func TestRemove(t *testing.T) {
	b := NewBuffer()
	msg := common.NewMessage(1, 5, []byte("abc"))

	b.Put(msg)
	b.Remove(msg)
	if !b.IsEmpty() || b.Bytes() != 0 {
		t.Errorf("buffer should be empty, len = %d, bytes = %d", b.Len(), b.Bytes())
	}

	// removing twice is a no-op
	b.Remove(msg)
	if b.Bytes() != 0 {
		t.Errorf("double remove changed the size to %d", b.Bytes())
	}
}

func TestTake(t *testing.T) {
	b := NewBuffer()
	for i := 0; i < 10; i++ {
		b.Put(common.NewMessage(1, 5, []byte{byte(i)}))
	}

	if n := len(b.Take(4)); n != 4 {
		t.Errorf("Take(4) returned %d messages", n)
	}
	if n := len(b.Take(20)); n != 10 {
		t.Errorf("Take(20) returned %d messages", n)
	}
	if b.Take(0) != nil {
		t.Error("Take(0) should return nil")
	}
	if b.Len() != 10 {
		t.Errorf("Take must not remove messages, len = %d", b.Len())
	}
}

func TestClear(t *testing.T) {
	b := NewBuffer()
	for i := 0; i < 10; i++ {
		b.Put(common.NewMessage(1, 5, []byte{byte(i)}))
	}

	b.Clear()
	if !b.IsEmpty() || b.Bytes() != 0 {
		t.Errorf("buffer should be empty after Clear, len = %d, bytes = %d", b.Len(), b.Bytes())
	}
}

// TestConcurrentPutRemove tests that the size counter stays consistent
func TestConcurrentPutRemove(t *testing.T) {
	b := NewBuffer()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				msg := common.NewMessage(uint64(g), 5, []byte{byte(g), byte(i), byte(i >> 8)})
				b.Put(msg)
				if i%2 == 0 {
					b.Remove(msg)
				}
			}
		}(g)
	}
	wg.Wait()

	if b.Len() != 8*250 {
		t.Errorf("len = %d, want %d", b.Len(), 8*250)
	}
	if want := int64(8*250) * (3 + EntryOverhead); b.Bytes() != want {
		t.Errorf("bytes = %d, want %d", b.Bytes(), want)
	}
}
