package dispatch

import (
	"sync"
	"testing"
)

func TestKeyedMutexSerialisesPerKey(t *testing.T) {
	k := newKeyedMutex()
	a, b := 0, 0
	counter := map[string]*int{"a": &a, "b": &b}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for _, key := range []string{"a", "b"} {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				unlock := k.Lock(key)
				*counter[key]++
				unlock()
			}(key)
		}
	}
	wg.Wait()
	if a != 50 || b != 50 {
		t.Fatalf("unexpected counters a=%d b=%d", a, b)
	}
	if k.size() != 0 {
		t.Fatalf("expected released entries, got %d", k.size())
	}
}
