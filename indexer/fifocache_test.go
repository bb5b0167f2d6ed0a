package indexer

import "testing"

func TestFIFOCacheGetSet(t *testing.T) {
	c := newFIFOCache(2)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Set("a", 1)
	c.Set("b", 2)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("expected a=1, got %d ok=%v", v, ok)
	}

	c.Set("c", 3)
	if _, ok := c.Get("a"); ok {
		t.Error("expected a evicted after exceeding capacity")
	}
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Errorf("expected c=3, got %d ok=%v", v, ok)
	}
}
