package throttle

import "testing"

func TestBucketStaysWithinBounds(t *testing.T) {
	b := NewBucket(1000, 1) // 1000 B/s, 1s window -> capacity 1000
	if b.bucket != 1000 {
		t.Fatalf("expected full bucket at start, got %v", b.bucket)
	}
	b.Consume(400)
	if b.bucket < 0 || b.bucket > b.capacity {
		t.Fatalf("bucket out of bounds: %v (capacity %v)", b.bucket, b.capacity)
	}
}

func TestRegistrySharesBucketPerIP(t *testing.T) {
	reg := NewRegistry(1, 1)
	a := reg.Get("1.2.3.4")
	b := reg.Get("1.2.3.4")
	if a != b {
		t.Fatal("expected the same bucket instance for repeated lookups of one IP")
	}
	c := reg.Get("5.6.7.8")
	if a == c {
		t.Fatal("expected distinct buckets for distinct IPs")
	}
}
