package limiter

import (
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func BenchmarkFixedWindowAllow(b *testing.B) {
	l := New()
	if err := l.Register("user1", 100, time.Second); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Allow("user1")
	}
}

func BenchmarkFixedWindowMultipleUsers(b *testing.B) {
	l := New()
	ids := make([]string, 1000)
	for i := range ids {
		ids[i] = "user" + strconv.Itoa(i)
		if err := l.Register(ids[i], 100, time.Second); err != nil {
			b.Fatal(err)
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Allow(ids[i%len(ids)])
	}
}

// Concurrent Benchmarks
func BenchmarkFixedWindowConcurrent(b *testing.B) {
	l := New()
	if err := l.Register("user1", 10000, time.Second); err != nil {
		b.Fatal(err)
	}
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			l.Allow("user1")
		}
	})
}

func BenchmarkFixedWindowConcurrentDistinctUsers(b *testing.B) {
	l := New()
	ids := make([]string, 1024)
	for i := range ids {
		ids[i] = "user" + strconv.Itoa(i)
		if err := l.Register(ids[i], 10000, time.Second); err != nil {
			b.Fatal(err)
		}
	}
	var next atomic.Uint64
	b.RunParallel(func(pb *testing.PB) {
		id := ids[next.Add(1)%uint64(len(ids))]
		for pb.Next() {
			l.Allow(id)
		}
	})
}
