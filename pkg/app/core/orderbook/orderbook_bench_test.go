package orderbook

import (
	"fmt"
	"testing"

	"github.com/uhyunpark/predikt/pkg/app/core/order"
)

func filled(n int) *OrderBook {
	ob := NewOrderBook("bench")
	for i := 0; i < n; i++ {
		ob.Insert(mk(fmt.Sprintf("y%d", i), order.Yes, int64(1000+i%4000), 100, uint64(2*i)))
		ob.Insert(mk(fmt.Sprintf("n%d", i), order.No, int64(5500+i%4000), 100, uint64(2*i+1)))
	}
	return ob
}

func BenchmarkInsertRemove(b *testing.B) {
	ob := filled(1000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := fmt.Sprintf("x%d", i)
		ob.Insert(mk(id, order.Yes, int64(1000+i%4000), 100, uint64(10_000+i)))
		ob.Remove(id)
	}
}

func BenchmarkBestOpposite(b *testing.B) {
	ob := filled(1000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ob.BestOpposite(order.Yes)
	}
}

func BenchmarkCrossing(b *testing.B) {
	ob := filled(1000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ob.Crossing(order.Yes, 9000, 10_000, 50)
	}
}
