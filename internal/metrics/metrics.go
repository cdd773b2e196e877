package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	MessagesInserted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "chat_messages_inserted_total", Help: "入库消息数"},
		[]string{"kind"}, // user / system / reply
	)
	ThreadRepliesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "chat_thread_replies_total", Help: "线程回复聚合次数"},
	)
	UnreadCleared = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "chat_unread_cleared_total", Help: "清除的未读标记数"},
	)
	StoreOpLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "chat_store_op_latency_ms", Help: "存储操作时延(近似)", Buckets: prometheus.LinearBuckets(1, 2, 20)},
	)
)

func Init() {
	prometheus.MustRegister(MessagesInserted)
	prometheus.MustRegister(ThreadRepliesTotal)
	prometheus.MustRegister(UnreadCleared)
	prometheus.MustRegister(StoreOpLatency)
}
