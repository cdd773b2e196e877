package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chat-store/internal/cache"
	"chat-store/internal/config"
	"chat-store/internal/mq"
	"chat-store/internal/store"
	"chat-store/internal/store/mongostore"

	"github.com/IBM/sarama"
)

// 对账进程：
// - 消费消息生命周期事件，维护 Redis 房间未读计数（created +1 / room.read 清零）
// - 周期扫描线程根 tcount 漂移并修复
type handler struct {
	ctx context.Context
}

func (h *handler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *handler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }
func (h *handler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var evt mq.MessageEvent
		if err := json.Unmarshal(msg.Value, &evt); err == nil && evt.RoomID != "" {
			switch evt.Action {
			case mq.EventMessageCreated:
				// 回复不进主窗口，不计入房间未读
				if evt.ThreadID == "" {
					_ = cache.IncrRoomUnread(h.ctx, evt.RoomID, 1)
				}
			case mq.EventRoomRead:
				_ = cache.ResetRoomUnread(h.ctx, evt.RoomID)
			}
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}

func main() {
	cfg := config.Load()

	cache.InitRedis(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)

	mongoDB, err := mongostore.Connect(cfg.MongoURI)
	if err != nil {
		log.Fatalf("MongoDB connection failed: %v", err)
	}
	msgStore := store.NewMongoMessageStore(mongoDB)

	ctx, cancel := context.WithCancel(context.Background())

	// 线程计数对账
	interval := time.Duration(cfg.ReconcileIntervalSec) * time.Second
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fixed, err := msgStore.ReconcileThreadCounts(ctx)
				if err != nil {
					log.Printf("Reconcile error: %v", err)
					continue
				}
				for _, d := range fixed {
					log.Printf("Reconcile fixed: root=%s stored=%d actual=%d", d.RootID, d.Stored, d.Actual)
				}
			}
		}
	}()

	// 事件消费（Kafka 未配置时只跑对账）
	if cfg.KafkaBrokers != "" {
		client, err := sarama.NewConsumerGroup(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaGroupID, sarama.NewConfig())
		if err != nil {
			log.Fatal(err)
		}
		defer client.Close()

		h := &handler{ctx: ctx}
		go func() {
			for {
				if err := client.Consume(ctx, []string{cfg.KafkaEventsTopic}, h); err != nil {
					log.Printf("consume error: %v", err)
				}
				if ctx.Err() != nil {
					return
				}
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cancel()
}
