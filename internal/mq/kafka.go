package mq

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// 消息生命周期事件：created/removed/read，按房间 key 分区，
// 供下游（未读计数维护、对账）异步消费。
const (
	EventMessageCreated = "message.created"
	EventMessageRemoved = "message.removed"
	EventRoomRead       = "room.read"
)

type MessageEvent struct {
	Action    string `json:"action"`
	MessageID string `json:"messageId,omitempty"`
	RoomID    string `json:"roomId"`
	ThreadID  string `json:"threadId,omitempty"`
	Removed   int64  `json:"removed,omitempty"` // 批量删除条数
	TS        int64  `json:"ts"`
}

// KafkaProducer 简易封装（异步、不等待确认）。
type KafkaProducer struct {
	Async sarama.AsyncProducer
	Topic string
}

func NewKafkaProducer(brokersCSV, topic string) (*KafkaProducer, error) {
	brokers := []string{}
	if brokersCSV != "" {
		brokers = strings.Split(brokersCSV, ",")
	}
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = false
	cfg.Producer.Return.Errors = false
	p, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &KafkaProducer{Async: p, Topic: topic}, nil
}

// PublishEvent 发布生命周期事件；Producer 为 nil 时静默跳过（事件流可选）。
func (p *KafkaProducer) PublishEvent(evt MessageEvent) {
	if p == nil || p.Async == nil {
		return
	}
	if evt.TS == 0 {
		evt.TS = time.Now().UnixMilli()
	}
	value, err := json.Marshal(evt)
	if err != nil {
		return
	}
	p.Async.Input() <- &sarama.ProducerMessage{
		Topic: p.Topic,
		Key:   sarama.ByteEncoder(evt.RoomID),
		Value: sarama.ByteEncoder(value),
	}
}

func (p *KafkaProducer) Close() error {
	if p == nil || p.Async == nil {
		return nil
	}
	return p.Async.Close()
}
