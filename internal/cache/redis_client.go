package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// 本包封装 Redis 客户端与协作方适配器：
// - 设置开关：chat:settings:read_receipts_enabled（Settings 服务写，本层每次调用即时读）
// - 房间消息计数：chat:room:msgcount:<rid>（Room 服务消费）
// - 房间未读计数：chat:room:unread:<rid>（对账进程根据消息事件维护）
var (
	redisClient *redis.Client
)

func InitRedis(addr, pass string, db int) {
	redisClient = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})
}

func Client() *redis.Client { return redisClient }

func SettingsReadReceiptsKey() string      { return "chat:settings:read_receipts_enabled" }
func RoomMsgCountKey(roomID string) string { return fmt.Sprintf("chat:room:msgcount:%s", roomID) }
func RoomUnreadKey(roomID string) string   { return fmt.Sprintf("chat:room:unread:%s", roomID) }

// SettingsFlags 为 Settings 协作方的 Redis 适配：每次调用都回源读取，
// 本进程不缓存（开关翻转需要立即生效）。
type SettingsFlags struct {
	client *redis.Client
}

func NewSettingsFlags(c *redis.Client) *SettingsFlags { return &SettingsFlags{client: c} }

// ReadReceiptsEnabled 查询已读回执开关；读取失败按关闭处理。
func (s *SettingsFlags) ReadReceiptsEnabled(ctx context.Context) bool {
	v, err := s.client.Get(ctx, SettingsReadReceiptsKey()).Result()
	if err != nil {
		return false
	}
	return v == "1" || v == "true"
}

// RoomCounters 为 Room 协作方的 Redis 适配：顶层消息入库后计数 +1。
type RoomCounters struct {
	client *redis.Client
}

func NewRoomCounters(c *redis.Client) *RoomCounters { return &RoomCounters{client: c} }

func (r *RoomCounters) IncrementMessageCount(ctx context.Context, roomID string, delta int64) error {
	return r.client.IncrBy(ctx, RoomMsgCountKey(roomID), delta).Err()
}

// IncrRoomUnread/ResetRoomUnread 维护房间未读计数（消费侧使用）。
func IncrRoomUnread(ctx context.Context, roomID string, delta int64) error {
	return redisClient.IncrBy(ctx, RoomUnreadKey(roomID), delta).Err()
}

func ResetRoomUnread(ctx context.Context, roomID string) error {
	return redisClient.Del(ctx, RoomUnreadKey(roomID)).Err()
}
