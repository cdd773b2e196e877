package services

import "context"

// 外部协作方的窄接口。房间元数据与全局设置分别由 Room/Settings 服务持有，
// 本层只消费这两个入口，不关心其内部实现（Redis 适配见 internal/cache）。

// RoomCounter 房间消息计数：每条顶层消息入库后 +1（线程回复不计）。
type RoomCounter interface {
	IncrementMessageCount(ctx context.Context, roomID string, delta int64) error
}

// SettingsService 全局设置：已读回执开关按调用即时查询，不在本进程缓存。
type SettingsService interface {
	ReadReceiptsEnabled(ctx context.Context) bool
}
