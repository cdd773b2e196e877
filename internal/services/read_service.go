package services

import (
	"context"
	"log"
	"time"

	"chat-store/internal/metrics"
	"chat-store/internal/models"
	"chat-store/internal/store"
)

// ReadReceiptService 已读回执：unread 标记的生命周期。
// 标记只在全局开关开启期间写入；关闭期间写入的消息无标记，之后也不补。
// "已读"即 unread 字段缺失，清除用 $unset 而非置 false——稀疏索引只收录未读存量。
type ReadReceiptService struct {
	Store    store.MessageStoreInterface
	Settings SettingsService // 可选；缺省视为回执关闭
}

func NewReadReceiptService(ms store.MessageStoreInterface, settings SettingsService) *ReadReceiptService {
	return &ReadReceiptService{Store: ms, Settings: settings}
}

// MarkUnreadOnCreate 写入前按当前开关给消息打未读标记。
func (r *ReadReceiptService) MarkUnreadOnCreate(ctx context.Context, m *models.Message) {
	if r.Settings != nil && r.Settings.ReadReceiptsEnabled(ctx) {
		m.Unread = true
	}
}

// MarkRoomReadUntil 用户读到 until 水位：清除房间内严格早于 until 的未读标记。
// 埋没的线程回复不在主窗口里展示，不应被房间水位清掉（回复侧单独确认）。
// 返回清除条数。
func (r *ReadReceiptService) MarkRoomReadUntil(ctx context.Context, roomID string, until time.Time) (int64, error) {
	n, err := r.Store.Update(ctx, store.Filter{
		RoomID:               roomID,
		Unread:               true,
		Before:               &until,
		ExcludeBuriedReplies: true,
	}, store.Patch{Unset: []string{"unread"}}, true)
	if err != nil {
		log.Printf("Read.MarkRoomRead error: rid=%s err=%v", roomID, err)
		return 0, err
	}
	metrics.UnreadCleared.Add(float64(n))
	return n, nil
}

// MarkOneRead 单条确认；已读消息上再次调用是空操作（幂等）。
func (r *ReadReceiptService) MarkOneRead(ctx context.Context, messageID string) (int64, error) {
	n, err := r.Store.Update(ctx, store.Filter{ID: messageID, Unread: true},
		store.Patch{Unset: []string{"unread"}}, false)
	if err != nil {
		return 0, err
	}
	metrics.UnreadCleared.Add(float64(n))
	return n, nil
}

// FindUnreadSince 房间内 since 之后仍未读的可见消息 id（开区间；埋没回复除外）。
func (r *ReadReceiptService) FindUnreadSince(ctx context.Context, roomID string, since time.Time) ([]string, error) {
	return r.Store.FindIDs(ctx, store.Filter{
		RoomID:               roomID,
		Unread:               true,
		VisibleOnly:          true,
		After:                &since,
		ExcludeBuriedReplies: true,
	}, store.FindOptions{})
}

// FindUnreadThreadRepliesSince 线程内 since 之后、他人发出且未提升到主窗口的未读回复。
func (r *ReadReceiptService) FindUnreadThreadRepliesSince(ctx context.Context, rootID, userID string, since time.Time) ([]string, error) {
	return r.Store.FindIDs(ctx, store.Filter{
		ThreadID:         rootID,
		ExcludeAuthorID:  userID,
		Unread:           true,
		ThreadShowAbsent: true,
		After:            &since,
	}, store.FindOptions{})
}

// CountUnread 房间未读数（对账任务用来校准 Redis 计数）。
func (r *ReadReceiptService) CountUnread(ctx context.Context, roomID string) (int64, error) {
	return r.Store.Count(ctx, store.Filter{RoomID: roomID, Unread: true})
}
