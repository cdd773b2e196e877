package services

import (
	"context"
	"time"

	"chat-store/internal/metrics"
	"chat-store/internal/models"
	"chat-store/internal/store"
)

// ThreadService 维护线程根上的聚合状态（tcount/tlm/replies）。
// 所有聚合变更都落在根文档一条更新里，靠单文档原子性保证一致；
// 回复写入与根聚合是两次独立操作，漂移由对账任务修复（见 ReconcileThreadCounts）。
type ThreadService struct {
	Store store.MessageStoreInterface
}

func NewThreadService(ms store.MessageStoreInterface) *ThreadService {
	return &ThreadService{Store: ms}
}

// AddReply 回复入库后更新根：关注者并集 + tlm + tcount 自增，单条原子更新。
// tlm 取调用方给出的回复时间，后写覆盖先写；乱序到达时 tlm 可能短暂回退，
// 读侧只用它做排序提示，不做正确性依赖。
func (t *ThreadService) AddReply(ctx context.Context, rootID string, followers []string, replyTS time.Time) (int64, error) {
	p := store.Patch{
		Set: map[string]any{"tlm": replyTS},
		Inc: map[string]int{"tcount": 1},
	}
	if len(followers) > 0 {
		p.AddToSet = map[string]any{"replies": followers}
	}
	n, err := t.Store.Update(ctx, store.Filter{ID: rootID}, p, false)
	if err == nil && n > 0 {
		metrics.ThreadRepliesTotal.Inc()
	}
	return n, err
}

// DecrementReplyCount 回复删除后回调。tcount 减到 0 不会摘除根的线程形态，
// 根保留 tcount=0/tlm，列表里仍可见。
func (t *ThreadService) DecrementReplyCount(ctx context.Context, rootID string, by int) (int64, error) {
	if by <= 0 {
		return 0, nil
	}
	return t.Store.Update(ctx, store.Filter{ID: rootID}, store.Patch{
		Inc: map[string]int{"tcount": -by},
	}, false)
}

// UnsetThread 摘除根的全部线程聚合字段（根被整体转为普通消息时使用）。
func (t *ThreadService) UnsetThread(ctx context.Context, rootID string) (int64, error) {
	return t.Store.Update(ctx, store.Filter{ID: rootID}, store.Patch{
		Unset: []string{"tcount", "tlm", "replies"},
	}, false)
}

// RemoveThreadRefs 根被删除后，把所有指向它的回复摘出线程（多文档 $unset）。
// 只影响 tmid==rootID 的文档，其他线程不受波及。
func (t *ThreadService) RemoveThreadRefs(ctx context.Context, rootID string) (int64, error) {
	return t.Store.Update(ctx, store.Filter{ThreadID: rootID}, store.Patch{
		Unset: []string{"tmid", "tshow"},
	}, true)
}

// Follow 把用户加入根的关注者集合（幂等）。
func (t *ThreadService) Follow(ctx context.Context, rootID, userID string) (int64, error) {
	return t.Store.Update(ctx, store.Filter{ID: rootID}, store.Patch{
		AddToSet: map[string]any{"replies": userID},
	}, false)
}

// Unfollow 把用户移出关注者集合。
func (t *ThreadService) Unfollow(ctx context.Context, rootID, userID string) (int64, error) {
	return t.Store.Update(ctx, store.Filter{ID: rootID}, store.Patch{
		Pull: map[string]any{"replies": userID},
	}, false)
}

// Followers 读取根的关注者 userId 集合；根不存在返回 nil。
func (t *ThreadService) Followers(ctx context.Context, rootID string) ([]string, error) {
	root, err := t.Store.FindByID(ctx, rootID)
	if err != nil || root == nil {
		return nil, err
	}
	return root.Replies, nil
}

// ThreadListQuery 房间线程列表的查询形态。
type ThreadListQuery struct {
	RoomID             string
	ExcludePinned      bool
	ExcludeDiscussions bool
	Usernames          []string // 只看这些作者的线程
	Before             *time.Time
	Skip               int64
	Limit              int64
}

// ListThreads 房间内线程根列表，按最后回复时间倒序（走 {rid, tlm:-1} 部分索引形态）。
func (t *ThreadService) ListThreads(ctx context.Context, q ThreadListQuery) ([]*models.Message, error) {
	f := store.Filter{
		RoomID:          q.RoomID,
		ThreadRootsOnly: true,
		VisibleOnly:     true,
		Usernames:       q.Usernames,
		Before:          q.Before,
	}
	if q.ExcludePinned {
		f.ExcludePinned = true
	}
	if q.ExcludeDiscussions {
		f.ExcludeDiscussions = true
	}
	return t.Store.Find(ctx, f, store.FindOptions{Sort: store.SortTLMDesc, Skip: q.Skip, Limit: q.Limit})
}

// CountThreads 房间内线程根数量。
func (t *ThreadService) CountThreads(ctx context.Context, roomID string) (int64, error) {
	return t.Store.Count(ctx, store.Filter{RoomID: roomID, ThreadRootsOnly: true})
}

// FindReplies 线程内回复，按时间正序。
func (t *ThreadService) FindReplies(ctx context.Context, rootID string, opt store.FindOptions) ([]*models.Message, error) {
	if opt.Sort == store.SortNone {
		opt.Sort = store.SortTSAsc
	}
	return t.Store.Find(ctx, store.Filter{ThreadID: rootID, VisibleOnly: true}, opt)
}

// FirstReply 线程内最早一条回复；无回复返回 nil。
func (t *ThreadService) FirstReply(ctx context.Context, rootID string) (*models.Message, error) {
	list, err := t.Store.Find(ctx, store.Filter{ThreadID: rootID}, store.FindOptions{Sort: store.SortTSAsc, Limit: 1})
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}
