package store

import (
	"context"

	"chat-store/internal/models"
)

// MessageStoreInterface 抽象消息存储原语，便于在服务层注入内存实现做测试：
// - Insert：写入记录并返回生成 id（时间戳缺省时补齐）
// - FindByID：未命中返回 (nil, nil)，不视为错误
// - Find/FindIDs：按声明式 Filter 查询；FindIDs 仅投影 _id
// - Update：字段级补丁；multi=false 至多更新一条
// - Remove：硬删除，返回删除条数
// 所有方法对非法谓词返回 ErrInvalidFilter，存储层故障包装 ErrPersistence。
type MessageStoreInterface interface {
	Insert(ctx context.Context, m *models.Message) (string, error)
	FindByID(ctx context.Context, id string) (*models.Message, error)
	Find(ctx context.Context, f Filter, opt FindOptions) ([]*models.Message, error)
	FindIDs(ctx context.Context, f Filter, opt FindOptions) ([]string, error)
	Update(ctx context.Context, f Filter, p Patch, multi bool) (int64, error)
	Remove(ctx context.Context, f Filter) (int64, error)
	Count(ctx context.Context, f Filter) (int64, error)
}
