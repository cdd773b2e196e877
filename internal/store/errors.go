package store

import "errors"

// 错误分类：
// - ErrInvalidFilter：调用方谓词不合法（空过滤、空字符串元素等），在访问存储前拒绝
// - ErrPersistence：底层存储不可达或拒绝操作，包装后原样上抛，本层不重试
// 未命中（filter 匹配 0 条）不是错误：单条查询返回 nil，更新/删除返回 0。
var (
	ErrInvalidFilter = errors.New("invalid filter")
	ErrPersistence   = errors.New("persistence failure")
)
