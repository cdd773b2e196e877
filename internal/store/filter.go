package store

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Filter 为声明式查询谓词：调用方只组合字段，不写存储引擎查询语言。
// 由存储实现翻译为 bson；零值字段不参与查询。
// 约定：
// - 空 Filter 非法（不存在"作用于全集合"的更新/删除路径）
// - VisibleOnly 排除 _hidden=true，所有"可见"查询变体必须置位
// - Before/After 默认开区间（分页"严格早于"语义），Inclusive 切换为闭区间（同步语义）
type Filter struct {
	ID  string
	IDs []string

	RoomID  string
	RoomIDs []string

	AuthorID        string
	ExcludeAuthorID string
	Usernames       []string // u.username ∈

	Types        []string // t ∈
	ExcludeTypes []string // t ∉
	Mention      string   // mentions.username ==
	Text         string   // msg 全文检索

	// 线程/讨论形态
	ThreadID             string // tmid ==
	ThreadRootsOnly      bool   // tcount 存在（部分索引形态）
	HasLastReply         bool   // tlm 存在
	ExcludeThreadLinked  bool   // tmid 与 tcount 均不存在（清理/文件枚举路径）
	ExcludeBuriedReplies bool   // tmid 不存在 或 tshow=true
	ThreadShowAbsent     bool   // tshow 不存在
	DiscussionsOnly      bool   // drid 存在
	ExcludeDiscussions   bool   // drid 不存在

	// facet 存在性
	HasFile       bool // file._id 存在
	ExcludePinned bool // pinned != true
	Unread        bool // unread == true
	VisibleOnly   bool // _hidden != true
	TokenAbsent   bool // token 不存在（livechat 客服侧消息）

	// 时间窗口
	Before       *time.Time
	After        *time.Time
	Inclusive    bool
	UpdatedAfter *time.Time // _updatedAt >（增量同步路径，始终开区间）

	// 外部系统关联
	SlackBotID string
	SlackTS    string

	// 导入簿记
	ImportFileID          string // _importFile.id ==
	ImportPendingDownload bool   // downloadUrl 存在且未下载、未标记外部
}

// FindOptions 控制排序与分页；零值表示不限制。
type FindOptions struct {
	Sort  SortOrder
	Skip  int64
	Limit int64
}

type SortOrder int

const (
	SortNone SortOrder = iota
	SortTSAsc
	SortTSDesc
	SortTLMDesc
)

// IsZero 判断过滤器是否未设置任何谓词。
func (f Filter) IsZero() bool {
	return f.ID == "" && len(f.IDs) == 0 &&
		f.RoomID == "" && len(f.RoomIDs) == 0 &&
		f.AuthorID == "" && f.ExcludeAuthorID == "" && len(f.Usernames) == 0 &&
		len(f.Types) == 0 && len(f.ExcludeTypes) == 0 && f.Mention == "" && f.Text == "" &&
		f.ThreadID == "" && !f.ThreadRootsOnly && !f.HasLastReply && !f.ExcludeThreadLinked &&
		!f.ExcludeBuriedReplies && !f.ThreadShowAbsent &&
		!f.DiscussionsOnly && !f.ExcludeDiscussions &&
		!f.HasFile && !f.ExcludePinned && !f.Unread && !f.VisibleOnly && !f.TokenAbsent &&
		f.Before == nil && f.After == nil && f.UpdatedAfter == nil &&
		f.SlackBotID == "" && f.SlackTS == "" &&
		f.ImportFileID == "" && !f.ImportPendingDownload
}

// Validate 在访问存储之前校验谓词。
func (f Filter) Validate() error {
	if f.IsZero() {
		return fmt.Errorf("%w: empty predicate", ErrInvalidFilter)
	}
	for _, t := range f.Types {
		if t == "" {
			return fmt.Errorf("%w: empty type tag in Types", ErrInvalidFilter)
		}
	}
	for _, t := range f.ExcludeTypes {
		if t == "" {
			return fmt.Errorf("%w: empty type tag in ExcludeTypes", ErrInvalidFilter)
		}
	}
	for _, id := range f.IDs {
		if id == "" {
			return fmt.Errorf("%w: empty id in IDs", ErrInvalidFilter)
		}
	}
	return nil
}

// ToQuery 翻译为 MongoDB 查询文档。调用前必须通过 Validate。
func (f Filter) ToQuery() bson.M {
	q := bson.M{}

	if f.ID != "" {
		q["_id"] = f.ID
	}
	if len(f.IDs) > 0 {
		q["_id"] = bson.M{"$in": f.IDs}
	}
	if f.RoomID != "" {
		q["rid"] = f.RoomID
	}
	if len(f.RoomIDs) > 0 {
		q["rid"] = bson.M{"$in": f.RoomIDs}
	}
	if f.AuthorID != "" {
		q["u._id"] = f.AuthorID
	}
	if f.ExcludeAuthorID != "" {
		q["u._id"] = bson.M{"$ne": f.ExcludeAuthorID}
	}
	if len(f.Usernames) > 0 {
		q["u.username"] = bson.M{"$in": f.Usernames}
	}
	if len(f.Types) > 0 {
		q["t"] = bson.M{"$in": f.Types}
	}
	if len(f.ExcludeTypes) > 0 {
		q["t"] = bson.M{"$nin": f.ExcludeTypes}
	}
	if f.Mention != "" {
		q["mentions.username"] = f.Mention
	}
	if f.Text != "" {
		q["$text"] = bson.M{"$search": f.Text}
	}

	if f.ThreadID != "" {
		q["tmid"] = f.ThreadID
	}
	if f.ThreadRootsOnly {
		q["tcount"] = bson.M{"$exists": true}
	}
	if f.HasLastReply {
		q["tlm"] = bson.M{"$exists": true}
	}
	if f.ExcludeThreadLinked {
		q["tmid"] = bson.M{"$exists": false}
		q["tcount"] = bson.M{"$exists": false}
	}
	if f.ExcludeBuriedReplies {
		q["$or"] = bson.A{
			bson.M{"tmid": bson.M{"$exists": false}},
			bson.M{"tshow": true},
		}
	}
	if f.ThreadShowAbsent {
		q["tshow"] = bson.M{"$exists": false}
	}
	if f.DiscussionsOnly {
		q["drid"] = bson.M{"$exists": true}
	}
	if f.ExcludeDiscussions {
		q["drid"] = bson.M{"$exists": false}
	}

	if f.HasFile {
		q["file._id"] = bson.M{"$exists": true}
	}
	if f.ExcludePinned {
		q["pinned"] = bson.M{"$ne": true}
	}
	if f.Unread {
		q["unread"] = true
	}
	if f.VisibleOnly {
		q["_hidden"] = bson.M{"$ne": true}
	}
	if f.TokenAbsent {
		q["token"] = bson.M{"$exists": false}
	}

	if f.Before != nil || f.After != nil {
		ts := bson.M{}
		if f.After != nil {
			if f.Inclusive {
				ts["$gte"] = *f.After
			} else {
				ts["$gt"] = *f.After
			}
		}
		if f.Before != nil {
			if f.Inclusive {
				ts["$lte"] = *f.Before
			} else {
				ts["$lt"] = *f.Before
			}
		}
		q["ts"] = ts
	}
	if f.UpdatedAfter != nil {
		q["_updatedAt"] = bson.M{"$gt": *f.UpdatedAfter}
	}

	if f.SlackTS != "" {
		q["slackTs"] = f.SlackTS
	}
	if f.SlackBotID != "" {
		q["slackBotId"] = f.SlackBotID
	}

	if f.ImportFileID != "" {
		q["_importFile.id"] = f.ImportFileID
	}
	if f.ImportPendingDownload {
		q["_importFile.downloadUrl"] = bson.M{"$exists": true}
		q["_importFile.rocketChatUrl"] = bson.M{"$exists": false}
		q["_importFile.downloaded"] = bson.M{"$ne": true}
		q["_importFile.external"] = bson.M{"$ne": true}
	}

	return q
}

// sortDoc 翻译排序选项；SortNone 返回 nil。
func (o FindOptions) sortDoc() bson.D {
	switch o.Sort {
	case SortTSAsc:
		return bson.D{{Key: "ts", Value: 1}}
	case SortTSDesc:
		return bson.D{{Key: "ts", Value: -1}}
	case SortTLMDesc:
		return bson.D{{Key: "tlm", Value: -1}}
	default:
		return nil
	}
}
