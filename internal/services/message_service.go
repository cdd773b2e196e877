// Package services 实现业务服务：消息生命周期、系统事件消息、线程聚合与已读回执。
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"chat-store/internal/metrics"
	"chat-store/internal/models"
	"chat-store/internal/mq"
	"chat-store/internal/store"
)

// ErrInvalidRecord 记录不满足写入约束（缺房间/作者、回复携带聚合字段等）。
var ErrInvalidRecord = errors.New("invalid message record")

// MessageService 负责消息生命周期：
// - Insert：校验/补齐/入库，顶层消息通知 Room 计数，可选发布事件
// - 各查询形态：按房间/时间窗/提及/附件/讨论/外部关联等（§可见变体默认排除 _hidden）
// - 字段级变更：编辑、表情、置顶、隐藏、翻译、外部关联
// - Remove*：按 id/房间/房间集/作者硬删除
// 依赖：MessageStoreInterface + 可选 RoomCounter/ReadReceiptService/KafkaProducer
type MessageService struct {
	Store    store.MessageStoreInterface
	Rooms    RoomCounter        // 可选
	Reads    *ReadReceiptService // 可选；插入时打未读标记
	Producer *mq.KafkaProducer  // 可选
}

func NewMessageService(ms store.MessageStoreInterface) *MessageService {
	return &MessageService{Store: ms}
}

// Insert 写入一条消息并维护周边状态。
// 回复（tmid 非空）不触发房间计数；线程聚合由调用方随后调用 ThreadService.AddReply
// 完成——两步是独立的原子操作，失败时调用方应整体重试（见对账修复通道）。
func (s *MessageService) Insert(ctx context.Context, m *models.Message) (*models.Message, error) {
	return s.insert(ctx, m, m.ThreadID == "")
}

func (s *MessageService) insert(ctx context.Context, m *models.Message, countRoom bool) (*models.Message, error) {
	if m.RoomID == "" {
		return nil, fmt.Errorf("%w: missing room id", ErrInvalidRecord)
	}
	if m.User.ID == "" {
		return nil, fmt.Errorf("%w: missing author", ErrInvalidRecord)
	}
	// 聚合字段只允许出现在线程根上；消息不能回复自身
	if m.ThreadID != "" && (m.TCount != nil || m.TLM != nil || len(m.Replies) > 0) {
		return nil, fmt.Errorf("%w: reply carries thread aggregate fields", ErrInvalidRecord)
	}
	if m.ID != "" && m.ID == m.ThreadID {
		return nil, fmt.Errorf("%w: message replies to itself", ErrInvalidRecord)
	}

	if s.Reads != nil {
		s.Reads.MarkUnreadOnCreate(ctx, m)
	}

	id, err := s.Store.Insert(ctx, m)
	if err != nil {
		log.Printf("Msg.Insert error: rid=%s err=%v", m.RoomID, err)
		return nil, err
	}

	if countRoom && s.Rooms != nil {
		if err := s.Rooms.IncrementMessageCount(ctx, m.RoomID, 1); err != nil {
			log.Printf("Msg.RoomCount warn: rid=%s err=%v", m.RoomID, err)
		}
	}

	s.Producer.PublishEvent(mq.MessageEvent{
		Action:    mq.EventMessageCreated,
		MessageID: id,
		RoomID:    m.RoomID,
		ThreadID:  m.ThreadID,
	})
	metrics.MessagesInserted.WithLabelValues(insertKind(m)).Inc()
	return m, nil
}

func insertKind(m *models.Message) string {
	switch {
	case m.Type != "":
		return "system"
	case m.ThreadID != "":
		return "reply"
	default:
		return "user"
	}
}

// ---------------------------------------------------------------------------
// 查询
// ---------------------------------------------------------------------------

// VisibleQuery 房间内可见消息的通用查询形态。
// Before/After 组合覆盖"早于/晚于/区间"三种窗口；Inclusive 切换闭区间
// （分页方要"严格早于"，同步方要"不晚于"）。
type VisibleQuery struct {
	RoomID             string
	ExcludeTypes       []string
	ShowThreadMessages bool // false 时埋没的线程回复（无 tshow）不出现
	Before             *time.Time
	After              *time.Time
	Inclusive          bool
	Skip               int64
	Limit              int64
}

func (s *MessageService) FindVisibleByRoom(ctx context.Context, q VisibleQuery) ([]*models.Message, error) {
	f := store.Filter{
		RoomID:       q.RoomID,
		VisibleOnly:  true,
		ExcludeTypes: q.ExcludeTypes,
		Before:       q.Before,
		After:        q.After,
		Inclusive:    q.Inclusive,
	}
	if !q.ShowThreadMessages {
		f.ExcludeBuriedReplies = true
	}
	return s.Store.Find(ctx, f, store.FindOptions{Sort: store.SortTSDesc, Skip: q.Skip, Limit: q.Limit})
}

// FindForUpdates 增量同步路径：_updatedAt 晚于水位的可见消息。
func (s *MessageService) FindForUpdates(ctx context.Context, roomID string, since time.Time, limit int64) ([]*models.Message, error) {
	return s.Store.Find(ctx, store.Filter{
		RoomID:       roomID,
		VisibleOnly:  true,
		UpdatedAfter: &since,
	}, store.FindOptions{Limit: limit})
}

func (s *MessageService) FindByID(ctx context.Context, id string) (*models.Message, error) {
	return s.Store.FindByID(ctx, id)
}

func (s *MessageService) FindByIDs(ctx context.Context, ids []string) ([]*models.Message, error) {
	return s.Store.Find(ctx, store.Filter{IDs: ids}, store.FindOptions{})
}

func (s *MessageService) FindByRoomAndIDs(ctx context.Context, roomID string, ids []string) ([]*models.Message, error) {
	return s.Store.Find(ctx, store.Filter{RoomID: roomID, IDs: ids}, store.FindOptions{})
}

func (s *MessageService) FindByMention(ctx context.Context, username string, limit int64) ([]*models.Message, error) {
	return s.Store.Find(ctx, store.Filter{Mention: username}, store.FindOptions{Sort: store.SortTSDesc, Limit: limit})
}

// FindFilesByUser 枚举某作者带附件文件的消息。
func (s *MessageService) FindFilesByUser(ctx context.Context, userID string, limit int64) ([]*models.Message, error) {
	return s.Store.Find(ctx, store.Filter{AuthorID: userID, HasFile: true}, store.FindOptions{Limit: limit})
}

// FilesQuery 房间内附件消息的清理/导出查询形态。
type FilesQuery struct {
	RoomID            string
	ExcludePinned     bool
	IgnoreDiscussions bool
	IgnoreThreads     bool // 排除线程根与回复（清理不应动线程结构）
	Before            *time.Time
	After             *time.Time
	Inclusive         bool
	Usernames         []string
}

func (s *MessageService) FindFilesByRoom(ctx context.Context, q FilesQuery, opt store.FindOptions) ([]*models.Message, error) {
	f := store.Filter{
		RoomID:    q.RoomID,
		HasFile:   true,
		Before:    q.Before,
		After:     q.After,
		Inclusive: q.Inclusive,
		Usernames: q.Usernames,
	}
	if q.ExcludePinned {
		f.ExcludePinned = true
	}
	if q.IgnoreDiscussions {
		f.ExcludeDiscussions = true
	}
	if q.IgnoreThreads {
		f.ExcludeThreadLinked = true
	}
	return s.Store.Find(ctx, f, opt)
}

// FindDiscussionsByRoom 房间内的讨论入口消息（drid 存在）。
func (s *MessageService) FindDiscussionsByRoom(ctx context.Context, roomID string, excludePinned bool, before *time.Time, usernames []string, opt store.FindOptions) ([]*models.Message, error) {
	f := store.Filter{
		RoomID:          roomID,
		DiscussionsOnly: true,
		Before:          before,
		Usernames:       usernames,
	}
	if excludePinned {
		f.ExcludePinned = true
	}
	return s.Store.Find(ctx, f, opt)
}

func (s *MessageService) FindOneBySlackTS(ctx context.Context, slackTS string) (*models.Message, error) {
	return s.findOne(ctx, store.Filter{SlackTS: slackTS}, store.FindOptions{})
}

func (s *MessageService) FindOneBySlack(ctx context.Context, slackBotID, slackTS string) (*models.Message, error) {
	return s.findOne(ctx, store.Filter{SlackBotID: slackBotID, SlackTS: slackTS}, store.FindOptions{})
}

// FindImportedPendingDownload 导入任务中仍需下载附件的消息。
func (s *MessageService) FindImportedPendingDownload(ctx context.Context) ([]*models.Message, error) {
	return s.Store.Find(ctx, store.Filter{ImportPendingDownload: true}, store.FindOptions{})
}

// FindAgentLastMessage livechat：访客最后发言之后客服的第一条消息（token 缺失即客服侧）。
func (s *MessageService) FindAgentLastMessage(ctx context.Context, roomID string, visitorLastTS time.Time) (*models.Message, error) {
	return s.findOne(ctx, store.Filter{
		RoomID:      roomID,
		After:       &visitorLastTS,
		TokenAbsent: true,
	}, store.FindOptions{Sort: store.SortTSAsc})
}

// Search 房间内正文全文检索（不做相关性排序）。
func (s *MessageService) Search(ctx context.Context, roomID, text string, limit int64) ([]*models.Message, error) {
	return s.Store.Find(ctx, store.Filter{RoomID: roomID, Text: text, VisibleOnly: true}, store.FindOptions{Limit: limit})
}

func (s *MessageService) findOne(ctx context.Context, f store.Filter, opt store.FindOptions) (*models.Message, error) {
	opt.Limit = 1
	list, err := s.Store.Find(ctx, f, opt)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// ---------------------------------------------------------------------------
// 字段级变更
// ---------------------------------------------------------------------------

// Edit 编辑正文并落编辑元数据。
func (s *MessageService) Edit(ctx context.Context, id, msg string, editor models.UserRef) (int64, error) {
	now := time.Now().UTC()
	return s.Store.Update(ctx, store.Filter{ID: id}, store.Patch{Set: map[string]any{
		"msg":      msg,
		"editedAt": now,
		"editedBy": editor,
	}}, false)
}

func (s *MessageService) SetReactions(ctx context.Context, id string, reactions map[string]models.Reaction) (int64, error) {
	return s.Store.Update(ctx, store.Filter{ID: id}, store.Patch{Set: map[string]any{"reactions": reactions}}, false)
}

func (s *MessageService) UnsetReactions(ctx context.Context, id string) (int64, error) {
	return s.Store.Update(ctx, store.Filter{ID: id}, store.Patch{Unset: []string{"reactions"}}, false)
}

func (s *MessageService) SetPinned(ctx context.Context, id string, pinned bool) (int64, error) {
	if pinned {
		return s.Store.Update(ctx, store.Filter{ID: id}, store.Patch{Set: map[string]any{"pinned": true}}, false)
	}
	return s.Store.Update(ctx, store.Filter{ID: id}, store.Patch{Unset: []string{"pinned"}}, false)
}

func (s *MessageService) SetHidden(ctx context.Context, id string, hidden bool) (int64, error) {
	if hidden {
		return s.Store.Update(ctx, store.Filter{ID: id}, store.Patch{Set: map[string]any{"_hidden": true}}, false)
	}
	return s.Store.Update(ctx, store.Filter{ID: id}, store.Patch{Unset: []string{"_hidden"}}, false)
}

// AddTranslations 写入消息级翻译条目（逐语言路径 set，不整体替换）。
func (s *MessageService) AddTranslations(ctx context.Context, id string, translations map[string]string, provider string) (int64, error) {
	set := map[string]any{"translationProvider": provider}
	for lang, text := range translations {
		set["translations."+lang] = text
	}
	return s.Store.Update(ctx, store.Filter{ID: id}, store.Patch{Set: set}, false)
}

// AddAttachmentTranslations 写入指定附件的翻译条目。
func (s *MessageService) AddAttachmentTranslations(ctx context.Context, id string, attachmentIndex int, translations map[string]string) (int64, error) {
	set := map[string]any{}
	for lang, text := range translations {
		set[fmt.Sprintf("attachments.%d.translations.%s", attachmentIndex, lang)] = text
	}
	return s.Store.Update(ctx, store.Filter{ID: id}, store.Patch{Set: set}, false)
}

func (s *MessageService) SetSlackIDs(ctx context.Context, id, slackBotID, slackTS string) (int64, error) {
	return s.Store.Update(ctx, store.Filter{ID: id}, store.Patch{Set: map[string]any{
		"slackBotId": slackBotID,
		"slackTs":    slackTS,
	}}, false)
}

func (s *MessageService) SetOTRAck(ctx context.Context, id, ack string) (int64, error) {
	return s.Store.Update(ctx, store.Filter{ID: id}, store.Patch{Set: map[string]any{"otrAck": ack}}, false)
}

// UpdateMentionUsername 用户改名后修正单条消息内的提及（历史正文由调用方给出）。
func (s *MessageService) UpdateMentionUsername(ctx context.Context, id, oldUsername, newUsername, newMsg string) (int64, error) {
	return s.Store.Update(ctx, store.Filter{ID: id, Mention: oldUsername}, store.Patch{Set: map[string]any{
		"mentions.$.username": newUsername,
		"msg":                 newMsg,
	}}, false)
}

// GraftImportAttachment 导入完成后：标记下载完成并把附件并入所有关联消息。
func (s *MessageService) GraftImportAttachment(ctx context.Context, importFileID, externalURL string, att models.Attachment) (int64, error) {
	return s.Store.Update(ctx, store.Filter{ImportFileID: importFileID}, store.Patch{
		Set: map[string]any{
			"_importFile.rocketChatUrl": externalURL,
			"_importFile.downloaded":    true,
		},
		AddToSet: map[string]any{"attachments": att},
	}, true)
}

// ---------------------------------------------------------------------------
// 删除（硬删除，无墓碑）
// ---------------------------------------------------------------------------

func (s *MessageService) RemoveByID(ctx context.Context, id string) (int64, error) {
	m, err := s.Store.FindByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if m == nil {
		return 0, nil
	}
	n, err := s.Store.Remove(ctx, store.Filter{ID: id})
	if err != nil {
		return 0, err
	}
	s.Producer.PublishEvent(mq.MessageEvent{Action: mq.EventMessageRemoved, MessageID: id, RoomID: m.RoomID, Removed: n})
	return n, nil
}

func (s *MessageService) RemoveByRoom(ctx context.Context, roomID string) (int64, error) {
	n, err := s.Store.Remove(ctx, store.Filter{RoomID: roomID})
	if err != nil {
		return 0, err
	}
	s.Producer.PublishEvent(mq.MessageEvent{Action: mq.EventMessageRemoved, RoomID: roomID, Removed: n})
	return n, nil
}

func (s *MessageService) RemoveByRooms(ctx context.Context, roomIDs []string) (int64, error) {
	return s.Store.Remove(ctx, store.Filter{RoomIDs: roomIDs})
}

func (s *MessageService) RemoveByUser(ctx context.Context, userID string) (int64, error) {
	return s.Store.Remove(ctx, store.Filter{AuthorID: userID})
}
