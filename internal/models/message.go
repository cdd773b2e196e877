package models

import "time"

// Message 为消息集合的核心实体（单集合，多形态负载）。
// 字段约定：可选字段"缺失"即表示"不适用"，序列化层用 omitempty/指针保证
// 缺失而非零值落库——稀疏/部分索引依赖该约定，不得用哨兵值代替。
// - TCount/TLM/Replies 仅存在于线程根消息（带 TMID 的回复不允许携带）
// - TCount 指针类型：根消息允许 tcount=0，omitempty int 会丢 0 值
// - Groupable 指针类型：系统消息需要持久化 groupable=false
// - Unread 缺失即"已读"；仅在已读回执开启期间有意义
type Message struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	RoomID    string    `bson:"rid" json:"rid"`
	Type      string    `bson:"t,omitempty" json:"t,omitempty"` // 空表示普通用户消息
	Msg       string    `bson:"msg" json:"msg"`
	Timestamp time.Time `bson:"ts" json:"ts"`
	UpdatedAt time.Time `bson:"_updatedAt" json:"_updatedAt"`
	User      UserRef   `bson:"u" json:"u"` // 作者快照，写入后不随用户名变更回写

	// 可选 facet（互相独立）
	Attachments []Attachment        `bson:"attachments,omitempty" json:"attachments,omitempty"`
	Reactions   map[string]Reaction `bson:"reactions,omitempty" json:"reactions,omitempty"`
	Mentions    []UserRef           `bson:"mentions,omitempty" json:"mentions,omitempty"`
	Location    *GeoPoint           `bson:"location,omitempty" json:"location,omitempty"`
	File        *FileRef            `bson:"file,omitempty" json:"file,omitempty"`
	Pinned      bool                `bson:"pinned,omitempty" json:"pinned,omitempty"`
	Hidden      bool                `bson:"_hidden,omitempty" json:"_hidden,omitempty"`
	EditedAt    *time.Time          `bson:"editedAt,omitempty" json:"editedAt,omitempty"`
	EditedBy    *UserRef            `bson:"editedBy,omitempty" json:"editedBy,omitempty"`
	Groupable   *bool               `bson:"groupable,omitempty" json:"groupable,omitempty"`
	ExpireAt    *time.Time          `bson:"expireAt,omitempty" json:"expireAt,omitempty"` // TTL 索引按该字段精确到期清理

	// 翻译（消息级；附件级翻译挂在 Attachment 上）
	Translations        map[string]string `bson:"translations,omitempty" json:"translations,omitempty"`
	TranslationProvider string            `bson:"translationProvider,omitempty" json:"translationProvider,omitempty"`

	// 外部系统关联
	SlackBotID string      `bson:"slackBotId,omitempty" json:"slackBotId,omitempty"`
	SlackTS    string      `bson:"slackTs,omitempty" json:"slackTs,omitempty"`
	ImportFile *ImportFile `bson:"_importFile,omitempty" json:"_importFile,omitempty"`

	// 已读回执
	Unread bool `bson:"unread,omitempty" json:"unread,omitempty"`

	// 讨论/线程关联
	DiscussionRoomID string     `bson:"drid,omitempty" json:"drid,omitempty"`
	ThreadID         string     `bson:"tmid,omitempty" json:"tmid,omitempty"` // 指向线程根
	ThreadShow       bool       `bson:"tshow,omitempty" json:"tshow,omitempty"`
	TCount           *int       `bson:"tcount,omitempty" json:"tcount,omitempty"`
	TLM              *time.Time `bson:"tlm,omitempty" json:"tlm,omitempty"`
	Replies          []string   `bson:"replies,omitempty" json:"replies,omitempty"` // 关注者/回复者 userId 集合

	// livechat 导航
	Navigation *Navigation `bson:"navigation,omitempty" json:"navigation,omitempty"`
	Token      string      `bson:"token,omitempty" json:"token,omitempty"` // livechat 访客标记

	// OTR 确认标记
	OTRAck string `bson:"otrAck,omitempty" json:"otrAck,omitempty"`
}

// UserRef 为作者/提及的用户快照。
type UserRef struct {
	ID       string `bson:"_id" json:"_id"`
	Username string `bson:"username" json:"username"`
}

// Attachment 附件，保持有序；Translations 为附件级翻译条目。
type Attachment struct {
	Title        string            `bson:"title,omitempty" json:"title,omitempty"`
	TitleLink    string            `bson:"title_link,omitempty" json:"title_link,omitempty"`
	Text         string            `bson:"text,omitempty" json:"text,omitempty"`
	ImageURL     string            `bson:"image_url,omitempty" json:"image_url,omitempty"`
	Translations map[string]string `bson:"translations,omitempty" json:"translations,omitempty"`
}

// Reaction 表情回应：usernames 为去重集合。
type Reaction struct {
	Usernames []string `bson:"usernames" json:"usernames"`
}

// GeoPoint GeoJSON Point，供 2dsphere 索引。
type GeoPoint struct {
	Type        string     `bson:"type" json:"type"` // 固定 "Point"
	Coordinates [2]float64 `bson:"coordinates" json:"coordinates"`
}

// FileRef 附件文件引用（file._id 走稀疏索引）。
type FileRef struct {
	ID   string `bson:"_id" json:"_id"`
	Name string `bson:"name,omitempty" json:"name,omitempty"`
}

// ImportFile 导入任务的文件簿记。
type ImportFile struct {
	ID          string `bson:"id" json:"id"`
	DownloadURL string `bson:"downloadUrl,omitempty" json:"downloadUrl,omitempty"`
	ExternalURL string `bson:"rocketChatUrl,omitempty" json:"rocketChatUrl,omitempty"`
	Downloaded  bool   `bson:"downloaded,omitempty" json:"downloaded,omitempty"`
	External    bool   `bson:"external,omitempty" json:"external,omitempty"`
}

// Navigation livechat 页面导航记录。
type Navigation struct {
	Page  string `bson:"page,omitempty" json:"page,omitempty"`
	Token string `bson:"token,omitempty" json:"token,omitempty"`
}

// IsThreadRoot 判断是否线程根（以聚合字段存在为准）。
func (m *Message) IsThreadRoot() bool { return m.TCount != nil }

// IsReply 判断是否线程回复。
func (m *Message) IsReply() bool { return m.ThreadID != "" }
