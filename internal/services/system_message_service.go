package services

import (
	"context"
	"errors"
	"fmt"

	"chat-store/internal/models"
)

// ErrUnknownEventKind 不在注册表内的系统事件类型。
var ErrUnknownEventKind = errors.New("unknown system event kind")

// bodySource 系统事件正文的来源类别。
type bodySource int

const (
	bodyEmpty    bodySource = iota // 正文恒为空串（房间状态切换类）
	bodyActor                      // 正文为动作发起者 username（成员进出类）
	bodyExplicit                   // 正文由调用方给出（改名、命令、指向目标用户等）
)

// eventBody 封闭注册表：每种事件类型的正文来源。
// 新类型必须在此登记，避免调用方随手造 t 值破坏线上格式。
var eventBody = map[models.SystemEventKind]bodySource{
	models.EventRoomArchived:           bodyEmpty,
	models.EventRoomUnarchived:         bodyEmpty,
	models.EventRoomSetReadOnly:        bodyEmpty,
	models.EventRoomRemovedReadOnly:    bodyEmpty,
	models.EventRoomAllowedReacting:    bodyEmpty,
	models.EventRoomDisallowedReacting: bodyEmpty,
	models.EventRoomRenamed:            bodyExplicit,

	models.EventUserJoined:           bodyActor,
	models.EventUserJoinedTeam:       bodyActor,
	models.EventUserJoinedDiscussion: bodyActor,
	models.EventUserLeft:             bodyActor,
	models.EventUserLeftTeam:         bodyActor,

	models.EventUserAdded:              bodyExplicit,
	models.EventUserAddedToTeam:        bodyExplicit,
	models.EventUserRemoved:            bodyExplicit,
	models.EventUserRemovedFromTeam:    bodyExplicit,
	models.EventChannelConvertedToTeam: bodyExplicit,
	models.EventTeamConvertedToChannel: bodyExplicit,
	models.EventRoomAddedToTeam:        bodyExplicit,
	models.EventRoomRemovedFromTeam:    bodyExplicit,
	models.EventRoomDeletedFromTeam:    bodyExplicit,

	models.EventUserMuted:               bodyExplicit,
	models.EventUserUnmuted:             bodyExplicit,
	models.EventNewModerator:            bodyExplicit,
	models.EventModeratorRemoved:        bodyExplicit,
	models.EventNewOwner:                bodyExplicit,
	models.EventOwnerRemoved:            bodyExplicit,
	models.EventNewLeader:               bodyExplicit,
	models.EventLeaderRemoved:           bodyExplicit,
	models.EventSubscriptionRoleAdded:   bodyExplicit,
	models.EventSubscriptionRoleRemoved: bodyExplicit,

	models.EventCommand: bodyExplicit,

	models.EventOTRKeyRefresh: bodyEmpty,
	models.EventOTRJoined:     bodyEmpty,

	models.EventLivechatNavigation: bodyExplicit,
	models.EventLivechatTranscript: bodyExplicit,
}

// SystemEventExtra 事件消息的可选负载。
type SystemEventExtra struct {
	Msg         string // bodyExplicit 类型的正文（目标用户名/新房间名/命令文本等）
	Navigation  *models.Navigation
	Token       string
	File        *models.FileRef
	Attachments []models.Attachment
}

// SystemMessageService 系统事件消息工厂。
// 事件消息与用户消息同集合同实体：t 非空、groupable=false、不可携带线程聚合。
type SystemMessageService struct {
	Msgs *MessageService
}

func NewSystemMessageService(msgs *MessageService) *SystemMessageService {
	return &SystemMessageService{Msgs: msgs}
}

// Create 生成并写入一条系统事件消息。
// livechat 历史类事件（导航/转录）不计入房间消息数。
func (s *SystemMessageService) Create(ctx context.Context, kind models.SystemEventKind, roomID string, actor models.UserRef, extra SystemEventExtra) (*models.Message, error) {
	src, ok := eventBody[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventKind, kind)
	}

	var msg string
	switch src {
	case bodyEmpty:
		msg = ""
	case bodyActor:
		msg = actor.Username
	case bodyExplicit:
		msg = extra.Msg
	}

	groupable := false
	m := &models.Message{
		RoomID:      roomID,
		Type:        string(kind),
		Msg:         msg,
		User:        actor,
		Groupable:   &groupable,
		Navigation:  extra.Navigation,
		Token:       extra.Token,
		File:        extra.File,
		Attachments: extra.Attachments,
	}

	countRoom := kind != models.EventLivechatNavigation && kind != models.EventLivechatTranscript
	return s.Msgs.insert(ctx, m, countRoom)
}

// CreateNavigationHistory livechat 访客页面导航记录。
func (s *SystemMessageService) CreateNavigationHistory(ctx context.Context, roomID string, actor models.UserRef, nav models.Navigation) (*models.Message, error) {
	return s.Create(ctx, models.EventLivechatNavigation, roomID, actor, SystemEventExtra{
		Msg:        nav.Page,
		Navigation: &nav,
		Token:      nav.Token,
	})
}

// CreateTranscriptHistory livechat 会话转录文件记录。
func (s *SystemMessageService) CreateTranscriptHistory(ctx context.Context, roomID string, actor models.UserRef, file models.FileRef, att models.Attachment) (*models.Message, error) {
	return s.Create(ctx, models.EventLivechatTranscript, roomID, actor, SystemEventExtra{
		Msg:         "transcript",
		File:        &file,
		Attachments: []models.Attachment{att},
	})
}
