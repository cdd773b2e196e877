package models

// SystemEventKind 系统事件消息的类型标签（t 字段取值）。
// 字符串常量与历史数据线上格式保持一致，不可改名。
type SystemEventKind string

const (
	EventRoomArchived           SystemEventKind = "room-archived"
	EventRoomUnarchived         SystemEventKind = "room-unarchived"
	EventRoomSetReadOnly        SystemEventKind = "room-set-read-only"
	EventRoomRemovedReadOnly    SystemEventKind = "room-removed-read-only"
	EventRoomAllowedReacting    SystemEventKind = "room-allowed-reacting"
	EventRoomDisallowedReacting SystemEventKind = "room-disallowed-reacting"
	EventRoomRenamed            SystemEventKind = "r"

	EventUserJoined             SystemEventKind = "uj"
	EventUserJoinedTeam         SystemEventKind = "ujt"
	EventUserJoinedDiscussion   SystemEventKind = "ut"
	EventUserLeft               SystemEventKind = "ul"
	EventUserLeftTeam           SystemEventKind = "ult"
	EventUserAdded              SystemEventKind = "au"
	EventUserAddedToTeam        SystemEventKind = "added-user-to-team"
	EventUserRemoved            SystemEventKind = "ru"
	EventUserRemovedFromTeam    SystemEventKind = "removed-user-from-team"
	EventChannelConvertedToTeam SystemEventKind = "user-converted-to-team"
	EventTeamConvertedToChannel SystemEventKind = "user-converted-to-channel"
	EventRoomAddedToTeam        SystemEventKind = "user-added-room-to-team"
	EventRoomRemovedFromTeam    SystemEventKind = "user-removed-room-from-team"
	EventRoomDeletedFromTeam    SystemEventKind = "user-deleted-room-from-team"

	EventUserMuted               SystemEventKind = "user-muted"
	EventUserUnmuted             SystemEventKind = "user-unmuted"
	EventNewModerator            SystemEventKind = "new-moderator"
	EventModeratorRemoved        SystemEventKind = "moderator-removed"
	EventNewOwner                SystemEventKind = "new-owner"
	EventOwnerRemoved            SystemEventKind = "owner-removed"
	EventNewLeader               SystemEventKind = "new-leader"
	EventLeaderRemoved           SystemEventKind = "leader-removed"
	EventSubscriptionRoleAdded   SystemEventKind = "subscription-role-added"
	EventSubscriptionRoleRemoved SystemEventKind = "subscription-role-removed"

	EventCommand SystemEventKind = "command"

	EventOTRKeyRefresh SystemEventKind = "otr-key-refresh"
	EventOTRJoined     SystemEventKind = "au-otr"

	EventLivechatNavigation SystemEventKind = "livechat_navigation_history"
	EventLivechatTranscript SystemEventKind = "livechat_transcript_history"
)
