package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"chat-store/internal/models"
	"chat-store/internal/store"
)

type countingRooms struct {
	counts map[string]int64
}

func (r *countingRooms) IncrementMessageCount(_ context.Context, roomID string, delta int64) error {
	if r.counts == nil {
		r.counts = map[string]int64{}
	}
	r.counts[roomID] += delta
	return nil
}

func newTestMessageService() (*MessageService, *fakeStore, *countingRooms) {
	fs := newFakeStore()
	rooms := &countingRooms{}
	svc := NewMessageService(fs)
	svc.Rooms = rooms
	svc.Reads = NewReadReceiptService(fs, fixedSettings{enabled: true})
	return svc, fs, rooms
}

func TestInsertValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestMessageService()

	cases := []struct {
		name string
		m    *models.Message
	}{
		{"missing room", &models.Message{User: models.UserRef{ID: "a"}}},
		{"missing author", &models.Message{RoomID: "r1"}},
		{"reply with tcount", func() *models.Message {
			n := 1
			return &models.Message{RoomID: "r1", ThreadID: "root", TCount: &n, User: models.UserRef{ID: "a"}}
		}()},
		{"reply with replies", &models.Message{RoomID: "r1", ThreadID: "root", Replies: []string{"a"}, User: models.UserRef{ID: "a"}}},
		{"self reply", &models.Message{ID: "x", RoomID: "r1", ThreadID: "x", User: models.UserRef{ID: "a"}}},
	}
	for _, tc := range cases {
		if _, err := svc.Insert(ctx, tc.m); !errors.Is(err, ErrInvalidRecord) {
			t.Errorf("%s: err = %v, want ErrInvalidRecord", tc.name, err)
		}
	}
}

func TestInsertCountsOnlyTopLevel(t *testing.T) {
	ctx := context.Background()
	svc, _, rooms := newTestMessageService()

	if _, err := svc.Insert(ctx, &models.Message{RoomID: "r1", Msg: "hi", User: models.UserRef{ID: "a"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Insert(ctx, &models.Message{RoomID: "r1", Msg: "re", ThreadID: "root", User: models.UserRef{ID: "a"}}); err != nil {
		t.Fatal(err)
	}
	if rooms.counts["r1"] != 1 {
		t.Fatalf("room count = %d, want 1 (replies excluded)", rooms.counts["r1"])
	}
}

func TestInsertStampsUnread(t *testing.T) {
	ctx := context.Background()
	svc, fs, _ := newTestMessageService()

	m, err := svc.Insert(ctx, &models.Message{RoomID: "r1", Msg: "hi", User: models.UserRef{ID: "a"}})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := fs.FindByID(ctx, m.ID)
	if !got.Unread {
		t.Fatal("unread not stamped on insert while receipts enabled")
	}
}

func TestVisibleByRoomWindowAndBurial(t *testing.T) {
	ctx := context.Background()
	svc, fs, _ := newTestMessageService()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	seedMessage(t, fs, &models.Message{ID: "m1", RoomID: "r1", Timestamp: base, User: models.UserRef{ID: "a"}})
	seedMessage(t, fs, &models.Message{ID: "m2", RoomID: "r1", Timestamp: base.Add(time.Hour), User: models.UserRef{ID: "a"}})
	seedMessage(t, fs, &models.Message{ID: "hid", RoomID: "r1", Hidden: true, Timestamp: base.Add(time.Hour), User: models.UserRef{ID: "a"}})
	seedMessage(t, fs, &models.Message{ID: "buried", RoomID: "r1", ThreadID: "m1", Timestamp: base.Add(2 * time.Hour), User: models.UserRef{ID: "a"}})
	seedMessage(t, fs, &models.Message{ID: "shown", RoomID: "r1", ThreadID: "m1", ThreadShow: true, Timestamp: base.Add(3 * time.Hour), User: models.UserRef{ID: "a"}})
	seedMessage(t, fs, &models.Message{ID: "sys", RoomID: "r1", Type: "uj", Timestamp: base.Add(4 * time.Hour), User: models.UserRef{ID: "a"}})

	// 默认：隐藏与埋没回复排除，系统消息按调用方给的类型排除
	list, err := svc.FindVisibleByRoom(ctx, VisibleQuery{RoomID: "r1", ExcludeTypes: []string{"uj"}})
	if err != nil {
		t.Fatal(err)
	}
	ids := idsOf(list)
	if len(ids) != 3 || ids[0] != "shown" || ids[1] != "m2" || ids[2] != "m1" {
		t.Fatalf("visible = %v, want [shown m2 m1] (ts desc)", ids)
	}

	// 开区间边界：before=m2.ts 时 m2 不出现
	cut := base.Add(time.Hour)
	list, _ = svc.FindVisibleByRoom(ctx, VisibleQuery{RoomID: "r1", Before: &cut})
	if ids := idsOf(list); len(ids) != 1 || ids[0] != "m1" {
		t.Fatalf("exclusive before = %v, want [m1]", ids)
	}

	// 闭区间边界：同一水位包含 m2
	list, _ = svc.FindVisibleByRoom(ctx, VisibleQuery{RoomID: "r1", Before: &cut, Inclusive: true})
	if ids := idsOf(list); len(ids) != 2 {
		t.Fatalf("inclusive before = %v, want [m2 m1]", ids)
	}

	// threadReplies=true 连埋没回复一起给
	list, _ = svc.FindVisibleByRoom(ctx, VisibleQuery{RoomID: "r1", ShowThreadMessages: true, ExcludeTypes: []string{"uj"}})
	if ids := idsOf(list); len(ids) != 4 {
		t.Fatalf("with thread replies = %v, want 4 entries", ids)
	}
}

func TestFindForUpdatesUsesUpdatedAt(t *testing.T) {
	ctx := context.Background()
	svc, fs, _ := newTestMessageService()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	fs.now = base
	m := seedMessage(t, fs, &models.Message{RoomID: "r1", Msg: "v1", User: models.UserRef{ID: "a"}})
	seedMessage(t, fs, &models.Message{RoomID: "r1", Msg: "untouched", User: models.UserRef{ID: "a"}})

	// 编辑发生在水位之后：即使 ts 在水位前也要进增量
	fs.now = base.Add(2 * time.Hour)
	if _, err := svc.Edit(ctx, m.ID, "v2", models.UserRef{ID: "a"}); err != nil {
		t.Fatal(err)
	}

	since := base.Add(time.Hour)
	list, err := svc.FindForUpdates(ctx, "r1", since, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != m.ID {
		t.Fatalf("updates = %v, want only edited message", idsOf(list))
	}
	if list[0].Msg != "v2" || list[0].EditedAt == nil {
		t.Fatalf("edit not applied: msg=%q editedAt=%v", list[0].Msg, list[0].EditedAt)
	}
}

func TestPinnedAndHiddenToggle(t *testing.T) {
	ctx := context.Background()
	svc, fs, _ := newTestMessageService()
	m := seedMessage(t, fs, &models.Message{RoomID: "r1", User: models.UserRef{ID: "a"}})

	if _, err := svc.SetPinned(ctx, m.ID, true); err != nil {
		t.Fatal(err)
	}
	if got, _ := fs.FindByID(ctx, m.ID); !got.Pinned {
		t.Fatal("pin not applied")
	}
	if _, err := svc.SetPinned(ctx, m.ID, false); err != nil {
		t.Fatal(err)
	}
	if got, _ := fs.FindByID(ctx, m.ID); got.Pinned {
		t.Fatal("unpin not applied")
	}

	if _, err := svc.SetHidden(ctx, m.ID, true); err != nil {
		t.Fatal(err)
	}
	list, _ := svc.FindVisibleByRoom(ctx, VisibleQuery{RoomID: "r1"})
	if len(list) != 0 {
		t.Fatal("hidden message still visible")
	}
}

func TestAddTranslations(t *testing.T) {
	ctx := context.Background()
	svc, fs, _ := newTestMessageService()
	m := seedMessage(t, fs, &models.Message{RoomID: "r1", Msg: "hello", User: models.UserRef{ID: "a"}})

	if _, err := svc.AddTranslations(ctx, m.ID, map[string]string{"pt": "olá"}, "deepl"); err != nil {
		t.Fatal(err)
	}
	// 追加第二语言不抹掉第一条
	if _, err := svc.AddTranslations(ctx, m.ID, map[string]string{"fr": "salut"}, "deepl"); err != nil {
		t.Fatal(err)
	}
	got, _ := fs.FindByID(ctx, m.ID)
	if got.Translations["pt"] != "olá" || got.Translations["fr"] != "salut" {
		t.Fatalf("translations = %v", got.Translations)
	}
	if got.TranslationProvider != "deepl" {
		t.Fatalf("provider = %q", got.TranslationProvider)
	}
}

func TestUpdateMentionUsername(t *testing.T) {
	ctx := context.Background()
	svc, fs, _ := newTestMessageService()
	m := seedMessage(t, fs, &models.Message{RoomID: "r1", Msg: "hi @old",
		Mentions: []models.UserRef{{ID: "u1", Username: "old"}}, User: models.UserRef{ID: "a"}})

	n, err := svc.UpdateMentionUsername(ctx, m.ID, "old", "new", "hi @new")
	if err != nil || n != 1 {
		t.Fatalf("UpdateMentionUsername = (%d, %v)", n, err)
	}
	got, _ := fs.FindByID(ctx, m.ID)
	if got.Mentions[0].Username != "new" || got.Msg != "hi @new" {
		t.Fatalf("mention not rewritten: %v %q", got.Mentions, got.Msg)
	}

	// 不含该提及的消息不受影响
	n, _ = svc.UpdateMentionUsername(ctx, m.ID, "old", "x", "y")
	if n != 0 {
		t.Fatalf("matched %d after rename, want 0", n)
	}
}

func TestRemoveByRoomScoped(t *testing.T) {
	ctx := context.Background()
	svc, fs, _ := newTestMessageService()
	seedMessage(t, fs, &models.Message{RoomID: "r1", User: models.UserRef{ID: "a"}})
	seedMessage(t, fs, &models.Message{RoomID: "r1", User: models.UserRef{ID: "a"}})
	keep := seedMessage(t, fs, &models.Message{RoomID: "r2", User: models.UserRef{ID: "a"}})

	n, err := svc.RemoveByRoom(ctx, "r1")
	if err != nil || n != 2 {
		t.Fatalf("RemoveByRoom = (%d, %v), want (2, nil)", n, err)
	}
	if got, _ := fs.FindByID(ctx, keep.ID); got == nil {
		t.Fatal("other room removed")
	}
}

func TestEmptyPredicateRejected(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	if _, err := fs.Remove(ctx, store.Filter{}); !errors.Is(err, store.ErrInvalidFilter) {
		t.Fatalf("empty remove err = %v, want ErrInvalidFilter", err)
	}
	if _, err := fs.Update(ctx, store.Filter{ID: "x"}, store.Patch{}, false); !errors.Is(err, store.ErrInvalidFilter) {
		t.Fatalf("empty patch err = %v, want ErrInvalidFilter", err)
	}
}

func idsOf(list []*models.Message) []string {
	var ids []string
	for _, m := range list {
		ids = append(ids, m.ID)
	}
	return ids
}
