package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"chat-store/internal/models"
	"chat-store/internal/store"
)

// fakeStore 内存实现，镜像 Mongo 实现的语义（含 Update 顺带刷新 _updatedAt）。
// 只解释测试用到的补丁路径。
type fakeStore struct {
	seq  int
	docs []*models.Message
	now  time.Time // 非零时固定"当前时间"，便于断言
}

func newFakeStore() *fakeStore { return &fakeStore{} }

func (s *fakeStore) clock() time.Time {
	if !s.now.IsZero() {
		return s.now
	}
	return time.Now().UTC()
}

func (s *fakeStore) Insert(_ context.Context, m *models.Message) (string, error) {
	if m.ID == "" {
		s.seq++
		m.ID = fmt.Sprintf("m%d", s.seq)
	}
	now := s.clock()
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	cp := *m
	s.docs = append(s.docs, &cp)
	return m.ID, nil
}

func (s *fakeStore) FindByID(_ context.Context, id string) (*models.Message, error) {
	for _, d := range s.docs {
		if d.ID == id {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) Find(_ context.Context, f store.Filter, opt store.FindOptions) ([]*models.Message, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var out []*models.Message
	for _, d := range s.matched(f, opt) {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) FindIDs(_ context.Context, f store.Filter, opt store.FindOptions) ([]string, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var ids []string
	for _, d := range s.matched(f, opt) {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func (s *fakeStore) Update(_ context.Context, f store.Filter, p store.Patch, multi bool) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	if err := p.Validate(); err != nil {
		return 0, err
	}
	var n int64
	for _, d := range s.docs {
		if !match(f, d) {
			continue
		}
		if applyPatch(d, p) {
			if _, explicit := p.Set["_updatedAt"]; !explicit {
				d.UpdatedAt = s.clock()
			}
			n++
		}
		if !multi {
			break
		}
	}
	return n, nil
}

func (s *fakeStore) Remove(_ context.Context, f store.Filter) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	var kept []*models.Message
	var n int64
	for _, d := range s.docs {
		if match(f, d) {
			n++
			continue
		}
		kept = append(kept, d)
	}
	s.docs = kept
	return n, nil
}

func (s *fakeStore) Count(_ context.Context, f store.Filter) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	var n int64
	for _, d := range s.docs {
		if match(f, d) {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) matched(f store.Filter, opt store.FindOptions) []*models.Message {
	var hits []*models.Message
	for _, d := range s.docs {
		if match(f, d) {
			hits = append(hits, d)
		}
	}
	switch opt.Sort {
	case store.SortTSAsc:
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Timestamp.Before(hits[j].Timestamp) })
	case store.SortTSDesc:
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Timestamp.After(hits[j].Timestamp) })
	case store.SortTLMDesc:
		sort.SliceStable(hits, func(i, j int) bool {
			ti, tj := time.Time{}, time.Time{}
			if hits[i].TLM != nil {
				ti = *hits[i].TLM
			}
			if hits[j].TLM != nil {
				tj = *hits[j].TLM
			}
			return ti.After(tj)
		})
	}
	if opt.Skip > 0 {
		if opt.Skip >= int64(len(hits)) {
			return nil
		}
		hits = hits[opt.Skip:]
	}
	if opt.Limit > 0 && int64(len(hits)) > opt.Limit {
		hits = hits[:opt.Limit]
	}
	return hits
}

func match(f store.Filter, m *models.Message) bool {
	if f.ID != "" && m.ID != f.ID {
		return false
	}
	if len(f.IDs) > 0 && !contains(f.IDs, m.ID) {
		return false
	}
	if f.RoomID != "" && m.RoomID != f.RoomID {
		return false
	}
	if len(f.RoomIDs) > 0 && !contains(f.RoomIDs, m.RoomID) {
		return false
	}
	if f.AuthorID != "" && m.User.ID != f.AuthorID {
		return false
	}
	if f.ExcludeAuthorID != "" && m.User.ID == f.ExcludeAuthorID {
		return false
	}
	if len(f.Usernames) > 0 && !contains(f.Usernames, m.User.Username) {
		return false
	}
	if len(f.Types) > 0 && !contains(f.Types, m.Type) {
		return false
	}
	if len(f.ExcludeTypes) > 0 && contains(f.ExcludeTypes, m.Type) {
		return false
	}
	if f.Mention != "" {
		found := false
		for _, u := range m.Mentions {
			if u.Username == f.Mention {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	if f.Text != "" && !strings.Contains(m.Msg, f.Text) {
		return false
	}
	if f.ThreadID != "" && m.ThreadID != f.ThreadID {
		return false
	}
	if f.ThreadRootsOnly && m.TCount == nil {
		return false
	}
	if f.HasLastReply && m.TLM == nil {
		return false
	}
	if f.ExcludeThreadLinked && (m.ThreadID != "" || m.TCount != nil) {
		return false
	}
	if f.ExcludeBuriedReplies && m.ThreadID != "" && !m.ThreadShow {
		return false
	}
	if f.ThreadShowAbsent && m.ThreadShow {
		return false
	}
	if f.DiscussionsOnly && m.DiscussionRoomID == "" {
		return false
	}
	if f.ExcludeDiscussions && m.DiscussionRoomID != "" {
		return false
	}
	if f.HasFile && m.File == nil {
		return false
	}
	if f.ExcludePinned && m.Pinned {
		return false
	}
	if f.Unread && !m.Unread {
		return false
	}
	if f.VisibleOnly && m.Hidden {
		return false
	}
	if f.TokenAbsent && m.Token != "" {
		return false
	}
	if f.After != nil {
		if f.Inclusive {
			if m.Timestamp.Before(*f.After) {
				return false
			}
		} else if !m.Timestamp.After(*f.After) {
			return false
		}
	}
	if f.Before != nil {
		if f.Inclusive {
			if m.Timestamp.After(*f.Before) {
				return false
			}
		} else if !m.Timestamp.Before(*f.Before) {
			return false
		}
	}
	if f.UpdatedAfter != nil && !m.UpdatedAt.After(*f.UpdatedAfter) {
		return false
	}
	if f.SlackBotID != "" && m.SlackBotID != f.SlackBotID {
		return false
	}
	if f.SlackTS != "" && m.SlackTS != f.SlackTS {
		return false
	}
	if f.ImportFileID != "" && (m.ImportFile == nil || m.ImportFile.ID != f.ImportFileID) {
		return false
	}
	if f.ImportPendingDownload {
		imp := m.ImportFile
		if imp == nil || imp.DownloadURL == "" || imp.ExternalURL != "" || imp.Downloaded || imp.External {
			return false
		}
	}
	return true
}

func applyPatch(m *models.Message, p store.Patch) bool {
	changed := false
	for path, v := range p.Set {
		changed = true
		switch path {
		case "msg":
			m.Msg = v.(string)
		case "editedAt":
			t := v.(time.Time)
			m.EditedAt = &t
		case "editedBy":
			u := v.(models.UserRef)
			m.EditedBy = &u
		case "tlm":
			t := v.(time.Time)
			m.TLM = &t
		case "tcount":
			n := v.(int)
			m.TCount = &n
		case "pinned":
			m.Pinned = v.(bool)
		case "_hidden":
			m.Hidden = v.(bool)
		case "_updatedAt":
			m.UpdatedAt = v.(time.Time)
		case "translationProvider":
			m.TranslationProvider = v.(string)
		case "mentions.$.username":
			for i := range m.Mentions {
				m.Mentions[i].Username = v.(string)
			}
		default:
			switch {
			case strings.HasPrefix(path, "translations."):
				if m.Translations == nil {
					m.Translations = map[string]string{}
				}
				m.Translations[strings.TrimPrefix(path, "translations.")] = v.(string)
			}
		}
	}
	for _, path := range p.Unset {
		changed = true
		switch path {
		case "unread":
			m.Unread = false
		case "tmid":
			m.ThreadID = ""
		case "tshow":
			m.ThreadShow = false
		case "tcount":
			m.TCount = nil
		case "tlm":
			m.TLM = nil
		case "replies":
			m.Replies = nil
		case "reactions":
			m.Reactions = nil
		case "pinned":
			m.Pinned = false
		case "_hidden":
			m.Hidden = false
		}
	}
	for path, v := range p.Inc {
		changed = true
		if path == "tcount" {
			base := 0
			if m.TCount != nil {
				base = *m.TCount
			}
			n := base + v
			m.TCount = &n
		}
	}
	for path, v := range p.AddToSet {
		changed = true
		if path == "replies" {
			switch vv := v.(type) {
			case []string:
				for _, u := range vv {
					if !contains(m.Replies, u) {
						m.Replies = append(m.Replies, u)
					}
				}
			case string:
				if !contains(m.Replies, vv) {
					m.Replies = append(m.Replies, vv)
				}
			}
		}
	}
	for path, v := range p.Pull {
		changed = true
		if path == "replies" {
			if u, ok := v.(string); ok {
				var kept []string
				for _, r := range m.Replies {
					if r != u {
						kept = append(kept, r)
					}
				}
				m.Replies = kept
			}
		}
	}
	return changed
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
