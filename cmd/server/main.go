package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"chat-store/internal/auth"
	"chat-store/internal/cache"
	"chat-store/internal/config"
	"chat-store/internal/metrics"
	"chat-store/internal/models"
	"chat-store/internal/mq"
	"chat-store/internal/ratelimit"
	"chat-store/internal/services"
	"chat-store/internal/store"
	"chat-store/internal/store/mongostore"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"
)

// 解析查询参数为整数
func parseIntQuery(c *gin.Context, key string, defaultValue int) int {
	value, _ := strconv.Atoi(c.DefaultQuery(key, strconv.Itoa(defaultValue)))
	return value
}

// 解析时间参数：RFC3339 或毫秒时间戳
func parseTimeQuery(c *gin.Context, key string) *time.Time {
	v := c.Query(key)
	if v == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		t := time.UnixMilli(ms).UTC()
		return &t
	}
	return nil
}

func main() {
	cfg := config.Load()

	cache.InitRedis(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	if cfg.EnableMetrics {
		metrics.Init()
	}

	mongoDB, err := mongostore.Connect(cfg.MongoURI)
	if err != nil {
		panic(fmt.Sprintf("MongoDB connection failed: %v", err))
	}
	msgStore := store.NewMongoMessageStore(mongoDB)

	settings := cache.NewSettingsFlags(cache.Client())
	rooms := cache.NewRoomCounters(cache.Client())

	readSvc := services.NewReadReceiptService(msgStore, settings)
	msgSvc := services.NewMessageService(msgStore)
	msgSvc.Rooms = rooms
	msgSvc.Reads = readSvc
	threadSvc := services.NewThreadService(msgStore)
	sysSvc := services.NewSystemMessageService(msgSvc)

	var producer *mq.KafkaProducer
	if cfg.KafkaBrokers != "" {
		p, err := mq.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
		if err == nil {
			producer = p
			msgSvc.Producer = p
		}
		defer func() {
			if producer != nil {
				_ = producer.Close()
			}
		}()
	}

	limiter := ratelimit.NewTokenBucketLimiter(cache.Client())

	r := gin.Default()
	// 健康/指标
	r.GET("/healthz", func(c *gin.Context) { c.String(200, "ok") })
	if cfg.EnableMetrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// 简易认证
	authn := func(c *gin.Context) (string, bool) {
		tok := c.GetHeader("Authorization")
		if len(tok) > 7 && tok[:7] == "Bearer " {
			tok = tok[7:]
		}
		cl, err := auth.ParseJWT(cfg.JWTSecret, tok)
		if err != nil {
			c.JSON(401, gin.H{"error": "unauthorized"})
			return "", false
		}
		return cl.UserID, true
	}

	// 发消息（顶层或线程回复）
	r.POST("/api/messages", func(c *gin.Context) {
		uid, ok := authn(c)
		if !ok {
			return
		}
		allowed, _ := limiter.Allow(c, uid+":send", cfg.SendQPS, cfg.SendBurst)
		if !allowed {
			c.JSON(429, gin.H{"error": "rate limited"})
			return
		}
		var req struct {
			RoomID      string              `json:"rid" binding:"required"`
			Msg         string              `json:"msg"`
			Username    string              `json:"username"`
			ThreadID    string              `json:"tmid"`
			ThreadShow  bool                `json:"tshow"`
			Attachments []models.Attachment `json:"attachments"`
			Mentions    []models.UserRef    `json:"mentions"`
			File        *models.FileRef     `json:"file"`
			Location    *models.GeoPoint    `json:"location"`
			ExpireAt    *time.Time          `json:"expireAt"`
			Token       string              `json:"token"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		m := &models.Message{
			RoomID:      req.RoomID,
			Msg:         req.Msg,
			User:        models.UserRef{ID: uid, Username: req.Username},
			ThreadID:    req.ThreadID,
			ThreadShow:  req.ThreadShow,
			Attachments: req.Attachments,
			Mentions:    req.Mentions,
			File:        req.File,
			Location:    req.Location,
			ExpireAt:    req.ExpireAt,
			Token:       req.Token,
		}
		if _, err := msgSvc.Insert(c, m); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		// 回复入库后更新根聚合（作者自动成为关注者）
		if m.ThreadID != "" {
			if _, err := threadSvc.AddReply(c, m.ThreadID, []string{uid}, m.Timestamp); err != nil {
				c.JSON(500, gin.H{"error": err.Error()})
				return
			}
		}
		c.JSON(200, m)
	})

	// 单条读取
	r.GET("/api/messages/:id", func(c *gin.Context) {
		if _, ok := authn(c); !ok {
			return
		}
		m, err := msgSvc.FindByID(c, c.Param("id"))
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		if m == nil {
			c.JSON(404, gin.H{"error": "not found"})
			return
		}
		c.JSON(200, m)
	})

	// 编辑
	r.PUT("/api/messages/:id", func(c *gin.Context) {
		uid, ok := authn(c)
		if !ok {
			return
		}
		var req struct {
			Msg      string `json:"msg" binding:"required"`
			Username string `json:"username"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		n, err := msgSvc.Edit(c, c.Param("id"), req.Msg, models.UserRef{ID: uid, Username: req.Username})
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"modified": n})
	})

	// 删除（线程根连带摘除回复引用，回复连带根计数回退）
	r.DELETE("/api/messages/:id", func(c *gin.Context) {
		if _, ok := authn(c); !ok {
			return
		}
		id := c.Param("id")
		m, err := msgSvc.FindByID(c, id)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		if m == nil {
			c.JSON(404, gin.H{"error": "not found"})
			return
		}
		if _, err := msgSvc.RemoveByID(c, id); err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		if m.IsThreadRoot() {
			_, _ = threadSvc.RemoveThreadRefs(c, id)
		} else if m.IsReply() {
			_, _ = threadSvc.DecrementReplyCount(c, m.ThreadID, 1)
		}
		c.Status(204)
	})

	// 表情
	r.PUT("/api/messages/:id/reactions", func(c *gin.Context) {
		if _, ok := authn(c); !ok {
			return
		}
		var req map[string]models.Reaction
		if err := c.BindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		var (
			n   int64
			err error
		)
		if len(req) == 0 {
			n, err = msgSvc.UnsetReactions(c, c.Param("id"))
		} else {
			n, err = msgSvc.SetReactions(c, c.Param("id"), req)
		}
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"modified": n})
	})

	// 置顶/隐藏
	r.POST("/api/messages/:id/pin", func(c *gin.Context) {
		if _, ok := authn(c); !ok {
			return
		}
		var req struct{ Pinned bool }
		if err := c.BindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		n, err := msgSvc.SetPinned(c, c.Param("id"), req.Pinned)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"modified": n})
	})
	r.POST("/api/messages/:id/hide", func(c *gin.Context) {
		if _, ok := authn(c); !ok {
			return
		}
		var req struct{ Hidden bool }
		if err := c.BindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		n, err := msgSvc.SetHidden(c, c.Param("id"), req.Hidden)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"modified": n})
	})

	// 翻译
	r.POST("/api/messages/:id/translations", func(c *gin.Context) {
		if _, ok := authn(c); !ok {
			return
		}
		var req struct {
			Translations    map[string]string `json:"translations" binding:"required"`
			Provider        string            `json:"provider"`
			AttachmentIndex *int              `json:"attachmentIndex"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		var (
			n   int64
			err error
		)
		if req.AttachmentIndex != nil {
			n, err = msgSvc.AddAttachmentTranslations(c, c.Param("id"), *req.AttachmentIndex, req.Translations)
		} else {
			n, err = msgSvc.AddTranslations(c, c.Param("id"), req.Translations, req.Provider)
		}
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"modified": n})
	})

	// 房间历史：时间窗 + 类型排除 + 线程回复可见性
	r.GET("/api/rooms/:rid/messages", func(c *gin.Context) {
		if _, ok := authn(c); !ok {
			return
		}
		q := services.VisibleQuery{
			RoomID:             c.Param("rid"),
			Before:             parseTimeQuery(c, "before"),
			After:              parseTimeQuery(c, "after"),
			Inclusive:          c.Query("inclusive") == "true",
			ShowThreadMessages: c.Query("threadReplies") == "true",
			Skip:               int64(parseIntQuery(c, "skip", 0)),
			Limit:              int64(cfg.ClampLimit(parseIntQuery(c, "limit", 0))),
		}
		if v := c.Query("excludeTypes"); v != "" {
			q.ExcludeTypes = strings.Split(v, ",")
		}
		list, err := msgSvc.FindVisibleByRoom(c, q)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"messages": list})
	})

	// 增量同步
	r.GET("/api/rooms/:rid/updates", func(c *gin.Context) {
		if _, ok := authn(c); !ok {
			return
		}
		since := parseTimeQuery(c, "since")
		if since == nil {
			c.JSON(400, gin.H{"error": "since is required"})
			return
		}
		list, err := msgSvc.FindForUpdates(c, c.Param("rid"), *since, int64(cfg.ClampLimit(parseIntQuery(c, "limit", 0))))
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"messages": list})
	})

	// 附件文件枚举
	r.GET("/api/rooms/:rid/files", func(c *gin.Context) {
		if _, ok := authn(c); !ok {
			return
		}
		q := services.FilesQuery{
			RoomID:            c.Param("rid"),
			ExcludePinned:     c.Query("excludePinned") == "true",
			IgnoreDiscussions: c.Query("ignoreDiscussions") == "true",
			IgnoreThreads:     c.Query("ignoreThreads") == "true",
			Before:            parseTimeQuery(c, "before"),
			After:             parseTimeQuery(c, "after"),
		}
		if v := c.Query("users"); v != "" {
			q.Usernames = strings.Split(v, ",")
		}
		list, err := msgSvc.FindFilesByRoom(c, q, store.FindOptions{
			Sort:  store.SortTSDesc,
			Limit: int64(cfg.ClampLimit(parseIntQuery(c, "limit", 0))),
		})
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"messages": list})
	})

	// 讨论入口
	r.GET("/api/rooms/:rid/discussions", func(c *gin.Context) {
		if _, ok := authn(c); !ok {
			return
		}
		var usernames []string
		if v := c.Query("users"); v != "" {
			usernames = strings.Split(v, ",")
		}
		list, err := msgSvc.FindDiscussionsByRoom(c, c.Param("rid"),
			c.Query("excludePinned") == "true", parseTimeQuery(c, "before"), usernames,
			store.FindOptions{Sort: store.SortTSDesc, Limit: int64(cfg.ClampLimit(parseIntQuery(c, "limit", 0)))})
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"messages": list})
	})

	// 提及
	r.GET("/api/mentions/:username", func(c *gin.Context) {
		if _, ok := authn(c); !ok {
			return
		}
		list, err := msgSvc.FindByMention(c, c.Param("username"), int64(cfg.ClampLimit(parseIntQuery(c, "limit", 0))))
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"messages": list})
	})

	// 全文检索
	r.GET("/api/search", func(c *gin.Context) {
		if _, ok := authn(c); !ok {
			return
		}
		rid, text := c.Query("rid"), c.Query("q")
		if rid == "" || text == "" {
			c.JSON(400, gin.H{"error": "rid and q are required"})
			return
		}
		list, err := msgSvc.Search(c, rid, text, int64(cfg.ClampLimit(parseIntQuery(c, "limit", 0))))
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"messages": list})
	})

	// 线程
	r.GET("/api/rooms/:rid/threads", func(c *gin.Context) {
		if _, ok := authn(c); !ok {
			return
		}
		q := services.ThreadListQuery{
			RoomID:        c.Param("rid"),
			ExcludePinned: c.Query("excludePinned") == "true",
			Before:        parseTimeQuery(c, "before"),
			Skip:          int64(parseIntQuery(c, "skip", 0)),
			Limit:         int64(cfg.ClampLimit(parseIntQuery(c, "limit", 0))),
		}
		if v := c.Query("users"); v != "" {
			q.Usernames = strings.Split(v, ",")
		}
		list, err := threadSvc.ListThreads(c, q)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"threads": list})
	})
	r.GET("/api/rooms/:rid/threads/count", func(c *gin.Context) {
		if _, ok := authn(c); !ok {
			return
		}
		n, err := threadSvc.CountThreads(c, c.Param("rid"))
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"count": n})
	})
	r.GET("/api/threads/:id/replies", func(c *gin.Context) {
		if _, ok := authn(c); !ok {
			return
		}
		list, err := threadSvc.FindReplies(c, c.Param("id"), store.FindOptions{
			Skip:  int64(parseIntQuery(c, "skip", 0)),
			Limit: int64(cfg.ClampLimit(parseIntQuery(c, "limit", 0))),
		})
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"messages": list})
	})
	r.POST("/api/threads/:id/follow", func(c *gin.Context) {
		uid, ok := authn(c)
		if !ok {
			return
		}
		if _, err := threadSvc.Follow(c, c.Param("id"), uid); err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.Status(204)
	})
	r.POST("/api/threads/:id/unfollow", func(c *gin.Context) {
		uid, ok := authn(c)
		if !ok {
			return
		}
		if _, err := threadSvc.Unfollow(c, c.Param("id"), uid); err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.Status(204)
	})
	r.GET("/api/threads/:id/followers", func(c *gin.Context) {
		if _, ok := authn(c); !ok {
			return
		}
		followers, err := threadSvc.Followers(c, c.Param("id"))
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"followers": followers})
	})

	// 已读回执
	r.POST("/api/rooms/:rid/read", func(c *gin.Context) {
		if _, ok := authn(c); !ok {
			return
		}
		var req struct {
			Until time.Time `json:"until" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		rid := c.Param("rid")
		n, err := readSvc.MarkRoomReadUntil(c, rid, req.Until)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		producer.PublishEvent(mq.MessageEvent{Action: mq.EventRoomRead, RoomID: rid})
		c.JSON(200, gin.H{"cleared": n})
	})
	r.POST("/api/messages/:id/read", func(c *gin.Context) {
		if _, ok := authn(c); !ok {
			return
		}
		n, err := readSvc.MarkOneRead(c, c.Param("id"))
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"cleared": n})
	})
	r.GET("/api/rooms/:rid/unread", func(c *gin.Context) {
		if _, ok := authn(c); !ok {
			return
		}
		since := parseTimeQuery(c, "since")
		if since == nil {
			c.JSON(400, gin.H{"error": "since is required"})
			return
		}
		ids, err := readSvc.FindUnreadSince(c, c.Param("rid"), *since)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"ids": ids})
	})
	r.GET("/api/threads/:id/unread", func(c *gin.Context) {
		uid, ok := authn(c)
		if !ok {
			return
		}
		since := parseTimeQuery(c, "since")
		if since == nil {
			c.JSON(400, gin.H{"error": "since is required"})
			return
		}
		ids, err := readSvc.FindUnreadThreadRepliesSince(c, c.Param("id"), uid, *since)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"ids": ids})
	})

	// 系统事件消息
	r.POST("/api/system-messages", func(c *gin.Context) {
		uid, ok := authn(c)
		if !ok {
			return
		}
		var req struct {
			Kind     string `json:"kind" binding:"required"`
			RoomID   string `json:"rid" binding:"required"`
			Username string `json:"username"`
			Msg      string `json:"msg"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		m, err := sysSvc.Create(c, models.SystemEventKind(req.Kind), req.RoomID,
			models.UserRef{ID: uid, Username: req.Username}, services.SystemEventExtra{Msg: req.Msg})
		if err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, m)
	})

	// 管理后台 API
	adminGroup := r.Group("/api/admin")
	{
		adminGroup.POST("/login", func(c *gin.Context) {
			var req struct {
				Username string `json:"username" binding:"required"`
				Password string `json:"password" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(400, gin.H{"error": err.Error()})
				return
			}
			if req.Username != "admin" || cfg.AdminPasswordHash == "" ||
				bcrypt.CompareHashAndPassword([]byte(cfg.AdminPasswordHash), []byte(req.Password)) != nil {
				c.JSON(401, gin.H{"error": "invalid credentials"})
				return
			}
			token, _ := auth.SignJWT(cfg.JWTSecret, "admin", 24*time.Hour)
			c.JSON(200, gin.H{"token": token})
		})

		adminAuth := func(c *gin.Context) {
			authHeader := c.GetHeader("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				c.JSON(401, gin.H{"error": "unauthorized"})
				c.Abort()
				return
			}
			claims, err := auth.ParseJWT(cfg.JWTSecret, strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil || claims.UserID != "admin" {
				c.JSON(401, gin.H{"error": "unauthorized"})
				c.Abort()
				return
			}
			c.Next()
		}

		adminGroup.Use(adminAuth)
		adminGroup.DELETE("/rooms/:rid/messages", func(c *gin.Context) {
			n, err := msgSvc.RemoveByRoom(c, c.Param("rid"))
			if err != nil {
				c.JSON(500, gin.H{"error": err.Error()})
				return
			}
			c.JSON(200, gin.H{"removed": n})
		})
		adminGroup.POST("/rooms/delete", func(c *gin.Context) {
			var req struct {
				RoomIDs []string `json:"rids" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(400, gin.H{"error": err.Error()})
				return
			}
			n, err := msgSvc.RemoveByRooms(c, req.RoomIDs)
			if err != nil {
				c.JSON(500, gin.H{"error": err.Error()})
				return
			}
			c.JSON(200, gin.H{"removed": n})
		})
		adminGroup.DELETE("/users/:uid/messages", func(c *gin.Context) {
			n, err := msgSvc.RemoveByUser(c, c.Param("uid"))
			if err != nil {
				c.JSON(500, gin.H{"error": err.Error()})
				return
			}
			c.JSON(200, gin.H{"removed": n})
		})
		// 按需触发对账（周期任务在 reconciler 进程）
		adminGroup.POST("/reconcile", func(c *gin.Context) {
			fixed, err := msgStore.ReconcileThreadCounts(c)
			if err != nil {
				c.JSON(500, gin.H{"error": err.Error()})
				return
			}
			c.JSON(200, gin.H{"fixed": fixed})
		})
	}

	_ = r.Run(cfg.ListenAddr)
}
