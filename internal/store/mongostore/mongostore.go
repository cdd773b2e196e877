package mongostore

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Connect 连接 MongoDB 并返回数据库句柄（启动时显式构造、向下注入，
// 不使用包级单例）。数据库名取 URI 路径段，缺省 "chatstore"。
func Connect(uri string) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	dbName := "chatstore"
	if idx := strings.LastIndexByte(uri, '/'); idx >= 0 && idx < len(uri)-1 {
		name := uri[idx+1:]
		if q := strings.IndexByte(name, '?'); q >= 0 {
			name = name[:q]
		}
		if name != "" {
			dbName = name
		}
	}
	return client.Database(dbName), nil
}
