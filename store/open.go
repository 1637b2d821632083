package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/MasterBuilder91/misyar-connect/config"
)

const connectTimeout = 10 * time.Second

// Open connects the backend named by cfg.Driver and checks it is reachable.
func Open(ctx context.Context, cfg config.Store, log *zap.Logger) (*Stores, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch cfg.Driver {
	case config.DriverMemory:
		log.Warn("using in-memory store, data is lost on exit")
		return NewMemory(), nil

	case config.DriverPostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
			db.SetMaxIdleConns(cfg.MaxOpenConns)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("reach postgres: %w", err)
		}
		log.Info("database connection established", zap.String("driver", cfg.Driver))
		return NewPostgres(db), nil

	case config.DriverMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("reach mongo: %w", err)
		}
		log.Info("database connection established",
			zap.String("driver", cfg.Driver),
			zap.String("database", cfg.MongoDatabase),
		)
		return NewMongo(client.Database(cfg.MongoDatabase)), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
