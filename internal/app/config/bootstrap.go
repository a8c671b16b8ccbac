package config

import (
	"context"
	"log"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type Bootstrap struct {
	Router         *chi.Mux
	Redis          *redis.Client
	MongoDB        *mongo.Database
	Logger         *zap.Logger
	InternalConfig *InternalConfig
	DriverConfig   *DriverConfig
	// Stoppers run first during Shutdown, in registration order, so consumers
	// and listeners drain before the connections they use are closed.
	Stoppers []func(ctx context.Context) error
}

func (b *Bootstrap) OnShutdown(stop func(ctx context.Context) error) {
	b.Stoppers = append(b.Stoppers, stop)
}

func (b *Bootstrap) Shutdown(ctx context.Context) error {
	for _, stop := range b.Stoppers {
		if err := stop(ctx); err != nil {
			return err
		}
	}
	log.Println("Successfully stopped workflow consumers and listeners")

	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			return err
		}
		log.Println("Successfully closing Redis")
	}

	if b.MongoDB != nil {
		if err := b.MongoDB.Client().Disconnect(ctx); err != nil {
			return err
		}
		log.Println("Successfully closing MongoDB")
	}

	if b.Logger != nil {
		b.Logger.Sync()
		log.Println("Successfully closing Logger")
	}
	return nil
}
