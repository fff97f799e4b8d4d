package redis

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
)

// Connect returns a client for addr, or nil when addr is empty or the server
// does not answer. Redis is optional; callers fall back to the database.
func Connect(ctx context.Context, addr, password string) *redis.Client {
	if addr == "" {
		log.Println("[REDIS] REDIS_URL not set, pointer cache disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("[REDIS] Warning: Could not connect to Redis: %v. Falling back to database only.", err)
		client.Close()
		return nil
	}

	log.Println("[REDIS] Connected successfully")
	return client
}
