package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"veche/internal/models"

	"github.com/redis/go-redis/v9"
)

// Redis layout for user status:
//
//	<prefix>online    set of online user ids
//	<prefix>lastseen  hash user id -> unix seconds of the last transition
const DefaultRedisPrefix = "veche:"

// Directory resolves profile fields for user ids held in Redis.
type Directory interface {
	GetUser(ctx context.Context, id string) (models.User, error)
}

// RedisStatus keeps user online status in Redis so it survives restarts
// of a single node and can be read by external tooling.
type RedisStatus struct {
	client    *redis.Client
	directory Directory
	prefix    string
	now       func() time.Time
}

func NewRedisStatus(client *redis.Client, directory Directory) *RedisStatus {
	return &RedisStatus{
		client:    client,
		directory: directory,
		prefix:    DefaultRedisPrefix,
		now:       time.Now,
	}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (s *RedisStatus) onlineKey() string   { return s.prefix + "online" }
func (s *RedisStatus) lastSeenKey() string { return s.prefix + "lastseen" }

func (s *RedisStatus) SetOnline(ctx context.Context, userID string, online bool) error {
	pipe := s.client.TxPipeline()
	if online {
		pipe.SAdd(ctx, s.onlineKey(), userID)
	} else {
		pipe.SRem(ctx, s.onlineKey(), userID)
	}
	pipe.HSet(ctx, s.lastSeenKey(), userID, s.now().Unix())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set status of %s: %w", userID, err)
	}
	return nil
}

// ListOnline returns online users sorted by display name. Users missing
// from the directory are listed with their id as display name.
func (s *RedisStatus) ListOnline(ctx context.Context) ([]models.User, error) {
	ids, err := s.client.SMembers(ctx, s.onlineKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list online users: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	seen, err := s.client.HMGet(ctx, s.lastSeenKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read last seen: %w", err)
	}

	users := make([]models.User, 0, len(ids))
	for i, id := range ids {
		u := models.User{ID: id, DisplayName: id}
		if s.directory != nil {
			found, err := s.directory.GetUser(ctx, id)
			switch {
			case err == nil:
				u = found
			case !errors.Is(err, ErrNotFound):
				return nil, err
			}
		}
		u.Presence.Online = true
		if str, ok := seen[i].(string); ok {
			u.Presence.LastSeen, _ = strconv.ParseInt(str, 10, 64)
		}
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].DisplayName < users[j].DisplayName
	})
	return users, nil
}

func (s *RedisStatus) ResetOnline(ctx context.Context) error {
	return s.client.Del(ctx, s.onlineKey()).Err()
}
