package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/fortunegame/internal/model"
	"github.com/mcoot/fortunegame/internal/storage"
)

// Storage is a Redis-backed implementation of the storage interface
type Storage struct {
	client *redis.Client
	keys   keyspace
}

// New creates a new Redis storage instance
func New(cfg Config) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().PingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return NewWithClient(client, cfg), nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	return &Storage{
		client: client,
		keys:   newKeyspace(cfg.KeyPrefix),
	}
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// createUserScript claims the username index and writes the user record in
// one step. KEYS: index, record. ARGV: id, record JSON. Returns 0 if taken.
var createUserScript = redis.NewScript(`
if redis.call("SETNX", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2])
return 1
`)

// User operations

func (s *Storage) FindUserByCredentials(ctx context.Context, username, password string) (*model.User, error) {
	user, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return nil, model.ErrInvalidCredentials
		}
		return nil, err
	}
	if !storage.CredentialMatches(user.CredentialHash, password) {
		return nil, model.ErrInvalidCredentials
	}
	return user, nil
}

func (s *Storage) UserExists(ctx context.Context, username string) (bool, error) {
	exists, err := s.client.Exists(ctx, s.keys.usernameIndex(username)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

func (s *Storage) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	// Look up user ID from username index
	id, err := s.client.Get(ctx, s.keys.usernameIndex(username)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrUserNotFound
		}
		return nil, err
	}

	data, err := s.client.Get(ctx, s.keys.user(model.UserID(id))).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrUserNotFound
		}
		return nil, err
	}

	var user model.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Storage) CreateUser(ctx context.Context, username, password string, at time.Time) (*model.User, error) {
	hash, err := storage.HashCredential(password)
	if err != nil {
		return nil, err
	}

	id, err := s.client.Incr(ctx, s.keys.sequence("user")).Result()
	if err != nil {
		return nil, err
	}

	user := &model.User{
		ID:             model.UserID(id),
		Username:       username,
		CredentialHash: hash,
		CreatedAt:      at,
	}
	data, err := json.Marshal(user)
	if err != nil {
		return nil, err
	}

	keys := []string{s.keys.usernameIndex(username), s.keys.user(user.ID)}
	claimed, err := createUserScript.Run(ctx, s.client, keys, id, data).Int()
	if err != nil {
		return nil, err
	}
	if claimed == 0 {
		return nil, model.ErrUsernameTaken
	}
	return user, nil
}

// Fortune operations

func (s *Storage) QueryFortunes(ctx context.Context, category *model.Category) ([]*model.Fortune, error) {
	indexKey := s.keys.allFortunes()
	if category != nil {
		indexKey = s.keys.categoryIndex(*category)
	}

	fortunes, err := s.fortunesInIndex(ctx, indexKey)
	if err != nil {
		return nil, err
	}
	storage.SortFortunesByID(fortunes)
	return fortunes, nil
}

func (s *Storage) CreateFortune(ctx context.Context, f *model.Fortune) (*model.Fortune, error) {
	id, err := s.client.Incr(ctx, s.keys.sequence("fortune")).Result()
	if err != nil {
		return nil, err
	}

	stored := f.Clone()
	stored.ID = model.FortuneID(id)
	stored.LuckyNumbers = nil

	// Use a transaction for atomic save + index update
	pipe := s.client.TxPipeline()
	if err := s.queueFortune(ctx, pipe, stored); err != nil {
		return nil, err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *Storage) FortunesBySubmitter(ctx context.Context, userID model.UserID) ([]*model.Fortune, error) {
	fortunes, err := s.fortunesInIndex(ctx, s.keys.submitterIndex(userID))
	if err != nil {
		return nil, err
	}
	storage.SortFortunesNewestFirst(fortunes)
	return fortunes, nil
}

func (s *Storage) SeedFortunes(ctx context.Context, fortunes []*model.Fortune) (int, error) {
	existing, err := s.client.SCard(ctx, s.keys.allFortunes()).Result()
	if err != nil {
		return 0, err
	}
	if existing > 0 || len(fortunes) == 0 {
		return 0, nil
	}

	// Only one process may seed a shared instance
	claimed, err := s.client.SetNX(ctx, s.keys.seedLock(), 1, 0).Result()
	if err != nil {
		return 0, err
	}
	if !claimed {
		return 0, nil
	}

	last, err := s.client.IncrBy(ctx, s.keys.sequence("fortune"), int64(len(fortunes))).Result()
	if err != nil {
		return 0, err
	}
	first := last - int64(len(fortunes)) + 1

	pipe := s.client.TxPipeline()
	for i, f := range fortunes {
		stored := f.Clone()
		stored.ID = model.FortuneID(first + int64(i))
		stored.LuckyNumbers = nil
		if err := s.queueFortune(ctx, pipe, stored); err != nil {
			return 0, err
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(fortunes), nil
}

// queueFortune adds the writes for a fortune and its index entries to pipe
func (s *Storage) queueFortune(ctx context.Context, pipe redis.Pipeliner, f *model.Fortune) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	member := strconv.FormatInt(int64(f.ID), 10)
	pipe.Set(ctx, s.keys.fortune(f.ID), data, 0)
	pipe.SAdd(ctx, s.keys.allFortunes(), member)
	pipe.SAdd(ctx, s.keys.categoryIndex(f.Category), member)
	if f.AddedByUserID != nil {
		pipe.SAdd(ctx, s.keys.submitterIndex(*f.AddedByUserID), member)
	}
	return nil
}

// fortunesInIndex loads every fortune whose id is a member of the given SET
func (s *Storage) fortunesInIndex(ctx context.Context, indexKey string) ([]*model.Fortune, error) {
	members, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return []*model.Fortune{}, nil
	}

	keys := make([]model.FortuneID, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt fortune index %s: %w", indexKey, err)
		}
		keys = append(keys, model.FortuneID(id))
	}
	byID, err := s.getFortunes(ctx, keys)
	if err != nil {
		return nil, err
	}

	fortunes := make([]*model.Fortune, 0, len(byID))
	for _, f := range byID {
		fortunes = append(fortunes, f)
	}
	return fortunes, nil
}

// getFortunes fetches fortunes with MGET; missing ids are omitted
func (s *Storage) getFortunes(ctx context.Context, ids []model.FortuneID) (map[model.FortuneID]*model.Fortune, error) {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.keys.fortune(id))
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	fortunes := make(map[model.FortuneID]*model.Fortune, len(values))
	for _, val := range values {
		str, ok := val.(string)
		if !ok {
			continue
		}
		var f model.Fortune
		if err := json.Unmarshal([]byte(str), &f); err != nil {
			return nil, err
		}
		fortunes[f.ID] = &f
	}
	return fortunes, nil
}

// History operations

func (s *Storage) AppendHistory(ctx context.Context, userID model.UserID, fortuneID model.FortuneID, at time.Time) error {
	exists, err := s.client.Exists(ctx, s.keys.user(userID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return model.ErrUserNotFound
	}
	exists, err = s.client.Exists(ctx, s.keys.fortune(fortuneID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return model.ErrFortuneNotFound
	}

	id, err := s.client.Incr(ctx, s.keys.sequence("history")).Result()
	if err != nil {
		return err
	}
	data, err := json.Marshal(model.HistoryEntry{
		ID:         model.HistoryEntryID(id),
		UserID:     userID,
		FortuneID:  fortuneID,
		ReceivedAt: at,
	})
	if err != nil {
		return err
	}
	return s.client.LPush(ctx, s.keys.history(userID), data).Err()
}

func (s *Storage) HistoryForUser(ctx context.Context, userID model.UserID) ([]model.HistoryRecord, error) {
	raw, err := s.client.LRange(ctx, s.keys.history(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return []model.HistoryRecord{}, nil
	}

	entries := make([]model.HistoryEntry, 0, len(raw))
	ids := make([]model.FortuneID, 0, len(raw))
	for _, r := range raw {
		var e model.HistoryEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
		ids = append(ids, e.FortuneID)
	}
	storage.SortHistoryNewestFirst(entries)

	fortunes, err := s.getFortunes(ctx, ids)
	if err != nil {
		return nil, err
	}

	records := make([]model.HistoryRecord, 0, len(entries))
	for _, e := range entries {
		f, ok := fortunes[e.FortuneID]
		if !ok {
			continue
		}
		records = append(records, model.HistoryRecord{
			FortuneText: f.Text,
			Rarity:      f.Rarity,
			Date:        e.ReceivedAt,
		})
	}
	return records, nil
}
