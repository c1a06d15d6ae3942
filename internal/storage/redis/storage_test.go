package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/fortunegame/internal/model"
	"github.com/mcoot/fortunegame/internal/storage"
	"github.com/mcoot/fortunegame/internal/storage/storagetest"
)

func newTestStorage(t *testing.T) (*Storage, *miniredis.Miniredis) {
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mini.Addr(),
	})
	return NewWithClient(client, DefaultConfig()), mini
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, &storagetest.Suite{
		NewStorage: func(t *testing.T) storage.Storage {
			s, _ := newTestStorage(t)
			return s
		},
	})
}

// StorageSuite covers the Redis-specific layout
type StorageSuite struct {
	suite.Suite
	mini    *miniredis.Miniredis
	storage *Storage
	ctx     context.Context
}

func TestRedisLayoutSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupTest() {
	storage.HashCost = bcrypt.MinCost
	s.storage, s.mini = newTestStorage(s.T())
	s.ctx = context.Background()
}

func (s *StorageSuite) TearDownTest() {
	if s.storage != nil {
		_ = s.storage.Close()
	}
}

func (s *StorageSuite) TestCreateUserWritesIndex() {
	user, err := s.storage.CreateUser(s.ctx, "alice", "pw", time.Now())
	s.Require().NoError(err)

	s.True(s.mini.Exists(s.storage.keys.usernameIndex("alice")))
	s.True(s.mini.Exists(s.storage.keys.user(user.ID)))

	id, err := s.mini.Get(s.storage.keys.usernameIndex("alice"))
	s.Require().NoError(err)
	s.Equal("1", id)
}

func (s *StorageSuite) TestFailedCreateUserLeavesUsernameFree() {
	s.mini.SetError("LOADING server is loading")
	_, err := s.storage.CreateUser(s.ctx, "alice", "pw", time.Now())
	s.Require().Error(err)
	s.mini.SetError("")

	s.False(s.mini.Exists(s.storage.keys.usernameIndex("alice")))
	user, err := s.storage.CreateUser(s.ctx, "alice", "pw", time.Now())
	s.Require().NoError(err)
	s.True(s.mini.Exists(s.storage.keys.user(user.ID)))
}

func (s *StorageSuite) TestDuplicateUserWritesNoRecord() {
	_, err := s.storage.CreateUser(s.ctx, "alice", "pw", time.Now())
	s.Require().NoError(err)

	_, err = s.storage.CreateUser(s.ctx, "alice", "other", time.Now())
	s.Require().ErrorIs(err, model.ErrUsernameTaken)
	s.False(s.mini.Exists(s.storage.keys.user(2)))
}

func (s *StorageSuite) TestCreateFortuneWritesIndexes() {
	uid := model.UserID(4)
	f, err := s.storage.CreateFortune(s.ctx, &model.Fortune{
		Text:          "indexed",
		Category:      model.CategoryRomantic,
		AddedByUserID: &uid,
	})
	s.Require().NoError(err)

	for _, key := range []string{s.storage.keys.allFortunes(), s.storage.keys.categoryIndex(model.CategoryRomantic), s.storage.keys.submitterIndex(uid)} {
		members, err := s.mini.Members(key)
		s.Require().NoError(err, key)
		s.Equal([]string{"1"}, members, key)
	}
	s.True(s.mini.Exists(s.storage.keys.fortune(f.ID)))
}

func (s *StorageSuite) TestSeedClaimsLockOnce() {
	n, err := s.storage.SeedFortunes(s.ctx, []*model.Fortune{{Text: "a"}, {Text: "b"}})
	s.Require().NoError(err)
	s.Equal(2, n)
	s.True(s.mini.Exists(s.storage.keys.seedLock()))

	// A second store sharing the instance must not reseed
	other := NewWithClient(redis.NewClient(&redis.Options{Addr: s.mini.Addr()}), DefaultConfig())
	defer other.Close()
	n, err = other.SeedFortunes(s.ctx, []*model.Fortune{{Text: "c"}})
	s.Require().NoError(err)
	s.Equal(0, n)
}

func (s *StorageSuite) TestKeyPrefixIsolatesStores() {
	cfg := DefaultConfig()
	cfg.KeyPrefix = "staging"
	other := NewWithClient(redis.NewClient(&redis.Options{Addr: s.mini.Addr()}), cfg)
	defer other.Close()

	_, err := other.CreateFortune(s.ctx, &model.Fortune{Text: "elsewhere"})
	s.Require().NoError(err)
	s.True(s.mini.Exists("staging:fortune:1"))

	fortunes, err := s.storage.QueryFortunes(s.ctx, nil)
	s.Require().NoError(err)
	s.Empty(fortunes)
}

func (s *StorageSuite) TestSeedAssignsSequentialIDs() {
	_, err := s.storage.SeedFortunes(s.ctx, []*model.Fortune{{Text: "a"}, {Text: "b"}, {Text: "c"}})
	s.Require().NoError(err)

	fortunes, err := s.storage.QueryFortunes(s.ctx, nil)
	s.Require().NoError(err)
	s.Require().Len(fortunes, 3)
	s.Equal(model.FortuneID(1), fortunes[0].ID)
	s.Equal(model.FortuneID(3), fortunes[2].ID)
	s.Equal("c", fortunes[2].Text)
}

func (s *StorageSuite) TestAppendHistoryUnknownUser() {
	f, err := s.storage.CreateFortune(s.ctx, &model.Fortune{Text: "x"})
	s.Require().NoError(err)

	err = s.storage.AppendHistory(s.ctx, 42, f.ID, time.Now())
	s.ErrorIs(err, model.ErrUserNotFound)
}

func (s *StorageSuite) TestConnectionErrorIsReturned() {
	s.mini.Close()

	_, err := s.storage.QueryFortunes(s.ctx, nil)
	s.Error(err)
}
