// Package storagetest holds the behaviour every storage backend must share.
// Backends run it from their own tests:
//
//	suite.Run(t, &storagetest.Suite{NewStorage: func(t *testing.T) storage.Storage { ... }})
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/fortunegame/internal/model"
	"github.com/mcoot/fortunegame/internal/storage"
)

// Suite is a testify suite exercising a storage.Storage implementation
type Suite struct {
	suite.Suite

	// NewStorage returns an empty store; it is called before every test
	NewStorage func(t *testing.T) storage.Storage

	Storage storage.Storage
	Ctx     context.Context
	Now     time.Time
}

func (s *Suite) SetupSuite() {
	storage.HashCost = bcrypt.MinCost
}

func (s *Suite) SetupTest() {
	s.Storage = s.NewStorage(s.T())
	s.Ctx = context.Background()
	s.Now = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
}

func (s *Suite) TearDownTest() {
	if s.Storage != nil {
		_ = s.Storage.Close()
	}
}

func (s *Suite) createUser(name string) *model.User {
	user, err := s.Storage.CreateUser(s.Ctx, name, "pw-"+name, s.Now)
	s.Require().NoError(err)
	return user
}

func (s *Suite) createFortune(text string, cat model.Category, submitter *model.UserID, at time.Time) *model.Fortune {
	f, err := s.Storage.CreateFortune(s.Ctx, &model.Fortune{
		Text:          text,
		Category:      cat,
		Rarity:        model.RarityCommon,
		AddedByUserID: submitter,
		CreatedAt:     at,
	})
	s.Require().NoError(err)
	return f
}

// User tests

func (s *Suite) TestCreateUser() {
	user, err := s.Storage.CreateUser(s.Ctx, "alice", "pw", s.Now)
	s.Require().NoError(err)

	s.NotZero(user.ID)
	s.Equal("alice", user.Username)
	s.Equal(0, user.Reputation)
	s.NotEqual("pw", user.CredentialHash)
}

func (s *Suite) TestCreateUserAssignsDistinctIDs() {
	a := s.createUser("alice")
	b := s.createUser("bob")

	s.NotEqual(a.ID, b.ID)
}

func (s *Suite) TestCreateUserDuplicate() {
	s.createUser("alice")

	_, err := s.Storage.CreateUser(s.Ctx, "alice", "other", s.Now)
	s.ErrorIs(err, model.ErrUsernameTaken)
}

func (s *Suite) TestUserExists() {
	exists, err := s.Storage.UserExists(s.Ctx, "alice")
	s.Require().NoError(err)
	s.False(exists)

	s.createUser("alice")

	exists, err = s.Storage.UserExists(s.Ctx, "alice")
	s.Require().NoError(err)
	s.True(exists)
}

func (s *Suite) TestGetUserByUsername() {
	created := s.createUser("alice")

	user, err := s.Storage.GetUserByUsername(s.Ctx, "alice")
	s.Require().NoError(err)
	s.Equal(created.ID, user.ID)
	s.Equal("alice", user.Username)
}

func (s *Suite) TestGetUserByUsernameNotFound() {
	_, err := s.Storage.GetUserByUsername(s.Ctx, "nobody")
	s.ErrorIs(err, model.ErrUserNotFound)
}

func (s *Suite) TestFindUserByCredentials() {
	created := s.createUser("alice")

	user, err := s.Storage.FindUserByCredentials(s.Ctx, "alice", "pw-alice")
	s.Require().NoError(err)
	s.Equal(created.ID, user.ID)
}

func (s *Suite) TestFindUserByCredentialsWrongPassword() {
	s.createUser("alice")

	_, err := s.Storage.FindUserByCredentials(s.Ctx, "alice", "wrong")
	s.ErrorIs(err, model.ErrInvalidCredentials)
}

func (s *Suite) TestFindUserByCredentialsUnknownUser() {
	_, err := s.Storage.FindUserByCredentials(s.Ctx, "nobody", "pw")
	s.ErrorIs(err, model.ErrInvalidCredentials)
}

// Fortune tests

func (s *Suite) TestCreateFortune() {
	uid := s.createUser("alice").ID

	f, err := s.Storage.CreateFortune(s.Ctx, &model.Fortune{
		Text:          "A fine day",
		Category:      model.CategoryWise,
		Rarity:        model.RarityRare,
		AddedByUserID: &uid,
		LuckyNumbers:  []int{1, 2, 3},
		CreatedAt:     s.Now,
	})
	s.Require().NoError(err)

	s.NotZero(f.ID)
	s.Equal("A fine day", f.Text)
	s.Equal(model.CategoryWise, f.Category)
	s.Equal(model.RarityRare, f.Rarity)
	s.Require().NotNil(f.AddedByUserID)
	s.Equal(uid, *f.AddedByUserID)
}

func (s *Suite) TestQueryFortunesAll() {
	s.createFortune("one", model.CategoryGeneral, nil, s.Now)
	s.createFortune("two", model.CategoryFunny, nil, s.Now)

	fortunes, err := s.Storage.QueryFortunes(s.Ctx, nil)
	s.Require().NoError(err)
	s.Len(fortunes, 2)
}

func (s *Suite) TestQueryFortunesByCategory() {
	s.createFortune("one", model.CategoryGeneral, nil, s.Now)
	s.createFortune("two", model.CategoryFunny, nil, s.Now)
	s.createFortune("three", model.CategoryFunny, nil, s.Now)

	cat := model.CategoryFunny
	fortunes, err := s.Storage.QueryFortunes(s.Ctx, &cat)
	s.Require().NoError(err)
	s.Require().Len(fortunes, 2)
	for _, f := range fortunes {
		s.Equal(model.CategoryFunny, f.Category)
	}
}

func (s *Suite) TestQueryFortunesEmpty() {
	cat := model.CategoryRomantic
	fortunes, err := s.Storage.QueryFortunes(s.Ctx, &cat)
	s.Require().NoError(err)
	s.Empty(fortunes)
}

func (s *Suite) TestLuckyNumbersAreNotPersisted() {
	_, err := s.Storage.CreateFortune(s.Ctx, &model.Fortune{
		Text:         "numbers",
		LuckyNumbers: []int{4, 8, 15},
		CreatedAt:    s.Now,
	})
	s.Require().NoError(err)

	fortunes, err := s.Storage.QueryFortunes(s.Ctx, nil)
	s.Require().NoError(err)
	s.Require().Len(fortunes, 1)
	s.Empty(fortunes[0].LuckyNumbers)
}

func (s *Suite) TestFortunesBySubmitterNewestFirst() {
	alice := s.createUser("alice").ID
	bob := s.createUser("bob").ID

	s.createFortune("first", model.CategoryGeneral, &alice, s.Now)
	s.createFortune("by bob", model.CategoryGeneral, &bob, s.Now.Add(time.Minute))
	s.createFortune("second", model.CategoryFunny, &alice, s.Now.Add(2*time.Minute))
	s.createFortune("anonymous", model.CategoryFunny, nil, s.Now.Add(3*time.Minute))

	fortunes, err := s.Storage.FortunesBySubmitter(s.Ctx, alice)
	s.Require().NoError(err)
	s.Require().Len(fortunes, 2)
	s.Equal("second", fortunes[0].Text)
	s.Equal("first", fortunes[1].Text)
}

func (s *Suite) TestFortunesBySubmitterNone() {
	alice := s.createUser("alice").ID

	fortunes, err := s.Storage.FortunesBySubmitter(s.Ctx, alice)
	s.Require().NoError(err)
	s.Empty(fortunes)
}

func (s *Suite) TestSeedFortunesIntoEmptyStore() {
	n, err := s.Storage.SeedFortunes(s.Ctx, []*model.Fortune{
		{Text: "a", Category: model.CategoryGeneral, CreatedAt: s.Now},
		{Text: "b", Category: model.CategoryCursed, Rarity: model.RarityLegendary, CreatedAt: s.Now},
	})
	s.Require().NoError(err)
	s.Equal(2, n)

	fortunes, err := s.Storage.QueryFortunes(s.Ctx, nil)
	s.Require().NoError(err)
	s.Len(fortunes, 2)
}

func (s *Suite) TestSeedFortunesSkipsPopulatedStore() {
	s.createFortune("existing", model.CategoryGeneral, nil, s.Now)

	n, err := s.Storage.SeedFortunes(s.Ctx, []*model.Fortune{{Text: "a", CreatedAt: s.Now}})
	s.Require().NoError(err)
	s.Equal(0, n)

	fortunes, err := s.Storage.QueryFortunes(s.Ctx, nil)
	s.Require().NoError(err)
	s.Require().Len(fortunes, 1)
	s.Equal("existing", fortunes[0].Text)
}

// History tests

func (s *Suite) TestHistoryNewestFirst() {
	uid := s.createUser("alice").ID
	first := s.createFortune("first", model.CategoryGeneral, nil, s.Now)
	second := s.createFortune("second", model.CategoryGeneral, nil, s.Now)

	s.Require().NoError(s.Storage.AppendHistory(s.Ctx, uid, first.ID, s.Now))
	s.Require().NoError(s.Storage.AppendHistory(s.Ctx, uid, second.ID, s.Now.Add(time.Second)))

	records, err := s.Storage.HistoryForUser(s.Ctx, uid)
	s.Require().NoError(err)
	s.Require().Len(records, 2)
	s.Equal("second", records[0].FortuneText)
	s.Equal("first", records[1].FortuneText)
	s.True(records[0].Date.Equal(s.Now.Add(time.Second)))
}

func (s *Suite) TestHistorySameTimestampOrderedByInsertion() {
	uid := s.createUser("alice").ID
	first := s.createFortune("first", model.CategoryGeneral, nil, s.Now)
	second := s.createFortune("second", model.CategoryGeneral, nil, s.Now)

	s.Require().NoError(s.Storage.AppendHistory(s.Ctx, uid, first.ID, s.Now))
	s.Require().NoError(s.Storage.AppendHistory(s.Ctx, uid, second.ID, s.Now))

	records, err := s.Storage.HistoryForUser(s.Ctx, uid)
	s.Require().NoError(err)
	s.Require().Len(records, 2)
	s.Equal("second", records[0].FortuneText)
}

func (s *Suite) TestHistoryRepeatedFortune() {
	uid := s.createUser("alice").ID
	f := s.createFortune("again", model.CategoryGeneral, nil, s.Now)

	s.Require().NoError(s.Storage.AppendHistory(s.Ctx, uid, f.ID, s.Now))
	s.Require().NoError(s.Storage.AppendHistory(s.Ctx, uid, f.ID, s.Now.Add(time.Second)))

	records, err := s.Storage.HistoryForUser(s.Ctx, uid)
	s.Require().NoError(err)
	s.Len(records, 2)
}

func (s *Suite) TestHistoryCarriesRarity() {
	uid := s.createUser("alice").ID
	f, err := s.Storage.CreateFortune(s.Ctx, &model.Fortune{
		Text: "rare", Rarity: model.RarityLegendary, CreatedAt: s.Now,
	})
	s.Require().NoError(err)

	s.Require().NoError(s.Storage.AppendHistory(s.Ctx, uid, f.ID, s.Now))

	records, err := s.Storage.HistoryForUser(s.Ctx, uid)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(model.RarityLegendary, records[0].Rarity)
}

func (s *Suite) TestHistoryIsPerUser() {
	alice := s.createUser("alice").ID
	bob := s.createUser("bob").ID
	f := s.createFortune("mine", model.CategoryGeneral, nil, s.Now)

	s.Require().NoError(s.Storage.AppendHistory(s.Ctx, alice, f.ID, s.Now))

	records, err := s.Storage.HistoryForUser(s.Ctx, bob)
	s.Require().NoError(err)
	s.Empty(records)
}

func (s *Suite) TestAppendHistoryUnknownFortune() {
	uid := s.createUser("alice").ID

	err := s.Storage.AppendHistory(s.Ctx, uid, 9999, s.Now)
	s.Error(err)
}
