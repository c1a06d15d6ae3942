package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/fortunegame/internal/dependencies/mocks"
	"github.com/mcoot/fortunegame/internal/model"
	"github.com/mcoot/fortunegame/internal/protocol"
	"github.com/mcoot/fortunegame/internal/server"
	"github.com/mcoot/fortunegame/internal/services/auth"
	"github.com/mcoot/fortunegame/internal/services/fortune"
	"github.com/mcoot/fortunegame/internal/session"
	"github.com/mcoot/fortunegame/internal/storage"
	"github.com/mcoot/fortunegame/internal/storage/memory"
	"github.com/mcoot/fortunegame/internal/testutil"
)

type ClientSuite struct {
	suite.Suite
	storage *memory.Storage
	clock   *mocks.MockClock
	server  *server.Server
	addr    string
	ctx     context.Context
	cancel  context.CancelFunc
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupSuite() {
	storage.HashCost = bcrypt.MinCost
}

func (s *ClientSuite) SetupTest() {
	logger := testutil.NopLogger()
	s.storage = memory.New()
	s.clock = mocks.NewMockClock(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	s.server = server.New(server.Config{RatePerSecond: 1000, RateBurst: 1000}, server.Deps{
		Auth:     auth.New(s.storage, s.clock, logger),
		Fortunes: fortune.New(s.storage, mocks.NewMockRandom(), s.clock, logger),
		Registry: session.NewRegistry(logger),
	}, logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	s.addr = ln.Addr().String()
	go func() { _ = s.server.Serve(ln) }()

	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Second)
}

func (s *ClientSuite) TearDownTest() {
	s.cancel()
	_ = s.server.Shutdown(context.Background())
}

func (s *ClientSuite) dial() *Client {
	c, err := Dial(s.ctx, s.addr)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = c.Close() })
	return c
}

func (s *ClientSuite) loggedIn(username string) *Client {
	c := s.dial()
	_, err := c.Register(s.ctx, username, "pw")
	s.Require().NoError(err)
	_, err = c.Login(s.ctx, username, "pw")
	s.Require().NoError(err)
	_, err = c.Await(s.ctx, protocol.TypeBroadcast)
	s.Require().NoError(err)
	return c
}

func (s *ClientSuite) TestRegisterAndLogin() {
	c := s.dial()

	msg, err := c.Register(s.ctx, "alice", "secret")
	s.Require().NoError(err)
	s.Equal(protocol.RegisterSuccessMessage, msg)

	msg, err = c.Login(s.ctx, "alice", "secret")
	s.Require().NoError(err)
	s.Equal("Welcome back alice", msg)

	p, err := c.Next(s.ctx)
	s.Require().NoError(err)
	s.Equal(protocol.TypeUserList, p.Type)
}

func (s *ClientSuite) TestRejections() {
	c := s.dial()
	_, err := c.Register(s.ctx, "alice", "secret")
	s.Require().NoError(err)

	_, err = c.Register(s.ctx, "alice", "other")
	var rejected *RejectedError
	s.Require().ErrorAs(err, &rejected)
	s.Equal(protocol.TypeRegisterFailed, rejected.Type)
	s.Equal(protocol.UsernameTakenMessage, rejected.Reason)

	_, err = c.Login(s.ctx, "alice", "wrong")
	s.Require().ErrorAs(err, &rejected)
	s.Equal(protocol.TypeLoginFailed, rejected.Type)
	s.Equal(protocol.InvalidLoginMessage, rejected.Reason)
}

func (s *ClientSuite) TestFortuneWithCategory() {
	_, err := s.storage.CreateFortune(s.ctx, &model.Fortune{Text: "wise", Category: model.CategoryWise})
	s.Require().NoError(err)
	_, err = s.storage.CreateFortune(s.ctx, &model.Fortune{Text: "funny", Category: model.CategoryFunny})
	s.Require().NoError(err)
	c := s.dial()

	funny := model.CategoryFunny
	f, err := c.Fortune(s.ctx, &funny)
	s.Require().NoError(err)
	s.Equal("funny", f.Text)
	s.Len(f.LuckyNumbers, model.LuckyNumberCount)
}

func (s *ClientSuite) TestSubmitHistoryAndMine() {
	c := s.loggedIn("alice")

	s.Require().NoError(c.Submit("Mine all mine", model.CategoryRomantic))
	mine, err := c.MyFortunes(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(mine, 1)
	s.Equal("Mine all mine", mine[0].Text)

	_, err = c.Fortune(s.ctx, nil)
	s.Require().NoError(err)
	history, err := c.History(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal("Mine all mine", history[0].FortuneText)
}

func (s *ClientSuite) TestHistoryBeforeLoginTimesOut() {
	c := s.dial()
	ctx, cancel := context.WithTimeout(s.ctx, 100*time.Millisecond)
	defer cancel()

	_, err := c.History(ctx)
	s.ErrorIs(err, context.DeadlineExceeded)
}

func (s *ClientSuite) TestDirectMessage() {
	alice := s.loggedIn("alice")
	bob := s.loggedIn("bob")

	s.Require().NoError(alice.DirectMessage("bob", "lunch?"))

	p, err := bob.Await(s.ctx, protocol.TypeDirectMessage)
	s.Require().NoError(err)
	dm, err := protocol.ExtractPayload[protocol.DirectMessage](p)
	s.Require().NoError(err)
	s.Equal("alice", dm.FromUser)
	s.Equal("lunch?", dm.Message)
}

func (s *ClientSuite) TestServerShutdownEndsStream() {
	c := s.dial()
	_, err := c.Fortune(s.ctx, nil)
	s.Require().NoError(err)

	s.Require().NoError(s.server.Shutdown(context.Background()))

	_, err = c.Next(s.ctx)
	s.ErrorIs(err, ErrClosed)
}

func (s *ClientSuite) TestDialFailure() {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	addr := ln.Addr().String()
	s.Require().NoError(ln.Close())

	_, err = Dial(s.ctx, addr)
	s.Error(err)
}
