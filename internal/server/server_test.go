package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/fortunegame/internal/dependencies/mocks"
	"github.com/mcoot/fortunegame/internal/model"
	"github.com/mcoot/fortunegame/internal/protocol"
	"github.com/mcoot/fortunegame/internal/services/auth"
	"github.com/mcoot/fortunegame/internal/services/fortune"
	"github.com/mcoot/fortunegame/internal/session"
	"github.com/mcoot/fortunegame/internal/storage"
	"github.com/mcoot/fortunegame/internal/storage/memory"
	"github.com/mcoot/fortunegame/internal/testutil"
)

const awaitTimeout = 2 * time.Second

// testClient speaks the line protocol over a raw socket
type testClient struct {
	s      *ServerSuite
	conn   net.Conn
	reader *bufio.Reader
}

func (c *testClient) send(t protocol.PacketType, payload any) {
	line, err := protocol.Encode(t, payload)
	c.s.Require().NoError(err)
	c.sendRaw(string(line))
}

func (c *testClient) sendRaw(line string) {
	_, err := c.conn.Write([]byte(line + "\n"))
	c.s.Require().NoError(err)
}

func (c *testClient) next(timeout time.Duration) (protocol.Packet, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return protocol.Packet{}, err
	}
	return protocol.Decode(line)
}

// await skips packets until one of type t arrives
func (c *testClient) await(t protocol.PacketType) protocol.Packet {
	deadline := time.Now().Add(awaitTimeout)
	for time.Now().Before(deadline) {
		p, err := c.next(time.Until(deadline))
		c.s.Require().NoError(err, "waiting for %s", t)
		if p.Type == t {
			return p
		}
	}
	c.s.FailNow("timed out waiting for packet", t.String())
	return protocol.Packet{}
}

// awaitUserList skips packets until a presence list equal to want arrives
func (c *testClient) awaitUserList(want []string) {
	deadline := time.Now().Add(awaitTimeout)
	for time.Now().Before(deadline) {
		p := c.await(protocol.TypeUserList)
		names, err := protocol.ExtractPayload[[]string](p)
		c.s.Require().NoError(err)
		if slices.Equal(want, names) {
			return
		}
	}
	c.s.FailNow("timed out waiting for user list", "%v", want)
}

func (c *testClient) close() {
	_ = c.conn.Close()
}

type ServerSuite struct {
	suite.Suite
	storage  *memory.Storage
	random   *mocks.MockRandom
	clock    *mocks.MockClock
	registry *session.Registry
	server   *Server
	addr     string
	served   chan error
	ctx      context.Context
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func (s *ServerSuite) SetupSuite() {
	storage.HashCost = bcrypt.MinCost
}

func (s *ServerSuite) SetupTest() {
	s.startServer(Config{RatePerSecond: 1000, RateBurst: 1000})
}

func (s *ServerSuite) TearDownTest() {
	_ = s.server.Shutdown(context.Background())
}

func (s *ServerSuite) startServer(cfg Config) {
	if s.server != nil {
		_ = s.server.Shutdown(context.Background())
	}

	logger := testutil.NopLogger()
	s.ctx = context.Background()
	s.storage = memory.New()
	s.random = mocks.NewMockRandom()
	s.clock = mocks.NewMockClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	s.registry = session.NewRegistry(logger)

	s.server = New(cfg, Deps{
		Auth:     auth.New(s.storage, s.clock, logger),
		Fortunes: fortune.New(s.storage, s.random, s.clock, logger),
		Registry: s.registry,
	}, logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	s.addr = ln.Addr().String()
	s.served = make(chan error, 1)
	go func() { s.served <- s.server.Serve(ln) }()
}

func (s *ServerSuite) dial() *testClient {
	conn, err := net.Dial("tcp", s.addr)
	s.Require().NoError(err)
	c := &testClient{s: s, conn: conn, reader: bufio.NewReader(conn)}
	s.T().Cleanup(c.close)
	return c
}

func (s *ServerSuite) addFortune(text string, cat model.Category) {
	_, err := s.storage.CreateFortune(s.ctx, &model.Fortune{Text: text, Category: cat, CreatedAt: s.clock.Now()})
	s.Require().NoError(err)
}

// loginAs registers username and logs in, consuming the login replies
func (s *ServerSuite) loginAs(username string) *testClient {
	c := s.dial()
	c.send(protocol.TypeRegister, protocol.Credentials{Username: username, Password: "pw-" + username})
	c.await(protocol.TypeRegisterSuccess)
	c.send(protocol.TypeLogin, protocol.Credentials{Username: username, Password: "pw-" + username})
	c.await(protocol.TypeLoginSuccess)
	c.await(protocol.TypeBroadcast)
	return c
}

func payload[T any](s *ServerSuite, p protocol.Packet) T {
	v, err := protocol.ExtractPayload[T](p)
	s.Require().NoError(err)
	return v
}

// Register and login

func (s *ServerSuite) TestRegisterThenLogin() {
	s.addFortune("Fortune favours the bold", model.CategoryGeneral)
	c := s.dial()

	c.send(protocol.TypeRegister, protocol.Credentials{Username: "alice", Password: "secret"})
	p := c.await(protocol.TypeRegisterSuccess)
	s.Equal(protocol.RegisterSuccessMessage, payload[string](s, p))
	s.Equal(0, s.registry.Count(), "registering does not log in")

	c.send(protocol.TypeLogin, protocol.Credentials{Username: "alice", Password: "secret"})

	p, err := c.next(awaitTimeout)
	s.Require().NoError(err)
	s.Equal(protocol.TypeLoginSuccess, p.Type)
	s.Equal("Welcome back alice", payload[string](s, p))

	p, err = c.next(awaitTimeout)
	s.Require().NoError(err)
	s.Equal(protocol.TypeUserList, p.Type)
	s.Equal([]string{"alice"}, payload[[]string](s, p))

	p, err = c.next(awaitTimeout)
	s.Require().NoError(err)
	s.Equal(protocol.TypeBroadcast, p.Type)
	welcome := payload[protocol.Fortune](s, p)
	s.Equal("Fortune favours the bold", welcome.Text)
	s.Len(welcome.LuckyNumbers, model.LuckyNumberCount)

	s.Equal([]string{"alice"}, s.registry.ListActive())
}

func (s *ServerSuite) TestRegisterDuplicateUsername() {
	c := s.dial()
	c.send(protocol.TypeRegister, protocol.Credentials{Username: "alice", Password: "a"})
	c.await(protocol.TypeRegisterSuccess)

	c.send(protocol.TypeRegister, protocol.Credentials{Username: "alice", Password: "b"})
	p := c.await(protocol.TypeRegisterFailed)
	s.Equal(protocol.UsernameTakenMessage, payload[string](s, p))
}

func (s *ServerSuite) TestRegisterMissingFields() {
	c := s.dial()
	c.send(protocol.TypeRegister, protocol.Credentials{Username: "alice"})
	p := c.await(protocol.TypeRegisterFailed)
	s.Equal(protocol.MissingFieldsMessage, payload[string](s, p))
}

func (s *ServerSuite) TestWrongCredentialLeavesRegistryUnchanged() {
	s.loginAs("bob")
	c := s.dial()
	c.send(protocol.TypeRegister, protocol.Credentials{Username: "alice", Password: "secret"})
	c.await(protocol.TypeRegisterSuccess)

	c.send(protocol.TypeLogin, protocol.Credentials{Username: "alice", Password: "wrong"})
	p, err := c.next(awaitTimeout)
	s.Require().NoError(err)
	s.Equal(protocol.TypeLoginFailed, p.Type)
	s.Equal(protocol.InvalidLoginMessage, payload[string](s, p))

	s.Equal([]string{"bob"}, s.registry.ListActive())

	// Still unauthenticated: history requests are ignored
	c.send(protocol.TypeGetHistory, nil)
	c.send(protocol.TypeGetFortune, protocol.FortuneRequest{})
	p, err = c.next(awaitTimeout)
	s.Require().NoError(err)
	s.Equal(protocol.TypeFortuneResponse, p.Type)
}

// Fortunes and history

func (s *ServerSuite) TestEmptyCategoryFallsBackAndRecordsHistory() {
	s.addFortune("A general truth", model.CategoryGeneral)
	bob := s.loginAs("bob")

	funny := model.CategoryFunny
	bob.send(protocol.TypeGetFortune, protocol.FortuneRequest{Category: &funny})
	f := payload[protocol.Fortune](s, bob.await(protocol.TypeFortuneResponse))
	s.Equal(model.CategoryGeneral, f.Category)
	s.Equal("A general truth", f.Text)

	bob.send(protocol.TypeGetHistory, nil)
	history := payload[[]protocol.HistoryItem](s, bob.await(protocol.TypeHistoryResponse))
	s.Require().Len(history, 1)
	s.Equal("A general truth", history[0].FortuneText)
	s.Equal(model.RarityCommon.String(), history[0].Rarity)
}

func (s *ServerSuite) TestTwoRequestsGiveTwoHistoryRowsNewestFirst() {
	s.addFortune("first", model.CategoryGeneral)
	s.addFortune("second", model.CategoryGeneral)
	alice := s.loginAs("alice")

	s.random.QueueIntn(0, 0, 0, 0, 0, 0, 0)
	alice.send(protocol.TypeGetFortune, protocol.FortuneRequest{})
	s.Equal("first", payload[protocol.Fortune](s, alice.await(protocol.TypeFortuneResponse)).Text)

	s.clock.Advance(time.Minute)
	s.random.QueueIntn(1, 0, 0, 0, 0, 0, 0)
	alice.send(protocol.TypeGetFortune, protocol.FortuneRequest{})
	s.Equal("second", payload[protocol.Fortune](s, alice.await(protocol.TypeFortuneResponse)).Text)

	alice.send(protocol.TypeGetHistory, nil)
	history := payload[[]protocol.HistoryItem](s, alice.await(protocol.TypeHistoryResponse))
	s.Require().Len(history, 2)
	s.Equal("second", history[0].FortuneText)
	s.Equal("first", history[1].FortuneText)
	s.True(history[0].Date.After(history[1].Date))
}

func (s *ServerSuite) TestUnauthenticatedFortuneHasNoHistory() {
	s.addFortune("anyone", model.CategoryGeneral)
	c := s.dial()

	c.send(protocol.TypeGetFortune, protocol.FortuneRequest{})
	c.await(protocol.TypeFortuneResponse)

	user, err := s.storage.CreateUser(s.ctx, "carol", "pw", s.clock.Now())
	s.Require().NoError(err)
	records, err := s.storage.HistoryForUser(s.ctx, user.ID)
	s.Require().NoError(err)
	s.Empty(records)
}

func (s *ServerSuite) TestSentinelWhenNoFortunes() {
	c := s.dial()
	c.send(protocol.TypeGetFortune, protocol.FortuneRequest{})

	f := payload[protocol.Fortune](s, c.await(protocol.TypeFortuneResponse))
	s.Equal(int64(0), f.ID)
	s.Equal(model.SentinelFortuneText, f.Text)
	s.Equal(model.CategoryCursed, f.Category)
}

func (s *ServerSuite) TestUnreadableFilterMeansAnyCategory() {
	s.addFortune("wise words", model.CategoryWise)
	c := s.dial()

	c.sendRaw(`{"Type":3,"Payload":"not json"}`)
	f := payload[protocol.Fortune](s, c.await(protocol.TypeFortuneResponse))
	s.Equal("wise words", f.Text)
}

func (s *ServerSuite) TestSubmitAndListMine() {
	alice := s.loginAs("alice")

	alice.send(protocol.TypeSubmitFortune, protocol.FortuneSubmission{Text: "old", Category: model.CategoryWise})
	alice.send(protocol.TypeSubmitFortune, protocol.FortuneSubmission{Text: "  ", Category: model.CategoryWise})
	alice.send(protocol.TypeGetMyFortunes, nil)
	s.Len(payload[[]protocol.Fortune](s, alice.await(protocol.TypeMyFortunesResponse)), 1)

	s.clock.Advance(time.Hour)
	alice.send(protocol.TypeSubmitFortune, protocol.FortuneSubmission{Text: "new", Category: model.CategoryFunny})
	alice.send(protocol.TypeGetMyFortunes, nil)

	mine := payload[[]protocol.Fortune](s, alice.await(protocol.TypeMyFortunesResponse))
	s.Require().Len(mine, 2)
	s.Equal("new", mine[0].Text)
	s.Equal("old", mine[1].Text)
	s.Require().NotNil(mine[0].AddedByUserID)
	s.Equal(model.RarityCommon, mine[0].Rarity)
}

func (s *ServerSuite) TestAnonymousSubmitIsUnattributed() {
	c := s.dial()
	c.send(protocol.TypeSubmitFortune, protocol.FortuneSubmission{Text: "from nobody", Category: model.CategoryGeneral})
	c.send(protocol.TypeGetFortune, protocol.FortuneRequest{})

	f := payload[protocol.Fortune](s, c.await(protocol.TypeFortuneResponse))
	s.Equal("from nobody", f.Text)
	s.Nil(f.AddedByUserID)
}

// Direct messages and presence

func (s *ServerSuite) TestDirectMessageUsesVerifiedSender() {
	alice := s.loginAs("alice")
	bob := s.loginAs("bob")

	alice.send(protocol.TypeDirectMessage, protocol.DirectMessage{FromUser: "mallory", ToUser: "bob", Message: "hi"})

	dm := payload[protocol.DirectMessage](s, bob.await(protocol.TypeDirectMessage))
	s.Equal("alice", dm.FromUser)
	s.Equal("bob", dm.ToUser)
	s.Equal("hi", dm.Message)
}

func (s *ServerSuite) TestDirectMessageToAbsentUserIsDropped() {
	s.addFortune("still here", model.CategoryGeneral)
	alice := s.loginAs("alice")

	alice.send(protocol.TypeDirectMessage, protocol.DirectMessage{ToUser: "nobody", Message: "hello?"})
	alice.send(protocol.TypeGetFortune, protocol.FortuneRequest{})

	p := alice.await(protocol.TypeFortuneResponse)
	s.Equal(protocol.TypeFortuneResponse, p.Type)
}

func (s *ServerSuite) TestUnauthenticatedDirectMessageIgnored() {
	bob := s.loginAs("bob")
	anon := s.dial()

	anon.send(protocol.TypeDirectMessage, protocol.DirectMessage{ToUser: "bob", Message: "psst"})
	anon.send(protocol.TypeGetFortune, protocol.FortuneRequest{})
	anon.await(protocol.TypeFortuneResponse)

	// bob's next packet must not be the anonymous message
	bob.send(protocol.TypeGetFortune, protocol.FortuneRequest{})
	p, err := bob.next(awaitTimeout)
	s.Require().NoError(err)
	s.Equal(protocol.TypeFortuneResponse, p.Type)
}

func (s *ServerSuite) TestDisconnectBroadcastsPresence() {
	alice := s.loginAs("alice")
	bob := s.loginAs("bob")
	alice.awaitUserList([]string{"alice", "bob"})

	bob.close()

	alice.awaitUserList([]string{"alice"})
	s.Eventually(func() bool { return s.server.ConnectionCount() == 1 }, awaitTimeout, 10*time.Millisecond)
	s.Equal([]string{"alice"}, s.registry.ListActive())
}

func (s *ServerSuite) TestSupersededConnectionDoesNotEvictNewerSession() {
	first := s.loginAs("alice")

	second := s.dial()
	second.send(protocol.TypeLogin, protocol.Credentials{Username: "alice", Password: "pw-alice"})
	second.await(protocol.TypeBroadcast)

	first.close()
	s.Eventually(func() bool { return s.server.ConnectionCount() == 1 }, awaitTimeout, 10*time.Millisecond)

	s.Equal([]string{"alice"}, s.registry.ListActive())
	h, ok := s.registry.Lookup("alice")
	s.Require().True(ok)
	s.NotNil(h)
}

// Robustness

func (s *ServerSuite) TestMalformedPacketsAreSkipped() {
	s.addFortune("survivor", model.CategoryGeneral)
	c := s.dial()

	c.sendRaw("this is not json")
	c.sendRaw(`{"Type":0,"Payload":"{broken"}`)
	c.sendRaw("")
	c.sendRaw(`{"Type":6,"Payload":"{}"}`)
	c.send(protocol.TypeGetFortune, protocol.FortuneRequest{})

	p, err := c.next(awaitTimeout)
	s.Require().NoError(err)
	s.Equal(protocol.TypeFortuneResponse, p.Type)
}

func (s *ServerSuite) TestRateLimitDropsExcessPackets() {
	s.startServer(Config{RatePerSecond: 0.001, RateBurst: 2})
	s.addFortune("limited", model.CategoryGeneral)
	c := s.dial()

	for range 3 {
		c.send(protocol.TypeGetFortune, protocol.FortuneRequest{})
	}

	c.await(protocol.TypeFortuneResponse)
	c.await(protocol.TypeFortuneResponse)
	_, err := c.next(200 * time.Millisecond)
	var netErr net.Error
	s.Require().ErrorAs(err, &netErr)
	s.True(netErr.Timeout())
}

func (s *ServerSuite) TestDefaultLimitAnswersBurst() {
	s.startServer(DefaultConfig())
	s.addFortune("plenty", model.CategoryGeneral)
	c := s.dial()

	const burst = 200
	for range burst {
		c.send(protocol.TypeGetFortune, protocol.FortuneRequest{})
	}
	for range burst {
		c.await(protocol.TypeFortuneResponse)
	}
}

func (s *ServerSuite) TestOversizedLineClosesConnection() {
	s.startServer(Config{MaxLineBytes: 64, RatePerSecond: 1000, RateBurst: 1000})
	c := s.dial()

	c.sendRaw(string(make([]byte, 128)))

	_, err := c.next(awaitTimeout)
	s.Error(err)
	s.Eventually(func() bool { return s.server.ConnectionCount() == 0 }, awaitTimeout, 10*time.Millisecond)
}

func (s *ServerSuite) TestHalfCloseStillDeliversReplies() {
	s.addFortune("stay a while", model.CategoryGeneral)
	c := s.dial()

	const requests = 5
	c.send(protocol.TypeRegister, protocol.Credentials{Username: "carol", Password: "pw"})
	for range requests {
		c.send(protocol.TypeGetFortune, protocol.FortuneRequest{})
	}
	s.Require().NoError(c.conn.(*net.TCPConn).CloseWrite())

	var types []protocol.PacketType
	for {
		p, err := c.next(awaitTimeout)
		if errors.Is(err, io.EOF) {
			break
		}
		s.Require().NoError(err)
		types = append(types, p.Type)
	}

	s.Require().Len(types, requests+1)
	s.Equal(protocol.TypeRegisterSuccess, types[0])
	for _, t := range types[1:] {
		s.Equal(protocol.TypeFortuneResponse, t)
	}
	s.Eventually(func() bool { return s.server.ConnectionCount() == 0 }, awaitTimeout, 10*time.Millisecond)
}

func (s *ServerSuite) TestHalfCloseReleasesSession() {
	alice := s.loginAs("alice")
	bob := s.loginAs("bob")
	alice.awaitUserList([]string{"alice", "bob"})

	bob.send(protocol.TypeGetHistory, nil)
	s.Require().NoError(bob.conn.(*net.TCPConn).CloseWrite())
	bob.await(protocol.TypeHistoryResponse)

	alice.awaitUserList([]string{"alice"})
}

func (s *ServerSuite) TestShutdownClosesConnections() {
	alice := s.loginAs("alice")
	s.Equal(1, s.server.ConnectionCount())

	s.Require().NoError(s.server.Shutdown(context.Background()))

	_, err := alice.next(awaitTimeout)
	s.Error(err)
	s.Equal(0, s.server.ConnectionCount())
	s.Equal(0, s.registry.Count())

	select {
	case err := <-s.served:
		s.True(errors.Is(err, ErrServerClosed))
	case <-time.After(awaitTimeout):
		s.Fail("Serve did not return after Shutdown")
	}
}

func (s *ServerSuite) TestServeAfterShutdown() {
	s.Require().NoError(s.server.Shutdown(context.Background()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	s.ErrorIs(s.server.Serve(ln), ErrServerClosed)
}
