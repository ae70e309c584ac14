package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/nearswap_be/internal/models"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/realtime"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/repository"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/services/chat"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/services/deal"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/testutil"
	"github.com/Windi-Fikriyansyah/nearswap_be/internal/utils"
)

const testSecret = "handler-secret"

type env struct {
	app      *fiber.App
	db       *gorm.DB
	gateway  *realtime.Gateway
	chat     *chat.ChatService
	seller   models.User
	buyer    models.User
	stranger models.User
	listing  models.Listing
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := zap.NewNop()
	gdb := testutil.NewDB(t)
	repo := repository.NewChatRepository(gdb, log).WithClock(testutil.NewClock().Now)
	gw := realtime.NewGateway(log)
	chatSvc := chat.NewChatService(repo, gw, nil, nil, log, time.Second)
	dealSvc := deal.NewDealService(repo, gw, nil, log, time.Second)

	app := fiber.New()
	r := &Router{
		JWTSecret: testSecret,
		Auth:      &AuthHandler{DB: gdb, JWTSecret: testSecret, Expires: 60, Timeout: time.Second, Log: log},
		Listings:  NewListingHandler(gdb, log, time.Second),
		Chat:      NewChatHandler(chatSvc, log),
		Deals:     NewDealHandler(dealSvc, log),
		WS:        &WSHandler{Chat: chatSvc, Gateway: gw, Log: log, SendRate: 5, SendBurst: 2, PingInterval: time.Second, WriteTimeout: time.Second},
		Health:    &HealthHandler{Store: repo, Gateway: gw},
	}
	r.Mount(app)

	e := &env{app: app, db: gdb, gateway: gw, chat: chatSvc}
	e.seller = testutil.CreateUser(t, gdb, "sari")
	e.buyer = testutil.CreateUser(t, gdb, "bima")
	e.stranger = testutil.CreateUser(t, gdb, "tono")
	e.listing = testutil.CreateListing(t, gdb, e.seller, "study-desk")
	return e
}

type result struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Created bool            `json:"created"`
	Data    json.RawMessage `json:"data"`
}

func (e *env) do(t *testing.T, method, path string, as *models.User, body any) (int, result) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		tok, err := utils.SignJWT(testSecret, as.ID, as.Email, 60)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out result
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (e *env) startChat(t *testing.T) uuid.UUID {
	t.Helper()
	status, res := e.do(t, "POST", "/api/chats/start", &e.buyer, fiber.Map{"listingId": e.listing.ID})
	require.Contains(t, []int{http.StatusCreated, http.StatusOK}, status)
	var detail repository.ConversationDetail
	require.NoError(t, json.Unmarshal(res.Data, &detail))
	return detail.ID
}

func TestStartConversation(t *testing.T) {
	e := newEnv(t)

	status, res := e.do(t, "POST", "/api/chats/start", &e.buyer, fiber.Map{"listingId": e.listing.ID})
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, res.Created)
	var first repository.ConversationDetail
	require.NoError(t, json.Unmarshal(res.Data, &first))
	assert.Equal(t, e.seller.ID, first.Counterpart.ID)

	// productId is accepted from older clients
	status, res = e.do(t, "POST", "/api/chats/start", &e.buyer, fiber.Map{"productId": e.listing.ID})
	require.Equal(t, http.StatusOK, status)
	var second repository.ConversationDetail
	require.NoError(t, json.Unmarshal(res.Data, &second))
	assert.Equal(t, first.ID, second.ID)

	status, res = e.do(t, "POST", "/api/chats/start", &e.seller, fiber.Map{"listingId": e.listing.ID})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", res.Code)

	status, _ = e.do(t, "POST", "/api/chats/start", &e.buyer, fiber.Map{"listingId": uuid.New()})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = e.do(t, "POST", "/api/chats/start", &e.buyer, fiber.Map{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = e.do(t, "POST", "/api/chats/start", nil, fiber.Map{"listingId": e.listing.ID})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestSendAndFetchMessages(t *testing.T) {
	e := newEnv(t)
	convID := e.startChat(t)
	base := "/api/chats/" + convID.String()

	status, res := e.do(t, "POST", base+"/messages", &e.buyer, fiber.Map{"body": "Is this available?"})
	require.Equal(t, http.StatusCreated, status)
	var sent map[string]any
	require.NoError(t, json.Unmarshal(res.Data, &sent))
	assert.Equal(t, "Is this available?", sent["content"])
	assert.Equal(t, "Is this available?", sent["body"])
	assert.Equal(t, e.seller.ID.String(), sent["receiverId"])
	assert.Equal(t, sent["timestamp"], sent["createdAt"])

	status, _ = e.do(t, "POST", base+"/messages", &e.buyer, fiber.Map{"content": "cash ok?"})
	require.Equal(t, http.StatusCreated, status)

	status, res = e.do(t, "POST", base+"/messages", &e.stranger, fiber.Map{"body": "hi"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.False(t, res.Success)

	status, res = e.do(t, "POST", base+"/messages", &e.buyer, fiber.Map{"body": ""})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", res.Code)

	status, res = e.do(t, "GET", "/api/chats/unread", &e.seller, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"total":2}`, string(res.Data))

	status, res = e.do(t, "GET", base+"/messages", &e.seller, nil)
	require.Equal(t, http.StatusOK, status)
	var msgs []map[string]any
	require.NoError(t, json.Unmarshal(res.Data, &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "Is this available?", msgs[0]["content"])
	assert.Equal(t, true, msgs[0]["read"])

	status, res = e.do(t, "GET", "/api/chats/unread", &e.seller, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"total":0}`, string(res.Data))

	status, res = e.do(t, "GET", "/api/chats", &e.seller, nil)
	require.Equal(t, http.StatusOK, status)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(res.Data, &list))
	require.Len(t, list, 1)
	assert.EqualValues(t, 0, list[0]["unreadCount"])

	status, _ = e.do(t, "GET", base+"/messages", &e.stranger, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestConversationMetaReadAndClear(t *testing.T) {
	e := newEnv(t)
	convID := e.startChat(t)
	base := "/api/chats/" + convID.String()

	status, res := e.do(t, "GET", base, &e.seller, nil)
	require.Equal(t, http.StatusOK, status)
	var detail map[string]any
	require.NoError(t, json.Unmarshal(res.Data, &detail))
	assert.Equal(t, convID.String(), detail["conversationId"])

	status, _ = e.do(t, "GET", "/api/chats/"+uuid.NewString(), &e.seller, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = e.do(t, "GET", "/api/chats/not-a-uuid", &e.seller, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, res = e.do(t, "PATCH", base+"/read", &e.seller, nil)
	require.Equal(t, http.StatusOK, status)
	var read realtime.ReadPayload
	require.NoError(t, json.Unmarshal(res.Data, &read))
	assert.Equal(t, e.seller.ID, read.UserID)

	status, _ = e.do(t, "PATCH", base+"/read", &e.stranger, nil)
	assert.Equal(t, http.StatusForbidden, status)

	_, _ = e.do(t, "POST", base+"/messages", &e.buyer, fiber.Map{"body": "hello"})
	status, _ = e.do(t, "DELETE", base+"/messages", &e.stranger, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = e.do(t, "DELETE", base+"/messages", &e.buyer, nil)
	require.Equal(t, http.StatusOK, status)

	var n int64
	e.db.Model(&models.Message{}).Where("conversation_id = ?", convID).Count(&n)
	assert.Zero(t, n)
}

func TestDealEndpoints(t *testing.T) {
	e := newEnv(t)
	convID := e.startChat(t)
	base := "/api/chats/" + convID.String() + "/deal"

	status, res := e.do(t, "POST", base+"/confirm", &e.seller, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_state", res.Code)

	status, res = e.do(t, "GET", base, &e.buyer, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"role":"buyer","status":"none","orderId":null}`, string(res.Data))

	status, res = e.do(t, "POST", base+"/confirm", &e.buyer, nil)
	require.Equal(t, http.StatusOK, status)
	var pending map[string]any
	require.NoError(t, json.Unmarshal(res.Data, &pending))
	assert.Equal(t, "pending", pending["status"])

	for i := 0; i < 2; i++ {
		status, res = e.do(t, "POST", base+"/confirm", &e.seller, nil)
		require.Equal(t, http.StatusOK, status)
		var confirmed map[string]any
		require.NoError(t, json.Unmarshal(res.Data, &confirmed))
		assert.Equal(t, "confirmed", confirmed["status"])
		assert.Equal(t, true, confirmed["listingSold"])
		assert.Equal(t, pending["orderId"], confirmed["orderId"])
	}

	status, _ = e.do(t, "GET", base, &e.stranger, nil)
	assert.Equal(t, http.StatusForbidden, status)

	// a second buyer cannot open a deal on the sold listing
	other, _, err := e.chat.StartConversation(context.Background(), e.stranger.ID, e.listing.ID)
	require.NoError(t, err)
	status, res = e.do(t, "POST", "/api/chats/"+other.ID.String()+"/deal/confirm", &e.stranger, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", res.Code)

	status, res = e.do(t, "GET", "/api/orders", &e.seller, nil)
	require.Equal(t, http.StatusOK, status)
	var orders []map[string]any
	require.NoError(t, json.Unmarshal(res.Data, &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "seller", orders[0]["role"])
}

func TestAuthAndListings(t *testing.T) {
	e := newEnv(t)

	status, res := e.do(t, "POST", "/api/auth/register", nil, fiber.Map{"name": "Dewi", "email": "Dewi@Campus.edu", "password": "rahasia123"})
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, res.Success)

	status, _ = e.do(t, "POST", "/api/auth/register", nil, fiber.Map{"name": "Dewi", "email": "dewi@campus.edu", "password": "rahasia123"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = e.do(t, "POST", "/api/auth/login", nil, fiber.Map{"email": "dewi@campus.edu", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, res = e.do(t, "POST", "/api/auth/login", nil, fiber.Map{"email": "dewi@campus.edu", "password": "rahasia123"})
	require.Equal(t, http.StatusOK, status)
	var login struct {
		Token string `json:"token"`
		User  struct {
			ID uuid.UUID `json:"id"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &login))
	assert.NotEmpty(t, login.Token)

	dewi := models.User{ID: login.User.ID, Email: "dewi@campus.edu"}
	status, res = e.do(t, "GET", "/api/me", &dewi, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(res.Data), "dewi@campus.edu")

	status, res = e.do(t, "POST", "/api/listings", &dewi, fiber.Map{"title": "Rice cooker", "price": 90000, "images": []string{"https://cdn.example/rc.jpg"}})
	require.Equal(t, http.StatusCreated, status)
	var created models.Listing
	require.NoError(t, json.Unmarshal(res.Data, &created))
	assert.Equal(t, dewi.ID, created.UserID)

	status, _ = e.do(t, "GET", "/api/listings/"+created.ID.String(), nil, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = e.do(t, "GET", "/api/listings/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = e.do(t, "POST", "/api/listings", &dewi, fiber.Map{"title": " "})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHealth(t *testing.T) {
	e := newEnv(t)

	resp, err := e.app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = e.app.Test(httptest.NewRequest("GET", "/db-health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = e.app.Test(httptest.NewRequest("GET", "/ws/chat", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestDBContextCarriesDeadline(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		ctx, cancel := dbContext(c, 250*time.Millisecond)
		defer cancel()
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(250*time.Millisecond), deadline, 200*time.Millisecond)

		unbounded, cancel2 := dbContext(c, 0)
		defer cancel2()
		_, ok = unbounded.Deadline()
		assert.False(t, ok)
		return c.SendStatus(http.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestListingLookupUnavailable(t *testing.T) {
	e := newEnv(t)
	h := NewListingHandler(e.db, zap.NewNop(), time.Second)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		c.SetUserContext(ctx)
		return c.Next()
	})
	app.Get("/listings/:id", h.Get)

	resp, err := app.Test(httptest.NewRequest("GET", "/listings/"+e.listing.ID.String(), nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var out result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "unavailable", out.Code)
}
