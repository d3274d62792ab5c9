package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caspy-social/caspy-backend/internal/access"
	"github.com/caspy-social/caspy-backend/internal/adapter"
	"github.com/caspy-social/caspy-backend/internal/api/middleware"
	"github.com/caspy-social/caspy-backend/internal/casper"
	"github.com/caspy-social/caspy-backend/internal/domain"
	"github.com/caspy-social/caspy-backend/internal/rewards"
	"github.com/caspy-social/caspy-backend/internal/store"
	"github.com/caspy-social/caspy-backend/internal/store/schema"
	"github.com/caspy-social/caspy-backend/internal/trades"
	"github.com/caspy-social/caspy-backend/internal/ws"
)

const (
	testPriceMotes = 1000 * domain.MotesPerCSPR
	testAPIKey     = "test-api-key"
)

// rpcStub serves scripted deploy statuses
type rpcStub struct {
	status *casper.DeployStatus
	err    error
}

func (s *rpcStub) GetDeployStatus(_ context.Context, _ string) (*casper.DeployStatus, error) {
	return s.status, s.err
}

// ownerStub serves scripted contract package owners
type ownerStub struct {
	owners map[string]string
	err    error
}

func (s *ownerStub) GetContractPackageOwner(_ context.Context, packageHash string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	owner, ok := s.owners[domain.NormalizeHash(packageHash)]
	if !ok {
		return "", domain.ErrOwnerNotFound
	}
	return owner, nil
}

type testEnv struct {
	router *gin.Engine
	store  *store.MemoryStore
	clock  *adapter.FakeClock
	ledger *access.Ledger
	waiter *PaymentWaiter
	rpc    *rpcStub
	owners *ownerStub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := store.NewMemoryStore()
	clock := adapter.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	evaluator := access.NewEvaluator(s, clock, 90)
	ledger := access.NewLedger(s, clock, evaluator, testPriceMotes)
	feed := trades.NewFeed(
		trades.NewClassifier("routercontract", []string{"paircontract"}),
		[]trades.Token{{Symbol: "CASPY", ContractPackageHash: "caspytoken"}},
		10, nil)
	hub := ws.NewHub()
	waiter := NewPaymentWaiter()
	rpc := &rpcStub{err: domain.ErrDeployNotFound}
	owners := &ownerStub{owners: map[string]string{}}
	distributor := rewards.NewDistributor(s, clock, 100*domain.MotesPerCSPR)

	handler := NewHandler(s, ledger, feed, hub, rpc, owners, clock, waiter, distributor, CTOSettings{
		ReceiverWallet:      "01receiverpub",
		ReceiverAccountHash: "receiveracct",
		PriceMotes:          testPriceMotes,
		InactivityDays:      90,
		Network:             domain.NetworkMainnet,
	})

	router := gin.New()
	SetupRoutes(router, handler, middleware.AuthConfig{APIKeys: []string{testAPIKey}},
		ws.Serve(hub, s, clock))

	return &testEnv{router: router, store: s, clock: clock, ledger: ledger, waiter: waiter, rpc: rpc, owners: owners}
}

func (e *testEnv) request(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// seedPayment stores an observed payment the listener would have written
func (e *testEnv) seedPayment(t *testing.T, deployHash, sender string, amount uint64) {
	t.Helper()
	require.NoError(t, e.store.CreatePendingPayment(context.Background(), &schema.PendingPayment{
		ID:              "pay-" + deployHash,
		DeployHash:      deployHash,
		SenderPublicKey: sender,
		Amount:          amount,
		Network:         domain.NetworkMainnet,
		ObservedAt:      e.clock.Now(),
	}))
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	w := env.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])
}

func TestGetCTOConfig(t *testing.T) {
	env := newTestEnv(t)
	w := env.request(t, http.MethodGet, "/api/v1/cto/config", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "01receiverpub", body["receiver_wallet"])
	assert.Equal(t, "1000000000000", body["price_motes"])
	assert.Equal(t, "1000", body["price_cspr"])
	assert.Equal(t, float64(90), body["inactivity_days"])
}

func TestLinkPaymentVerified(t *testing.T) {
	env := newTestEnv(t)
	env.seedPayment(t, "deploy01", "01sender", testPriceMotes)

	w := env.request(t, http.MethodPost, "/api/v1/cto/link", gin.H{
		"token_hash":     "hash-TOKEN01",
		"wallet_address": "01SENDER",
		"deploy_hash":    "deploy01",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, true, body["verified"])
	accessBody := body["access"].(map[string]interface{})
	assert.Equal(t, "token01", accessBody["token_hash"])
	assert.Equal(t, "01sender", accessBody["holder"])

	// payment is consumed
	payment, err := env.store.GetPendingPayment(context.Background(), "deploy01")
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.NotNil(t, payment.LinkedAt)
}

func TestLinkPaymentUnseenDeployPending(t *testing.T) {
	env := newTestEnv(t)
	env.rpc.status = nil
	env.rpc.err = domain.ErrDeployNotFound

	w := env.request(t, http.MethodPost, "/api/v1/cto/link", gin.H{
		"token_hash":     "token01",
		"wallet_address": "01sender",
		"deploy_hash":    "deploy99",
	})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["pending"])
}

func TestLinkPaymentExecutedButUnobserved(t *testing.T) {
	env := newTestEnv(t)
	env.rpc.status = &casper.DeployStatus{Executed: true, Success: true}
	env.rpc.err = nil

	w := env.request(t, http.MethodPost, "/api/v1/cto/link", gin.H{
		"token_hash":     "token01",
		"wallet_address": "01sender",
		"deploy_hash":    "deploy99",
	})
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestLinkPaymentFailedDeploy(t *testing.T) {
	env := newTestEnv(t)
	env.rpc.status = &casper.DeployStatus{Executed: true, Success: false, ErrorMessage: "out of gas"}
	env.rpc.err = nil

	w := env.request(t, http.MethodPost, "/api/v1/cto/link", gin.H{
		"token_hash":     "token01",
		"wallet_address": "01sender",
		"deploy_hash":    "deploybad",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := decodeBody(t, w)
	errBody := body["error"].(map[string]interface{})
	assert.Equal(t, "payment_failed", errBody["code"])
	assert.Equal(t, "out of gas", errBody["details"])
}

func TestLinkPaymentWrongWallet(t *testing.T) {
	env := newTestEnv(t)
	env.seedPayment(t, "deploy01", "01sender", testPriceMotes)

	w := env.request(t, http.MethodPost, "/api/v1/cto/link", gin.H{
		"token_hash":     "token01",
		"wallet_address": "01somebodyelse",
		"deploy_hash":    "deploy01",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestLinkPaymentTestnetBlocked(t *testing.T) {
	env := newTestEnv(t)
	w := env.request(t, http.MethodPost, "/api/v1/cto/link", gin.H{
		"token_hash":     "token01",
		"wallet_address": "01sender",
		"deploy_hash":    "deploy01",
		"network":        "testnet",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	errBody := decodeBody(t, w)["error"].(map[string]interface{})
	assert.Equal(t, "testnet_blocked", errBody["code"])
}

func TestLinkPaymentHeld(t *testing.T) {
	env := newTestEnv(t)

	// first claimant takes the token
	env.seedPayment(t, "deploy01", "01first", testPriceMotes)
	w := env.request(t, http.MethodPost, "/api/v1/cto/link", gin.H{
		"token_hash":     "token01",
		"wallet_address": "01first",
		"deploy_hash":    "deploy01",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// a challenger pays while the holder is still protected
	env.clock.Advance(30 * 24 * time.Hour)
	env.seedPayment(t, "deploy02", "01challenger", testPriceMotes)
	w = env.request(t, http.MethodPost, "/api/v1/cto/link", gin.H{
		"token_hash":     "token01",
		"wallet_address": "01challenger",
		"deploy_hash":    "deploy02",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	body := decodeBody(t, w)
	errBody := body["error"].(map[string]interface{})
	assert.Equal(t, "access_held", errBody["code"])
	assert.Equal(t, "01first", body["current_holder"])
	assert.Equal(t, float64(60), body["days_remaining"])
}

func TestLinkPaymentReclaimAfterInactivity(t *testing.T) {
	env := newTestEnv(t)

	env.seedPayment(t, "deploy01", "01first", testPriceMotes)
	w := env.request(t, http.MethodPost, "/api/v1/cto/link", gin.H{
		"token_hash":     "token01",
		"wallet_address": "01first",
		"deploy_hash":    "deploy01",
	})
	require.Equal(t, http.StatusOK, w.Code)

	env.clock.Advance(91 * 24 * time.Hour)
	env.seedPayment(t, "deploy02", "01challenger", testPriceMotes)
	w = env.request(t, http.MethodPost, "/api/v1/cto/link", gin.H{
		"token_hash":     "token01",
		"wallet_address": "01challenger",
		"deploy_hash":    "deploy02",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "01challenger",
		decodeBody(t, w)["access"].(map[string]interface{})["holder"])
}

func TestLinkPaymentDuplicate(t *testing.T) {
	env := newTestEnv(t)
	env.seedPayment(t, "deploy01", "01sender", testPriceMotes)

	w := env.request(t, http.MethodPost, "/api/v1/cto/link", gin.H{
		"token_hash":     "token01",
		"wallet_address": "01sender",
		"deploy_hash":    "deploy01",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// same payment against a different token
	w = env.request(t, http.MethodPost, "/api/v1/cto/link", gin.H{
		"token_hash":     "token02",
		"wallet_address": "01sender",
		"deploy_hash":    "deploy01",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// resubmitting the original link is idempotent
	w = env.request(t, http.MethodPost, "/api/v1/cto/link", gin.H{
		"token_hash":     "token01",
		"wallet_address": "01sender",
		"deploy_hash":    "deploy01",
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLinkPaymentTooSmall(t *testing.T) {
	env := newTestEnv(t)
	env.seedPayment(t, "deploy01", "01sender", testPriceMotes/2)

	w := env.request(t, http.MethodPost, "/api/v1/cto/link", gin.H{
		"token_hash":     "token01",
		"wallet_address": "01sender",
		"deploy_hash":    "deploy01",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAccessAndAvailability(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodGet, "/api/v1/cto/availability/token01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["available"])
	assert.Equal(t, "unclaimed", body["reason"])

	env.seedPayment(t, "deploy01", "01holder", testPriceMotes)
	w = env.request(t, http.MethodPost, "/api/v1/cto/link", gin.H{
		"token_hash":     "token01",
		"wallet_address": "01holder",
		"deploy_hash":    "deploy01",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodGet, "/api/v1/cto/access/token01/01holder", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["has_access"])

	w = env.request(t, http.MethodGet, "/api/v1/cto/access/token01/01stranger", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["has_access"])

	w = env.request(t, http.MethodGet, "/api/v1/cto/availability/token01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.Equal(t, false, body["available"])
	assert.Equal(t, "holder_active", body["reason"])
	assert.Equal(t, "01holder", body["current_holder"])
	assert.Equal(t, float64(90), body["days_remaining"])
}

func TestGetPendingPayment(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodGet, "/api/v1/cto/pending/deploy01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["observed"])

	env.seedPayment(t, "deploy01", "01sender", testPriceMotes)
	w = env.request(t, http.MethodGet, "/api/v1/cto/pending/deploy01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["observed"])
	payment := body["payment"].(map[string]interface{})
	assert.Equal(t, "01sender", payment["sender_public_key"])
	assert.Equal(t, false, payment["linked"])
}

func TestGetPendingPaymentLongPoll(t *testing.T) {
	env := newTestEnv(t)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- env.request(t, http.MethodGet, "/api/v1/cto/pending/deploy01?wait=5", nil)
	}()

	// let the request register its waiter, then announce the payment
	assert.Eventually(t, func() bool {
		env.waiter.Notify(&domain.PaymentObserved{
			DeployHash:      "deploy01",
			SenderPublicKey: "01sender",
			Amount:          testPriceMotes,
			Network:         domain.NetworkMainnet,
		})
		select {
		case w := <-done:
			done <- w
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	w := <-done
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["observed"])
}

func TestRevokeAccessRequiresAPIKey(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodDelete, "/api/v1/cto/access/token01/01holder", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRevokeAccess(t *testing.T) {
	env := newTestEnv(t)
	env.seedPayment(t, "deploy01", "01holder", testPriceMotes)
	w := env.request(t, http.MethodPost, "/api/v1/cto/link", gin.H{
		"token_hash":     "token01",
		"wallet_address": "01holder",
		"deploy_hash":    "deploy01",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodDelete, "/api/v1/cto/access/token01/01holder", nil,
		"Authorization", "ApiKey "+testAPIKey)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodGet, "/api/v1/cto/access/token01/01holder", nil)
	assert.Equal(t, false, decodeBody(t, w)["has_access"])

	// revoking again is a 404
	w = env.request(t, http.MethodDelete, "/api/v1/cto/access/token01/01holder", nil,
		"Authorization", "ApiKey "+testAPIKey)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStoriesPublishGatedByAccess(t *testing.T) {
	env := newTestEnv(t)

	// nobody controls the token yet
	w := env.request(t, http.MethodPost, "/api/v1/stories", gin.H{
		"token_hash":     "token01",
		"wallet_address": "01holder",
		"caption":        "gm",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	env.seedPayment(t, "deploy01", "01holder", testPriceMotes)
	w = env.request(t, http.MethodPost, "/api/v1/cto/link", gin.H{
		"token_hash":     "token01",
		"wallet_address": "01holder",
		"deploy_hash":    "deploy01",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodPost, "/api/v1/stories", gin.H{
		"token_hash":     "token01",
		"wallet_address": "01holder",
		"caption":        "gm",
		"media_url":      "https://cdn.example/1.png",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decodeBody(t, w)["id"].(float64)

	w = env.request(t, http.MethodGet, fmt.Sprintf("/api/v1/stories/%d", int64(id)), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var story schema.Story
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &story))
	assert.Equal(t, "token01", story.TokenHash)
	assert.Equal(t, "gm", story.Caption)
}

func TestOwnerPublishesWithoutPayment(t *testing.T) {
	env := newTestEnv(t)
	env.owners.owners["token01"] = "01owner"

	// The verified owner has free access before any grant exists
	w := env.request(t, http.MethodGet, "/api/v1/cto/access/token01/01owner", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["has_access"])
	assert.Equal(t, true, body["is_owner"])
	assert.Equal(t, false, body["is_cto_holder"])

	// The first publish installs the owner grant
	w = env.request(t, http.MethodPost, "/api/v1/stories", gin.H{
		"token_hash":     "token01",
		"wallet_address": "01owner",
		"caption":        "launch day",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.request(t, http.MethodGet, "/api/v1/cto/access/token01/01owner", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.Equal(t, true, body["has_access"])
	assert.Equal(t, "01owner", body["holder"])
	assert.Equal(t, true, body["owner_grant"])
}

func TestOwnerInactivityOpensReclaim(t *testing.T) {
	env := newTestEnv(t)
	env.owners.owners["token01"] = "01owner"

	w := env.request(t, http.MethodPost, "/api/v1/stories", gin.H{
		"token_hash":     "token01",
		"wallet_address": "01owner",
		"caption":        "launch day",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// 91 silent days later the owner's grant is open to takeover
	env.clock.Advance(91 * 24 * time.Hour)
	w = env.request(t, http.MethodGet, "/api/v1/cto/availability/token01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["available"])
	assert.Equal(t, "owner_inactive", body["reason"])

	env.seedPayment(t, "deploy01", "01challenger", testPriceMotes)
	w = env.request(t, http.MethodPost, "/api/v1/cto/link", gin.H{
		"token_hash":     "token01",
		"wallet_address": "01challenger",
		"deploy_hash":    "deploy01",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "01challenger",
		decodeBody(t, w)["access"].(map[string]interface{})["holder"])
}

func TestOwnerLookupFailureDeniesQuietly(t *testing.T) {
	env := newTestEnv(t)
	env.owners.err = errors.New("cloud api unavailable")

	// A dead owner lookup must not fail the request, only withhold the
	// owner's free access
	w := env.request(t, http.MethodGet, "/api/v1/cto/access/token01/01owner", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["has_access"])
}

func TestPublishingResetsInactivityClock(t *testing.T) {
	env := newTestEnv(t)
	env.seedPayment(t, "deploy01", "01holder", testPriceMotes)
	w := env.request(t, http.MethodPost, "/api/v1/cto/link", gin.H{
		"token_hash":     "token01",
		"wallet_address": "01holder",
		"deploy_hash":    "deploy01",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// 89 days of silence, then a publish
	env.clock.Advance(89 * 24 * time.Hour)
	w = env.request(t, http.MethodPost, "/api/v1/stories", gin.H{
		"token_hash":     "token01",
		"wallet_address": "01holder",
		"caption":        "still here",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// 89 more days later the token is still protected
	env.clock.Advance(89 * 24 * time.Hour)
	w = env.request(t, http.MethodGet, "/api/v1/cto/availability/token01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["available"])
}

func TestStoryActivity(t *testing.T) {
	env := newTestEnv(t)
	env.seedPayment(t, "deploy01", "01holder", testPriceMotes)
	w := env.request(t, http.MethodPost, "/api/v1/cto/link", gin.H{
		"token_hash":     "token01",
		"wallet_address": "01holder",
		"deploy_hash":    "deploy01",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodPost, "/api/v1/stories", gin.H{
		"token_hash":     "token01",
		"wallet_address": "01holder",
		"caption":        "gm",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := int64(decodeBody(t, w)["id"].(float64))

	w = env.request(t, http.MethodPost, fmt.Sprintf("/api/v1/stories/%d/activity", id), gin.H{
		"views": 3, "likes": 1, "shares": 2,
	})
	require.Equal(t, http.StatusOK, w.Code)

	story, err := env.store.GetStory(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), story.Views)
	assert.Equal(t, int64(1), story.Likes)
	assert.Equal(t, int64(2), story.Shares)

	w = env.request(t, http.MethodPost, "/api/v1/stories/999/activity", gin.H{"views": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTrades(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodGet, "/api/v1/tokens/caspytoken/trades", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody(t, w)["trades"])
}

func TestDistributeRewardsRequiresAPIKey(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/v1/rewards/distribute", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.request(t, http.MethodPost, "/api/v1/rewards/distribute", nil,
		"Authorization", "ApiKey "+testAPIKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decodeBody(t, w)["distributed"])
}
