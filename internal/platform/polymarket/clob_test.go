package polymarket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polymirror/internal/crypto"
	"github.com/alanyoungcy/polymirror/internal/domain"
)

// Well-known anvil test key, safe to embed.
const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

const testFunder = "0x370e81c93aa113274321339e69049187cce03bb9"

func testClob(t *testing.T, baseURL string) *ClobClient {
	t.Helper()
	signer, err := crypto.NewSigner(testPrivateKey, 137)
	require.NoError(t, err)
	return NewClobClient(baseURL, signer, testFunder, 1)
}

func TestBuildOrderBuy(t *testing.T) {
	c := testClob(t, "http://unused")

	payload, err := c.buildOrder("12345", domain.DirectionBuy, 50, 0.5)
	require.NoError(t, err)

	assert.Equal(t, testFunder, payload.Maker)
	assert.Equal(t, zeroAddress, payload.Taker)
	assert.Equal(t, "12345", payload.TokenID)
	assert.Equal(t, 0, payload.Side)
	assert.Equal(t, 1, payload.SignatureType)
	// $50 of USDC buys 100 tokens at 0.50, both in 6-decimal fixed point.
	assert.Equal(t, "50000000", payload.MakerAmount)
	assert.Equal(t, "100000000", payload.TakerAmount)
	assert.NotEmpty(t, payload.Salt)
}

func TestBuildOrderSell(t *testing.T) {
	c := testClob(t, "http://unused")

	payload, err := c.buildOrder("12345", domain.DirectionSell, 30, 0.75)
	require.NoError(t, err)

	assert.Equal(t, 1, payload.Side)
	// Selling $30 at 0.75 gives 40 tokens for $30 USDC.
	assert.Equal(t, "40000000", payload.MakerAmount)
	assert.Equal(t, "30000000", payload.TakerAmount)
}

func TestSubmitFillOrKillSellUsesLimitPrice(t *testing.T) {
	var posted map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/order":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
			w.Write([]byte(`{"success":true,"orderID":"ord-1","status":"matched"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := testClob(t, srv.URL)
	limit := 0.25
	receipt, err := c.SubmitFillOrKill(context.Background(), "777", domain.DirectionSell, 10, &limit)
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.Equal(t, "ord-1", receipt.OrderID)

	require.NotNil(t, posted)
	assert.Equal(t, "FOK", posted["orderType"])
	order := posted["order"].(map[string]any)
	assert.Equal(t, "SELL", order["side"])
	assert.NotEmpty(t, order["signature"])
}

func TestSubmitFillOrKillBuyFetchesBookPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/price":
			assert.Equal(t, "777", r.URL.Query().Get("token_id"))
			assert.Equal(t, "BUY", r.URL.Query().Get("side"))
			w.Write([]byte(`{"price":"0.40"}`))
		case "/order":
			var posted map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
			order := posted["order"].(map[string]any)
			// $20 at the fetched 0.40 book price is 50 tokens.
			taker, err := strconv.ParseInt(order["takerAmount"].(string), 10, 64)
			require.NoError(t, err)
			assert.Equal(t, int64(50000000), taker)
			w.Write([]byte(`{"success":true,"orderID":"ord-2"}`))
		}
	}))
	defer srv.Close()

	c := testClob(t, srv.URL)
	receipt, err := c.SubmitFillOrKill(context.Background(), "777", domain.DirectionBuy, 20, nil)
	require.NoError(t, err)
	assert.True(t, receipt.Success)
}

func TestSubmitFillOrKillRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"errorMsg":"not enough balance"}`))
	}))
	defer srv.Close()

	c := testClob(t, srv.URL)
	limit := 0.5
	receipt, err := c.SubmitFillOrKill(context.Background(), "777", domain.DirectionSell, 10, &limit)
	require.NoError(t, err)
	assert.False(t, receipt.Success)
	assert.Equal(t, "not enough balance", receipt.ErrorMsg)
}

func TestSubmitFillOrKillInvalidInput(t *testing.T) {
	c := testClob(t, "http://unused")

	_, err := c.SubmitFillOrKill(context.Background(), "", domain.DirectionBuy, 10, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	bad := 1.5
	_, err = c.SubmitFillOrKill(context.Background(), "777", domain.DirectionBuy, 10, &bad)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}
