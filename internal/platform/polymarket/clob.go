package polymarket

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/polymirror/internal/crypto"
	"github.com/alanyoungcy/polymirror/internal/domain"
)

// zeroAddress is the open-taker sentinel in CLOB order payloads.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// usdcDecimals scales USD and token quantities to the 6-decimal fixed point
// the CLOB expects.
const usdcDecimals = 1e6

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API. It signs and submits fill-or-kill replica orders.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth

	// funder holds the positions and funds; with proxy wallets it differs
	// from the signing EOA.
	funder        string
	signatureType int
}

// NewClobClient creates a CLOB client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
// signer is the EIP-712 signer for order signatures and auth messages.
// funder is the wallet that holds funds (the proxy wallet address).
// signatureType is 0 for EOA, 1 for POLY_PROXY, 2 for POLY_GNOSIS_SAFE.
func NewClobClient(baseURL string, signer *crypto.Signer, funder string, signatureType int) *ClobClient {
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:        signer,
		funder:        funder,
		signatureType: signatureType,
	}
}

var _ domain.OrderExecutor = (*ClobClient)(nil)

// SubmitFillOrKill signs and posts one fill-or-kill order for the given
// notional. When limitPrice is nil the live book price is used, so the order
// is not killed by a tick of movement; a non-nil limitPrice caps the worst
// acceptable fill. A venue rejection comes back as an unsuccessful receipt
// with a nil error; only transport and signing faults return errors.
func (c *ClobClient) SubmitFillOrKill(ctx context.Context, asset string, dir domain.TradeDirection, notionalUSD float64, limitPrice *float64) (domain.OrderReceipt, error) {
	if asset == "" || notionalUSD <= 0 {
		return domain.OrderReceipt{}, fmt.Errorf("polymarket/clob: %w: asset=%q notional=%.2f",
			domain.ErrInvalidOrder, asset, notionalUSD)
	}

	price := 0.0
	if limitPrice != nil {
		price = *limitPrice
	} else {
		p, err := c.GetPrice(ctx, asset, dir)
		if err != nil {
			return domain.OrderReceipt{}, fmt.Errorf("polymarket/clob: fetch book price: %w", err)
		}
		price = p
	}
	if price <= 0 || price >= 1 {
		return domain.OrderReceipt{}, fmt.Errorf("polymarket/clob: %w: price=%.4f",
			domain.ErrInvalidOrder, price)
	}

	payload, err := c.buildOrder(asset, dir, notionalUSD, price)
	if err != nil {
		return domain.OrderReceipt{}, err
	}

	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderReceipt{}, fmt.Errorf("polymarket/clob: %w: %v", domain.ErrSigningFailed, err)
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
			"tokenId":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"expiration":    payload.Expiration,
			"nonce":         payload.Nonce,
			"feeRateBps":    payload.FeeRateBps,
			"side":          sideString(dir),
			"signatureType": payload.SignatureType,
			"signature":     sig,
		},
		"owner":     c.apiKeyOwner(),
		"orderType": "FOK",
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.OrderReceipt{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var result APIOrderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return domain.OrderReceipt{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	return result.ToReceipt(), nil
}

// GetPrice returns the current book price for taking the given direction on
// an asset.
func (c *ClobClient) GetPrice(ctx context.Context, asset string, dir domain.TradeDirection) (float64, error) {
	params := url.Values{}
	params.Set("token_id", asset)
	params.Set("side", sideString(dir))

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/price?"+params.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: get price: %w", err)
	}

	var p APIPrice
	if err := json.Unmarshal(respBody, &p); err != nil {
		return 0, fmt.Errorf("polymarket/clob: decode price: %w", err)
	}
	price, err := strconv.ParseFloat(p.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: parse price %q: %w", p.Price, err)
	}
	return price, nil
}

// DeriveAPIKey performs the CLOB auth flow to obtain an HMAC API key. It
// signs a ClobAuth EIP-712 message and sends it with L1 headers to the
// derive-api-key endpoint. Per Polymarket docs, L1 requires POLY_ADDRESS,
// POLY_SIGNATURE, POLY_TIMESTAMP, POLY_NONCE. On success it populates the
// client's hmacAuth field.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", fmt.Sprintf("%d", timestamp))
	req.Header.Set("POLY_NONCE", fmt.Sprintf("%d", nonce))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket/clob: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}

	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildOrder converts (asset, direction, notional, price) into the 12-field
// payload the Exchange contract verifies. Buys give USDC for tokens; sells
// give tokens for USDC. Quantities use 6-decimal fixed point.
func (c *ClobClient) buildOrder(asset string, dir domain.TradeDirection, notionalUSD, price float64) (crypto.OrderPayload, error) {
	salt, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	if err != nil {
		return crypto.OrderPayload{}, fmt.Errorf("polymarket/clob: generate salt: %w", err)
	}

	usdc := int64(math.Round(notionalUSD * usdcDecimals))
	tokens := int64(math.Round(notionalUSD / price * usdcDecimals))

	var makerAmount, takerAmount int64
	var side int
	switch dir {
	case domain.DirectionBuy:
		makerAmount, takerAmount = usdc, tokens
		side = 0
	case domain.DirectionSell:
		makerAmount, takerAmount = tokens, usdc
		side = 1
	default:
		return crypto.OrderPayload{}, fmt.Errorf("polymarket/clob: %w: direction %q",
			domain.ErrInvalidOrder, dir)
	}

	return crypto.OrderPayload{
		Salt:          salt.String(),
		Maker:         c.funder,
		Signer:        c.signer.Address().Hex(),
		Taker:         zeroAddress,
		TokenID:       asset,
		MakerAmount:   strconv.FormatInt(makerAmount, 10),
		TakerAmount:   strconv.FormatInt(takerAmount, 10),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          side,
		SignatureType: c.signatureType,
	}, nil
}

// apiKeyOwner is the "owner" field of order submissions: the API key when
// derived, otherwise the funder address.
func (c *ClobClient) apiKeyOwner() string {
	if c.hmacAuth != nil {
		return c.hmacAuth.Key
	}
	return c.funder
}

func sideString(dir domain.TradeDirection) string {
	if dir == domain.DirectionSell {
		return "SELL"
	}
	return "BUY"
}

// doAuthenticatedRequest builds, signs (HMAC), sends, and reads an HTTP
// request against the CLOB API. It returns the raw response body.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Apply HMAC authentication headers.
	if c.hmacAuth != nil {
		address := c.signer.Address().Hex()
		headers := c.hmacAuth.L2Headers(address, method, path, bodyStr)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
