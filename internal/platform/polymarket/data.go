// Package polymarket provides REST clients for the Polymarket Data API
// (balances, activity, positions) and the CLOB API (order placement).
package polymarket

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// DataClient is the REST client for the Polymarket Data API. All endpoints
// are unauthenticated reads keyed by wallet address.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDataClient creates a Data API client.
//
// baseURL is the Data API root, e.g. "https://data-api.polymarket.com".
func NewDataClient(baseURL string) *DataClient {
	return &DataClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

var (
	_ domain.BalanceSource  = (*DataClient)(nil)
	_ domain.ActivitySource = (*DataClient)(nil)
	_ domain.PositionSource = (*DataClient)(nil)
)

// GetBalance returns the USDC cash balance for an address. The accounting
// snapshot endpoint responds with a ZIP archive of CSV reports; the cash
// balance is the cashBalance column of the first equity.csv row. An empty
// report normalizes to 0.
func (d *DataClient) GetBalance(ctx context.Context, address string) (float64, error) {
	params := url.Values{}
	params.Set("user", address)

	body, err := d.doGet(ctx, "/v1/accounting/snapshot?"+params.Encode())
	if err != nil {
		return 0, fmt.Errorf("polymarket/data: get accounting snapshot: %w", err)
	}

	balance, err := parseEquitySnapshot(body)
	if err != nil {
		return 0, fmt.Errorf("polymarket/data: parse accounting snapshot: %w", err)
	}
	return balance, nil
}

// GetActivity returns the freshest page of TRADE activity for an address,
// newest first.
func (d *DataClient) GetActivity(ctx context.Context, address string, limit int) ([]domain.TradeEvent, error) {
	params := url.Values{}
	params.Set("user", address)
	params.Set("type", "TRADE")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("sortBy", "TIMESTAMP")
	params.Set("sortDirection", "DESC")

	body, err := d.doGet(ctx, "/activity?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: get activity: %w", err)
	}

	var entries []APIActivity
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("polymarket/data: decode activity: %w", err)
	}

	events := make([]domain.TradeEvent, 0, len(entries))
	for i := range entries {
		events = append(events, entries[i].ToDomainTradeEvent())
	}
	return events, nil
}

// GetPositions returns all current holdings for an address.
func (d *DataClient) GetPositions(ctx context.Context, address string) ([]domain.Position, error) {
	params := url.Values{}
	params.Set("user", address)

	body, err := d.doGet(ctx, "/positions?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: get positions: %w", err)
	}

	var entries []APIPosition
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("polymarket/data: decode positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(entries))
	for i := range entries {
		positions = append(positions, entries[i].ToDomainPosition())
	}
	return positions, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends an unauthenticated GET request to the Data API.
func (d *DataClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}

// equityFile is the report inside the accounting snapshot archive that
// carries the cash balance.
const equityFile = "equity.csv"

// parseEquitySnapshot extracts the cashBalance value from the ZIP archive
// returned by the accounting snapshot endpoint.
func parseEquitySnapshot(archive []byte) (float64, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}

	f, err := zr.Open(equityFile)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", equityFile, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err == io.EOF {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s header: %w", equityFile, err)
	}

	col := -1
	for i, name := range header {
		if name == "cashBalance" {
			col = i
			break
		}
	}
	if col < 0 {
		return 0, fmt.Errorf("%s: no cashBalance column", equityFile)
	}

	row, err := r.Read()
	if err == io.EOF {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s row: %w", equityFile, err)
	}
	if col >= len(row) || row[col] == "" {
		return 0, nil
	}

	balance, err := strconv.ParseFloat(row[col], 64)
	if err != nil {
		return 0, fmt.Errorf("parse cashBalance %q: %w", row[col], err)
	}
	return balance, nil
}
