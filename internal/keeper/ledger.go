package keeper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/castbet/internal/crypto"
	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/service"
	"github.com/alanyoungcy/castbet/internal/settlement"
)

// Local drives an in-process ledger service.
type Local struct {
	svc   *service.LedgerService
	clock func() time.Time
}

// NewLocal wraps svc.
func NewLocal(svc *service.LedgerService) *Local {
	return &Local{svc: svc, clock: func() time.Time { return time.Now().UTC() }}
}

func (l *Local) Due(context.Context) (Due, error) {
	d := l.svc.DueAt(l.clock())
	return Due{Finalize: d.Finalize, Distribute: d.Distribute}, nil
}

func (l *Local) Finalize(ctx context.Context, marketID string, caller domain.Address) error {
	_, err := l.svc.Submit(ctx, uuid.NewString(), settlement.FinalizeOutcome{MarketID: marketID, Caller: caller})
	return err
}

func (l *Local) Distribute(ctx context.Context, marketID string, caller domain.Address, batchSize int) (settlement.BatchResult, error) {
	c, err := l.svc.Submit(ctx, uuid.NewString(), settlement.DistributeWinnings{
		MarketID:  marketID,
		Caller:    caller,
		BatchSize: batchSize,
	})
	if err != nil {
		return settlement.BatchResult{}, err
	}
	if c.Result.Batch == nil {
		return settlement.BatchResult{}, nil
	}
	return *c.Result.Batch, nil
}

// Remote drives a castbet API server, signing every request with the
// keeper's key.
type Remote struct {
	baseURL string
	apiKey  string
	signer  *crypto.Signer
	client  *http.Client
}

// NewRemote creates a Remote for the server at baseURL.
func NewRemote(baseURL, apiKey string, signer *crypto.Signer) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		signer:  signer,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (r *Remote) Due(ctx context.Context) (Due, error) {
	var d Due
	err := r.do(ctx, http.MethodGet, "/api/keeper/due", nil, &d)
	return d, err
}

func (r *Remote) Finalize(ctx context.Context, marketID string, _ domain.Address) error {
	return r.do(ctx, http.MethodPost, "/api/markets/"+url.PathEscape(marketID)+"/finalize", struct{}{}, nil)
}

func (r *Remote) Distribute(ctx context.Context, marketID string, _ domain.Address, batchSize int) (settlement.BatchResult, error) {
	var out struct {
		Batch *settlement.BatchResult `json:"batch"`
	}
	body := map[string]int{"batch_size": batchSize}
	if err := r.do(ctx, http.MethodPost, "/api/markets/"+url.PathEscape(marketID)+"/distribute", body, &out); err != nil {
		return settlement.BatchResult{}, err
	}
	if out.Batch == nil {
		return settlement.BatchResult{}, nil
	}
	return *out.Batch, nil
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (r *Remote) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("keeper: marshal %s: %w", path, err)
		}
		body = b
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("keeper: build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)
	if r.apiKey != "" {
		req.Header.Set("X-API-Key", r.apiKey)
	}
	if r.signer != nil {
		at := time.Now().UTC()
		sig, err := r.signer.SignRequest(method, path, reqID, at, body)
		if err != nil {
			return fmt.Errorf("keeper: sign %s: %w", path, err)
		}
		req.Header.Set("X-Castbet-Address", r.signer.Address().Hex())
		req.Header.Set("X-Castbet-Timestamp", strconv.FormatInt(at.Unix(), 10))
		req.Header.Set("X-Castbet-Signature", sig)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("keeper: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var ae apiError
		if json.Unmarshal(raw, &ae) == nil {
			if sentinel := domain.CodeError(ae.Code); sentinel != nil {
				return fmt.Errorf("keeper: %s %s: %s: %w", method, path, ae.Error, sentinel)
			}
		}
		return fmt.Errorf("keeper: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("keeper: decode %s: %w", path, err)
	}
	return nil
}
