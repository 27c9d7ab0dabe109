/*

This file contains the live HTTP client for the external attestation service.
Dispatches carry identifiers only; the service pulls full batch records
out-of-band and posts the attested result back to the configured callback URL.

*/

package attestor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/meridian-dex/rpm/internal/logger"
)

const (
	MAX_RETRIES     = 3
	TIMEOUT_SECONDS = 30
)

var ErrInvalidDispatchResponse = errors.New("invalid dispatch response")

// LiveClient talks to the attestation service over HTTP JSON.
type LiveClient struct {
	logger  zerolog.Logger
	baseURL string
	issuer  string
	http    *http.Client
}

type dispatchResponse struct {
	RequestID string `json:"request_id"`
	Accepted  bool   `json:"accepted"`
	Message   string `json:"message,omitempty"`
}

type balanceResponse struct {
	Issuer  string `json:"issuer"`
	Balance string `json:"balance"`
}

// NewLiveClient creates a client against the attestation service base URL.
func NewLiveClient(baseURL, issuer string) (*LiveClient, error) {
	if baseURL == "" {
		return nil, errors.New("attestor base URL cannot be empty")
	}
	if issuer == "" {
		return nil, errors.New("issuer address cannot be empty")
	}

	return &LiveClient{
		logger:  logger.GetForComponent("attestor_client"),
		baseURL: baseURL,
		issuer:  issuer,
		http:    &http.Client{Timeout: TIMEOUT_SECONDS * time.Second},
	}, nil
}

// Dispatch submits an attestation request. The fee balance is checked eagerly so
// an underfunded flush fails before the service queues any work.
func (c *LiveClient) Dispatch(ctx context.Context, req DispatchRequest) (string, error) {
	balance, err := c.Balance(ctx)
	if err != nil {
		return "", fmt.Errorf("eager balance check failed: %w", err)
	}
	if balance.LT(req.Fee) {
		c.logger.Warn().
			Str("balance", balance.String()).
			Str("fee", req.Fee.String()).
			Msg("Dispatch refused: balance below required fee")
		return "", ErrInsufficientBalance
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode dispatch request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= MAX_RETRIES; attempt++ {
		c.logger.Debug().
			Str("batchID", string(req.BatchID)).
			Int("attempt", attempt).
			Int("maxRetries", MAX_RETRIES).
			Msg("Dispatching attestation request")

		requestID, retryable, err := c.dispatchOnce(ctx, body)
		if err == nil {
			c.logger.Info().
				Str("batchID", string(req.BatchID)).
				Str("requestID", requestID).
				Uint64("nonce", req.Nonce).
				Msg("Attestation request dispatched")
			return requestID, nil
		}

		lastErr = err
		if !retryable {
			break
		}
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Msg("Dispatch attempt failed, will retry if attempts remain")
		if attempt < MAX_RETRIES {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}

	return "", fmt.Errorf("%w: %w", ErrDispatchFailed, lastErr)
}

// dispatchOnce performs one POST. The second return reports whether the failure
// is worth retrying (transport errors and 5xx yes, everything else no).
func (c *LiveClient) dispatchOnce(ctx context.Context, body []byte) (string, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/requests", bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", true, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		return "", false, ErrInsufficientBalance
	case resp.StatusCode >= 500:
		return "", true, fmt.Errorf("attestor returned status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted:
		return "", false, fmt.Errorf("attestor returned status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("failed to read dispatch response: %w", err)
	}

	var decoded dispatchResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrInvalidDispatchResponse, err)
	}
	if !decoded.Accepted || decoded.RequestID == "" {
		return "", false, fmt.Errorf("%w: accepted=%t message=%q", ErrDispatchFailed, decoded.Accepted, decoded.Message)
	}

	return decoded.RequestID, false, nil
}

// Balance fetches the prepaid fee balance held with the service.
func (c *LiveClient) Balance(ctx context.Context) (sdkmath.LegacyDec, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/accounts/"+c.issuer+"/balance", nil)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("balance request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("balance endpoint returned status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("failed to read balance response: %w", err)
	}

	var decoded balanceResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("failed to decode balance response: %w", err)
	}

	balance, err := sdkmath.LegacyNewDecFromStr(decoded.Balance)
	if err != nil {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("invalid balance value %q: %w", decoded.Balance, err)
	}
	return balance, nil
}

// Close cleans up client resources.
func (c *LiveClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// ProbeHealth checks the attestation service's gRPC health surface once. Called at
// startup before entering live mode so a dead attestor fails fast instead of
// surfacing as a string of failed dispatches.
func ProbeHealth(ctx context.Context, grpcEndpoint string) error {
	conn, err := grpc.NewClient(grpcEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create gRPC client: %w", err)
	}
	defer conn.Close()

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(probeCtx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("attestor health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("attestor not serving: %s", resp.GetStatus())
	}
	return nil
}
