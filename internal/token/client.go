package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// IssueRequest is the wire form of a credential request.
type IssueRequest struct {
	RoomID   string `json:"room_id"`
	CallKind string `json:"call_kind"`
	PartyID  uint32 `json:"party_id,omitempty"`
}

// IssueResponse is the wire form of a minted credential pair.
type IssueResponse struct {
	InitiatorToken   string `json:"initiator_token"`
	ReceiverToken    string `json:"receiver_token"`
	InitiatorPartyID uint32 `json:"initiator_party_id"`
	ReceiverPartyID  uint32 `json:"receiver_party_id"`
	RoomID           string `json:"room_id"`
	IssuerID         string `json:"issuer_id"`
	Success          bool   `json:"success"`
	Error            string `json:"error,omitempty"`
}

// Client fetches credential pairs from a remote issuance endpoint. It
// implements Service for peers that do not hold the signing secret
// themselves.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewClient creates a client for the issuance endpoint at baseURL.
// authToken, when non-empty, is sent as a bearer token.
func NewClient(baseURL, authToken string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    baseURL,
		authToken:  authToken,
		httpClient: httpClient,
	}
}

// Issue requests a credential pair over HTTP.
func (c *Client) Issue(ctx context.Context, roomID string, callKind string, callerPartyID uint32) (*Pair, error) {
	if roomID == "" {
		return nil, fmt.Errorf("%w: %w", ErrIssuance, ErrEmptyRoom)
	}

	body, err := json.Marshal(IssueRequest{RoomID: roomID, CallKind: callKind, PartyID: callerPartyID})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %w", ErrIssuance, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/token", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrIssuance, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIssuance, err)
	}
	defer resp.Body.Close()

	var decoded IssueResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrIssuance, err)
	}

	if resp.StatusCode != http.StatusOK || !decoded.Success {
		msg := decoded.Error
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("%w: %s", ErrIssuance, msg)
	}

	return &Pair{
		Initiator: Credential{Token: decoded.InitiatorToken, PartyID: decoded.InitiatorPartyID, RoomID: decoded.RoomID},
		Responder: Credential{Token: decoded.ReceiverToken, PartyID: decoded.ReceiverPartyID, RoomID: decoded.RoomID},
		IssuerID:  decoded.IssuerID,
	}, nil
}

var _ Service = (*Client)(nil)
