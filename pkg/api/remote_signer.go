package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/uhyunpark/sxbet/pkg/crypto"
)

// DefaultSignerTimeout bounds a remote signer call when the caller's ctx
// carries no deadline.
const DefaultSignerTimeout = 10 * time.Second

// RemoteSigner is a crypto.Signer backed by another node's /api/v1/sign
// endpoint. The key never leaves that node.
type RemoteSigner struct {
	baseURL string
	token   string
	client  *http.Client
	timeout time.Duration
	address common.Address
}

// NewRemoteSigner asks the remote node for its signing address. token is the
// remote node's bearer token. client may be nil; timeout <= 0 means
// DefaultSignerTimeout.
func NewRemoteSigner(ctx context.Context, baseURL, token string, client *http.Client, timeout time.Duration) (*RemoteSigner, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultSignerTimeout
	}
	s := &RemoteSigner{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
		timeout: timeout,
	}

	var info SignerInfo
	if err := s.do(ctx, http.MethodGet, "/api/v1/signer", nil, &info); err != nil {
		return nil, errors.Wrap(err, "remote signer address")
	}
	addr, err := crypto.ParseAddress(info.Address)
	if err != nil {
		return nil, errors.Wrap(err, "remote signer address")
	}
	s.address = addr
	return s, nil
}

func (s *RemoteSigner) Address() common.Address { return s.address }

// Sign forwards digest and mode to the remote node. ctx cancellation aborts
// the request.
func (s *RemoteSigner) Sign(ctx context.Context, digest common.Hash, mode crypto.Mode) ([]byte, error) {
	var resp SignResponse
	req := SignRequest{Digest: digest.Hex(), Mode: mode.String()}
	if err := s.do(ctx, http.MethodPost, "/api/v1/sign", req, &resp); err != nil {
		return nil, err
	}
	return crypto.ParseSignature(resp.Signature)
}

func (s *RemoteSigner) do(ctx context.Context, method, path string, body, out interface{}) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, rd)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())
	if s.token != "" {
		req.Header.Set("Authorization", bearerPrefix+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&e)
		return errors.Newf("%s %s: status %d: %s", method, path, resp.StatusCode, e.Message)
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}
