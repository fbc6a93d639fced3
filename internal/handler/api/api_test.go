package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"TeeRelay/internal/domain/models"
	"TeeRelay/internal/domain/relayerr"
	"TeeRelay/internal/service/attestation"
	"TeeRelay/internal/service/enclave"
	"TeeRelay/internal/usecase"
	"TeeRelay/pkg/cache"
	xhttp "TeeRelay/pkg/http"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

type stubRelay struct {
	proxyErr error
	buildErr error
	execRes  *models.ExecutionResult
	built    *models.BuildSponsoredTxRequest
}

func (s *stubRelay) TeeProxy(context.Context, *models.TeeProxyRequest) (*enclave.Response, error) {
	if s.proxyErr != nil {
		return nil, s.proxyErr
	}
	return &enclave.Response{Status: 200, Body: json.RawMessage(`{"ok":true}`)}, nil
}

func (s *stubRelay) BuildSponsoredTx(_ context.Context, req *models.BuildSponsoredTxRequest) (*models.BuildSponsoredTxResponse, error) {
	s.built = req
	if s.buildErr != nil {
		return nil, s.buildErr
	}
	return &models.BuildSponsoredTxResponse{TxBytes: "AAA=", Digest: "d1", Action: req.Action}, nil
}

func (s *stubRelay) ExecuteSponsoredTx(context.Context, *models.ExecuteSponsoredTxRequest) (*models.ExecutionResult, error) {
	return s.execRes, nil
}

type stubRegistry struct {
	rotateErr error
}

func (stubRegistry) Current() models.AttestationRecord {
	return models.AttestationRecord{Version: 4}
}

func (stubRegistry) History(context.Context, int) ([]models.AttestationRecord, error) {
	return []models.AttestationRecord{{Version: 4}, {Version: 3}}, nil
}

func (s stubRegistry) Rotate(context.Context, models.PCRs, string) (*models.RotationResult, error) {
	return nil, s.rotateErr
}

func (stubRegistry) RegisterEnclave(context.Context, []byte) (*models.EnclaveBinding, error) {
	return &models.EnclaveBinding{RecordVersion: 4}, nil
}

func (stubRegistry) TrustedKeys() []models.EnclaveBinding { return nil }

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func serve(t *testing.T, handlers []xhttp.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	srv := xhttp.NewServer(handlers)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope %q: %v", rec.Body.String(), err)
	}
	return rec, env
}

func firstError(t *testing.T, env envelope) map[string]interface{} {
	t.Helper()
	var errs []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &errs))
	require.NotEmpty(t, errs)
	return errs[0]
}

const betBody = `{"sender":"0xa11ce","quote":{"response":{}},"amount":50000000,"pool_id":7,"outcome":1,"maker":"0xb0b","current_probs":[5000,5000]}`

func TestBuildRejectsOtherMethods(t *testing.T) {
	h := NewRelayHandler(nil, &stubRelay{})
	for _, m := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		rec, env := serve(t, []xhttp.Handler{h}, m, "/api/build-sponsored-tx", "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: got %d", m, rec.Code)
		}
		require.Equal(t, "ERR_METHOD_NOT_ALLOWED", firstError(t, env)["code"])
	}
}

func TestBuildNamesMissingFields(t *testing.T) {
	h := NewRelayHandler(nil, &stubRelay{})
	rec, env := serve(t, []xhttp.Handler{h}, http.MethodPost, "/api/build-sponsored-tx", `{"action":"withdraw"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var errs []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &errs))
	fields := map[string]bool{}
	for _, e := range errs {
		fields[e["field"].(string)] = true
	}
	require.True(t, fields["sender"])
	require.True(t, fields["quote"])
	require.True(t, fields["amount"])
	require.False(t, fields["pool_id"])
}

func TestBuildDefaultsToPlaceBet(t *testing.T) {
	relay := &stubRelay{}
	rec, _ := serve(t, []xhttp.Handler{NewRelayHandler(nil, relay)}, http.MethodPost, "/api/build-sponsored-tx", betBody)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "place_bet", relay.built.Action)
	require.Equal(t, "no-store", rec.Header().Get(echo.HeaderCacheControl))
}

func TestRelayErrorsCarryClassAndRetryable(t *testing.T) {
	cases := []struct {
		err       error
		status    int
		code      string
		class     string
		retryable bool
	}{
		{relayerr.New(relayerr.CodeReplayedQuote, "already used"), http.StatusConflict, "REPLAYED_QUOTE", "trust", false},
		{relayerr.New(relayerr.CodeSponsorUnavailable, "no gas"), http.StatusServiceUnavailable, "SPONSOR_UNAVAILABLE", "availability", true},
		{relayerr.New(relayerr.CodeTimeout, "slow"), http.StatusGatewayTimeout, "TIMEOUT", "availability", true},
		{relayerr.New(relayerr.CodeUpstreamError, "500"), http.StatusBadGateway, "UPSTREAM_ERROR", "upstream", false},
	}
	for _, tc := range cases {
		h := NewRelayHandler(nil, &stubRelay{buildErr: tc.err})
		rec, env := serve(t, []xhttp.Handler{h}, http.MethodPost, "/api/build-sponsored-tx", betBody)
		require.Equal(t, tc.status, rec.Code, tc.code)
		e := firstError(t, env)
		require.Equal(t, tc.code, e["code"])
		params := e["params"].(map[string]interface{})
		require.Equal(t, tc.class, params["class"])
		require.Equal(t, tc.retryable, params["retryable"])
	}
}

func TestMismatchNamesField(t *testing.T) {
	h := NewRelayHandler(nil, &stubRelay{buildErr: relayerr.Mismatch("amount", 51, 50)})
	rec, env := serve(t, []xhttp.Handler{h}, http.MethodPost, "/api/build-sponsored-tx", betBody)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "amount", firstError(t, env)["field"])
}

func TestInputErrorAndRateLimit(t *testing.T) {
	h := NewRelayHandler(nil, &stubRelay{buildErr: &usecase.InputError{Field: "maker", Message: "bad address"}})
	rec, env := serve(t, []xhttp.Handler{h}, http.MethodPost, "/api/build-sponsored-tx", betBody)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "maker", firstError(t, env)["field"])

	h = NewRelayHandler(nil, &stubRelay{buildErr: usecase.ErrRateLimited})
	rec, _ = serve(t, []xhttp.Handler{h}, http.MethodPost, "/api/build-sponsored-tx", betBody)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestTeeProxyUnavailable(t *testing.T) {
	h := NewRelayHandler(nil, &stubRelay{proxyErr: relayerr.New(relayerr.CodeUpstreamUnavailable, "enclave timed out")})
	rec, env := serve(t, []xhttp.Handler{h}, http.MethodPost, "/api/tee-proxy", `{"payload":{}}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "UPSTREAM_UNAVAILABLE", firstError(t, env)["code"])
}

func TestTeeProxyPassesBodyThrough(t *testing.T) {
	rec, env := serve(t, []xhttp.Handler{NewRelayHandler(nil, &stubRelay{})}, http.MethodPost, "/api/tee-proxy", `{"endpoint":"health_check"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"ok":true}`, string(env.Data))
}

func TestExecuteReturnsResult(t *testing.T) {
	relay := &stubRelay{execRes: &models.ExecutionResult{Digest: "d1", Status: "success"}}
	rec, env := serve(t, []xhttp.Handler{NewRelayHandler(nil, relay)}, http.MethodPost, "/api/execute-sponsored-tx",
		`{"tx_bytes":"AAA=","sponsor_signature":"AAA=","sender_signature":"AAA="}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res models.ExecutionResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.Equal(t, "d1", res.Digest)
}

func TestRotateUnauthorized(t *testing.T) {
	h := NewAttestationHandler(nil, stubRegistry{rotateErr: relayerr.New(relayerr.CodeUnauthorized, "bad token")}, nil)
	pcr := strings.Repeat("ab", 48)
	body := `{"pcr0":"` + pcr + `","pcr1":"` + pcr + `","pcr2":"` + pcr + `","authorization":"eyJhbGciOiJFZERTQSJ9.eyJzdWIiOiJ4In0.c2ln"}`
	rec, env := serve(t, []xhttp.Handler{h}, http.MethodPost, "/api/attestation/rotate", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "UNAUTHORIZED", firstError(t, env)["code"])
}

func TestRotateShortPCRIsFieldError(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	full := bytes.Repeat([]byte{0xab}, 48)
	reg := attestation.NewRegistry(models.PCRs{PCR0: full, PCR1: full, PCR2: full},
		attestation.NewAuthorizer(pub, cache.NewMemoryCache()), nil)

	short := models.PCRs{PCR0: full, PCR1: full[:20], PCR2: full}
	tok, err := attestation.MintRotationToken(priv, "ops", short, 1, time.Minute)
	require.NoError(t, err)
	body := `{"pcr0":"` + hex.EncodeToString(full) + `","pcr1":"` + hex.EncodeToString(full[:20]) +
		`","pcr2":"` + hex.EncodeToString(full) + `","authorization":"` + tok + `"}`

	rec, env := serve(t, []xhttp.Handler{NewAttestationHandler(nil, reg, nil)}, http.MethodPost, "/api/attestation/rotate", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	e := firstError(t, env)
	require.Equal(t, "ERR_INVALID", e["code"])
	require.Equal(t, "pcr1", e["field"])
	require.Equal(t, uint64(1), reg.Current().Version)
}

func TestAttestationHistoryList(t *testing.T) {
	h := NewAttestationHandler(nil, stubRegistry{}, nil)
	rec, env := serve(t, []xhttp.Handler{h}, http.MethodGet, "/api/attestation/history?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Rows  []models.AttestationRecord `json:"rows"`
		Total int64                      `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Equal(t, int64(2), list.Total)
	require.Equal(t, uint64(4), list.Rows[0].Version)
}

func TestHealthReportsFailingDependency(t *testing.T) {
	h := NewHealthHandler(map[string]HealthCheck{
		"redis":   func(context.Context) error { return nil },
		"enclave": func(context.Context) error { return errors.New("connection refused") },
	})
	rec, env := serve(t, []xhttp.Handler{h}, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var out map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.Equal(t, "ok", out["redis"])
	require.Equal(t, "connection refused", out["enclave"])
}
