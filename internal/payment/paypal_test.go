package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakePayPal struct {
	*httptest.Server
	tokenHits   atomic.Int32
	orderHits   atomic.Int32
	captureHits atomic.Int32
	lastBody    atomic.Value
	lastReqID   atomic.Value
	orderStatus func(n int32) (int, string)
}

func newFakePayPal(t *testing.T) *fakePayPal {
	t.Helper()

	f := &fakePayPal{
		orderStatus: func(int32) (int, string) { return http.StatusOK, `{"id":"ORDER-1","status":"APPROVED"}` },
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenHits.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "id" || pass != "secret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid_client","error_description":"Client Authentication failed"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("POST /v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.lastBody.Store(body)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"ORDER-1","status":"CREATED"}`))
	})
	mux.HandleFunc("GET /v2/checkout/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		n := f.orderHits.Add(1)
		if r.PathValue("id") == "slow" {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		if r.PathValue("id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"name":"RESOURCE_NOT_FOUND","message":"The specified resource does not exist."}`))
			return
		}
		status, body := f.orderStatus(n)
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
	mux.HandleFunc("POST /v2/checkout/orders/{id}/capture", func(w http.ResponseWriter, r *http.Request) {
		f.captureHits.Add(1)
		f.lastReqID.Store(r.Header.Get("PayPal-Request-Id"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"` + r.PathValue("id") + `","status":"COMPLETED","purchase_units":[{"payments":{"captures":[{"id":"CAPTURE-9","status":"COMPLETED"}]}}]}`))
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakePayPal) client() *Client {
	return NewClient("id", "secret", WithBaseURL(f.URL), WithRetry(3, time.Millisecond))
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("", "")
	assert.Equal(t, liveBaseURL, c.baseURL)
	assert.Equal(t, "live", c.Environment())
	assert.False(t, c.IsConfigured())

	c = NewClient("id", "secret", WithEnvironment("sandbox"))
	assert.Equal(t, sandboxBaseURL, c.baseURL)
	assert.True(t, c.IsConfigured())

	c = NewClient("id", "secret", WithEnvironment("bogus"))
	assert.Equal(t, liveBaseURL, c.baseURL)
}

func TestCreateOrder(t *testing.T) {
	f := newFakePayPal(t)

	order, err := f.client().CreateOrder(context.Background(), "29.99", "USD")
	require.NoError(t, err)
	assert.Equal(t, "ORDER-1", order.ID)
	assert.Equal(t, StatusCreated, order.Status)

	body := f.lastBody.Load().(map[string]any)
	assert.Equal(t, "CAPTURE", body["intent"])
	units := body["purchase_units"].([]any)
	amount := units[0].(map[string]any)["amount"].(map[string]any)
	assert.Equal(t, "29.99", amount["value"])
	assert.Equal(t, "USD", amount["currency_code"])
}

func TestGetOrderStatus_RetriesServerErrors(t *testing.T) {
	f := newFakePayPal(t)
	f.orderStatus = func(n int32) (int, string) {
		if n < 3 {
			return http.StatusServiceUnavailable, `{"name":"SERVICE_UNAVAILABLE","message":"try later"}`
		}
		return http.StatusOK, `{"id":"ORDER-1","status":"COMPLETED"}`
	}

	status, err := f.client().GetOrderStatus(context.Background(), "ORDER-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)
	assert.EqualValues(t, 3, f.orderHits.Load())
}

func TestGetOrderStatus_GivesUpAfterAttempts(t *testing.T) {
	f := newFakePayPal(t)
	f.orderStatus = func(int32) (int, string) {
		return http.StatusInternalServerError, `{"name":"INTERNAL_SERVER_ERROR","message":"boom"}`
	}

	_, err := f.client().GetOrderStatus(context.Background(), "ORDER-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstream))
	assert.EqualValues(t, 3, f.orderHits.Load())
}

func TestGetOrderStatus_NotFoundIsNotRetried(t *testing.T) {
	f := newFakePayPal(t)

	_, err := f.client().GetOrderStatus(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrOrderNotFound))
	assert.EqualValues(t, 1, f.orderHits.Load())
}

func TestGetOrderStatus_Timeout(t *testing.T) {
	f := newFakePayPal(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.client().GetOrderStatus(ctx, "slow")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstreamTimeout), "got %v", err)
}

func TestCaptureOrder(t *testing.T) {
	f := newFakePayPal(t)

	id, err := f.client().CaptureOrder(context.Background(), "ORDER-1")
	require.NoError(t, err)
	assert.Equal(t, "CAPTURE-9", id)
	assert.EqualValues(t, 1, f.captureHits.Load())
	assert.NotEmpty(t, f.lastReqID.Load())
}

func TestNotConfigured(t *testing.T) {
	f := newFakePayPal(t)
	c := NewClient("", "", WithBaseURL(f.URL))

	_, err := c.CreateOrder(context.Background(), "1.00", "USD")
	assert.True(t, errors.Is(err, ErrNotConfigured))
	_, err = c.CaptureOrder(context.Background(), "ORDER-1")
	assert.True(t, errors.Is(err, ErrNotConfigured))
	assert.Zero(t, f.captureHits.Load())
}

func TestGetOrderStatus_RejectedCredentialsNotRetried(t *testing.T) {
	f := newFakePayPal(t)
	c := NewClient("id", "wrong", WithBaseURL(f.URL), WithRetry(3, time.Millisecond))

	_, err := c.GetOrderStatus(context.Background(), "ORDER-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstream))
	assert.False(t, errors.Is(err, ErrUpstreamTimeout))
	assert.EqualValues(t, 1, f.tokenHits.Load())
	assert.Zero(t, f.orderHits.Load())
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(errors.New("connection reset")))
	assert.True(t, isTransient(&statusError{code: http.StatusServiceUnavailable}))
	assert.True(t, isTransient(&statusError{code: http.StatusTooManyRequests}))
	assert.False(t, isTransient(&statusError{code: http.StatusBadRequest}))
	assert.False(t, isTransient(ErrOrderNotFound))
	assert.False(t, isTransient(&oauth2.RetrieveError{Response: &http.Response{StatusCode: http.StatusUnauthorized}}))
	assert.True(t, isTransient(&oauth2.RetrieveError{Response: &http.Response{StatusCode: http.StatusBadGateway}}))
}

func TestClassify(t *testing.T) {
	assert.True(t, errors.Is(classify(context.DeadlineExceeded), ErrUpstreamTimeout))
	assert.True(t, errors.Is(classify(errors.New("connection refused")), ErrUpstream))
	assert.True(t, errors.Is(classify(ErrOrderNotFound), ErrOrderNotFound))
	assert.True(t, errors.Is(classify(&statusError{code: 500}), ErrUpstream))
}
