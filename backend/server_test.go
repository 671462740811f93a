package backend

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(nil, bcrypt.MinCost)
	require.NoError(t, s.AddUser("attendant@example.com", "secret"))
	ts := httptest.NewServer(s.Router("/bykerack"))
	t.Cleanup(ts.Close)
	return s, ts
}

func post(t *testing.T, url, token string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func login(t *testing.T, base string) string {
	t.Helper()
	resp := post(t, base+"/bykerack/auth", "", authRequest{Email: "attendant@example.com", Password: "secret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out authResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func TestServer_Auth(t *testing.T) {
	_, ts := newTestServer(t)
	tests := []struct {
		name   string
		body   any
		status int
	}{
		{name: "valid", body: authRequest{Email: "attendant@example.com", Password: "secret"}, status: http.StatusOK},
		{name: "email is case insensitive", body: authRequest{Email: "Attendant@Example.com", Password: "secret"}, status: http.StatusOK},
		{name: "wrong password", body: authRequest{Email: "attendant@example.com", Password: "nope"}, status: http.StatusUnauthorized},
		{name: "unknown user", body: authRequest{Email: "x@example.com", Password: "secret"}, status: http.StatusUnauthorized},
		{name: "malformed", body: "not an object", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, ts.URL+"/bykerack/auth", "", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestServer_Vacancy(t *testing.T) {
	s, ts := newTestServer(t)
	token := login(t, ts.URL)
	url := ts.URL + "/bykerack/vacancy"

	tests := []struct {
		name   string
		token  string
		body   any
		status int
		want   vacancyResponse
	}{
		{name: "no token", body: vacancyRequest{BikeRackID: 1, UserDocument: "U1", EmployeeDocument: "E"}, status: http.StatusUnauthorized},
		{name: "unknown token", token: "bogus", body: vacancyRequest{BikeRackID: 1, UserDocument: "U1", EmployeeDocument: "E"}, status: http.StatusUnauthorized},
		{name: "missing document", token: token, body: vacancyRequest{BikeRackID: 1, EmployeeDocument: "E"}, status: http.StatusBadRequest},
		{name: "missing rack", token: token, body: vacancyRequest{UserDocument: "U1", EmployeeDocument: "E"}, status: http.StatusBadRequest},
		{name: "park", token: token, body: vacancyRequest{BikeRackID: 1, UserDocument: "U1", EmployeeDocument: "E"}, status: http.StatusOK, want: vacancyResponse{Message: MessageParked}},
		{name: "retrieve", token: token, body: vacancyRequest{BikeRackID: 1, UserDocument: "U1", EmployeeDocument: "E"}, status: http.StatusOK, want: vacancyResponse{Message: MessageRetrieved, IsRetrieval: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, url, tt.token, tt.body)
			require.Equal(t, tt.status, resp.StatusCode)
			if tt.status != http.StatusOK {
				return
			}
			var got vacancyResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, 0, s.Store().Occupancy(1))
}

func TestServer_RackOccupancy(t *testing.T) {
	s, ts := newTestServer(t)
	token := login(t, ts.URL)
	s.Store().Park(4, "U1", "E")

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/bykerack/racks/4", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, map[string]int{"bikeRackId": 4, "occupancy": 1}, got)
}
