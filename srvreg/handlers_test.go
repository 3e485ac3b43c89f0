package srvreg

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/SatoshiNakamoto1024/city-chain-project-4/config"
	"github.com/SatoshiNakamoto1024/city-chain-project-4/consensus"
	"github.com/SatoshiNakamoto1024/city-chain-project-4/geo"
	"github.com/SatoshiNakamoto1024/city-chain-project-4/ledger"
	"github.com/SatoshiNakamoto1024/city-chain-project-4/repository"
)

func newTestRegistry(t *testing.T, rateLimit int) *ServiceRegistry {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	doc := map[string]config.Continent{
		"Asia": {
			FlaskPort: port,
			Cities:    []config.City{{Name: "Tokyo", CityPort: port}},
		},
		"Europe": {
			FlaskPort: port,
			Cities:    []config.City{{Name: "London", CityPort: port}},
		},
		"Default": {
			FlaskPort: port,
			Cities:    []config.City{{Name: "Fallback", CityPort: port}},
		},
	}
	directory, err := geo.NewDirectory(doc, u.Hostname())
	require.NoError(t, err)

	router := repository.NewShardRouter(nil)
	for _, instance := range []string{repository.InstanceSend, repository.InstanceSendPending} {
		db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), instance+".db")), &gorm.Config{Logger: logger.Discard})
		require.NoError(t, err)
		require.NoError(t, router.RegisterShard(instance, repository.DefaultKey, db))
	}
	archive, err := repository.OpenInMemoryArchive()
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })
	router.RegisterArchive(repository.DefaultKey, archive)

	gate := consensus.NewGate(consensus.NewRoundRobinElection(), nil)
	core := ledger.New(
		directory, gate, router,
		ledger.NewChainForwarder(2*time.Second, nil),
		ledger.NewRateLimiter(rateLimit, time.Minute),
		nil, ledger.Options{},
	)

	registry := NewServiceRegistry(core, directory, nil)
	registry.RegisterDefaultServices()
	return registry
}

func post(path, body string) *Request {
	req := &Request{
		Method:    http.MethodPost,
		Path:      path,
		Body:      body,
		Timestamp: time.Now(),
	}
	req.GenerateRequestID()
	return req
}

func get(path string, query url.Values) *Request {
	return &Request{
		Method:    http.MethodGet,
		Path:      path,
		Query:     query,
		Timestamp: time.Now(),
	}
}

const createBody = `{
	"sender": "alice",
	"receiver": "bob",
	"amount": 50,
	"sender_municipality": "Asia-Tokyo",
	"receiver_municipality": "Europe-London"
}`

func TestRouteNotFound(t *testing.T) {
	registry := newTestRegistry(t, 100)

	resp, err := post("/no_such_route", "{}").GenerateResponse(registry)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMatchPath(t *testing.T) {
	require.True(t, matchPath("/transaction/:id", "/transaction/123"))
	require.True(t, matchPath("/a/:x/b/:y", "/a/1/b/2"))
	require.False(t, matchPath("/transaction/:id", "/transaction/123/extra"))
	require.False(t, matchPath("/transaction/:id", "/other/123"))
}

func TestParseAmount(t *testing.T) {
	v, err := parseAmount(float64(50))
	require.NoError(t, err)
	require.Equal(t, 50.0, *v)

	v, err = parseAmount("12.5")
	require.NoError(t, err)
	require.Equal(t, 12.5, *v)

	v, err = parseAmount(nil)
	require.NoError(t, err)
	require.Nil(t, v)

	_, err = parseAmount("fifty")
	require.Error(t, err)
	_, err = parseAmount(true)
	require.Error(t, err)
}

func TestCreateTransactionEndpoint(t *testing.T) {
	registry := newTestRegistry(t, 100)

	resp, err := post("/create_transaction", createBody).GenerateResponse(registry)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Message     string `json:"message"`
		Transaction struct {
			TransactionID string `json:"transaction_id"`
			Status        string `json:"status"`
		} `json:"transaction"`
	}
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &payload))
	require.NotEmpty(t, payload.Transaction.TransactionID)
	require.Equal(t, "send_pending", payload.Transaction.Status)
}

func TestCreateTransactionBadBody(t *testing.T) {
	registry := newTestRegistry(t, 100)

	resp, err := post("/create_transaction", "{not json").GenerateResponse(registry)
	require.Error(t, err)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestCreateTransactionMissingField(t *testing.T) {
	registry := newTestRegistry(t, 100)

	resp, err := post("/create_transaction", `{"receiver":"bob","amount":1}`).GenerateResponse(registry)
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateTransactionStringAmount(t *testing.T) {
	registry := newTestRegistry(t, 100)

	body := `{"sender":"alice","receiver":"bob","amount":"75","sender_municipality":"Asia-Tokyo","receiver_municipality":"Europe-London"}`
	resp, err := post("/create_transaction", body).GenerateResponse(registry)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateTransactionRateLimited(t *testing.T) {
	registry := newTestRegistry(t, 1)

	resp, err := post("/create_transaction", createBody).GenerateResponse(registry)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = post("/create_transaction", createBody).GenerateResponse(registry)
	require.Error(t, err)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestSendRequiresSigningMaterial(t *testing.T) {
	registry := newTestRegistry(t, 100)

	resp, err := post("/send", createBody).GenerateResponse(registry)
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendEndpoint(t *testing.T) {
	registry := newTestRegistry(t, 100)

	body := `{"sender":"alice","receiver":"bob","amount":50,"sender_municipality":"Asia-Tokyo","receiver_municipality":"Europe-London","private_key":"k","seed_phrase":"alice-seed"}`
	resp, err := post("/send", body).GenerateResponse(registry)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUpdateStatusValidation(t *testing.T) {
	registry := newTestRegistry(t, 100)

	resp, err := post("/update_status", `{"transaction_id":"tx-1"}`).GenerateResponse(registry)
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := `{"transaction_id":"ghost","new_status":"receive","sender_municipal_id":"Asia-Tokyo"}`
	resp, err = post("/update_status", body).GenerateResponse(registry)
	require.Error(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLifecycleThroughEndpoints(t *testing.T) {
	registry := newTestRegistry(t, 100)

	resp, err := post("/create_transaction", createBody).GenerateResponse(registry)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var created struct {
		Transaction struct {
			TransactionID string `json:"transaction_id"`
		} `json:"transaction"`
	}
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &created))
	txID := created.Transaction.TransactionID

	query := url.Values{"receiver": {"bob"}, "receiver_municipality": {"Europe-London"}}
	resp, err = get("/pending_transactions", query).GenerateResponse(registry)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pending struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &pending))
	require.Equal(t, 1, pending.Count)

	claim := `{"transaction_id":"` + txID + `","receiver":"bob","receiver_municipality":"Europe-London"}`
	resp, err = post("/receive_transaction", claim).GenerateResponse(registry)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	confirm := `{"transaction_id":"` + txID + `","receiver_municipality":"Europe-London"}`
	resp, err = post("/confirm_transaction", confirm).GenerateResponse(registry)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A second confirm finds the transaction migrated away.
	resp, err = post("/confirm_transaction", confirm).GenerateResponse(registry)
	require.Error(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRejectEndpointConflictOnTerminal(t *testing.T) {
	registry := newTestRegistry(t, 100)

	resp, err := post("/create_transaction", createBody).GenerateResponse(registry)
	require.NoError(t, err)
	var created struct {
		Transaction struct {
			TransactionID string `json:"transaction_id"`
		} `json:"transaction"`
	}
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &created))

	reject := `{"transaction_id":"` + created.Transaction.TransactionID + `","municipality":"Asia-Tokyo","reason":"fraud"}`
	resp, err = post("/reject_transaction", reject).GenerateResponse(registry)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = post("/reject_transaction", reject).GenerateResponse(registry)
	require.Error(t, err)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestMunicipalitiesEndpoint(t *testing.T) {
	registry := newTestRegistry(t, 100)

	resp, err := get("/municipalities", nil).GenerateResponse(registry)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Municipalities []geo.Municipality `json:"municipalities"`
	}
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &payload))
	require.Len(t, payload.Municipalities, 3)
}

func TestStatusForCode(t *testing.T) {
	cases := map[string]int{
		repository.CodeValidation:            http.StatusBadRequest,
		repository.CodeRateLimited:           http.StatusTooManyRequests,
		repository.CodeEntityNotFound:        http.StatusNotFound,
		repository.CodeInvalidState:          http.StatusConflict,
		repository.CodeDownstreamUnavailable: http.StatusBadGateway,
		repository.CodeEmptyCandidateSet:     http.StatusInternalServerError,
		repository.CodeApprovalFailed:        http.StatusInternalServerError,
		repository.CodeShardNotFound:         http.StatusInternalServerError,
		repository.CodeMigration:             http.StatusInternalServerError,
		repository.CodeDatabase:              http.StatusInternalServerError,
		repository.PgErrForeignKeyViolation:  http.StatusBadRequest,
		repository.PgErrUniqueViolation:      http.StatusConflict,
	}
	for code, want := range cases {
		require.Equal(t, want, statusForCode(code), code)
	}
}
