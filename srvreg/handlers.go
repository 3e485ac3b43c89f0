package srvreg

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/SatoshiNakamoto1024/city-chain-project-4/ledger"
	"github.com/SatoshiNakamoto1024/city-chain-project-4/repository"
)

var defaultHeaders = map[string]string{"Content-Type": "application/json"}

// statusForCode maps repository error codes to HTTP status codes.
func statusForCode(code string) int {
	switch code {
	case repository.CodeValidation:
		return http.StatusBadRequest
	case repository.CodeRateLimited:
		return http.StatusTooManyRequests
	case repository.CodeEntityNotFound:
		return http.StatusNotFound
	case repository.CodeInvalidState:
		return http.StatusConflict
	case repository.CodeDownstreamUnavailable:
		return http.StatusBadGateway
	case repository.PgErrForeignKeyViolation:
		return http.StatusBadRequest
	case repository.PgErrUniqueViolation:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorResponse(rerr *repository.Error) (*Response, error) {
	body := fmt.Sprintf(`{"error":%q,"code":%q}`, rerr.Message, rerr.Code)
	return &Response{
		StatusCode: statusForCode(rerr.Code),
		Headers:    defaultHeaders,
		Body:       body,
		Error:      rerr.Message,
	}, fmt.Errorf("%s: %s", rerr.Code, rerr.Message)
}

func jsonResponse(statusCode int, payload interface{}) (*Response, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return &Response{
			StatusCode: http.StatusInternalServerError,
			Headers:    defaultHeaders,
			Body:       `{"error":"Failed to encode response"}`,
		}, err
	}
	return &Response{
		StatusCode: statusCode,
		Headers:    defaultHeaders,
		Body:       string(bodyBytes),
	}, nil
}

func badBody(sr *ServiceRegistry, err error) (*Response, error) {
	sr.logger.Info("Failed to parse body", "error", err.Error())
	return &Response{
		StatusCode: http.StatusUnprocessableEntity,
		Headers:    defaultHeaders,
		Body:       fmt.Sprintf(`{"error":"Invalid body format: %s"}`, err.Error()),
	}, fmt.Errorf("invalid body format")
}

// parseAmount coerces an amount field that may arrive as a JSON number or a
// numeric string. nil means the field was absent.
func parseAmount(raw interface{}) (*float64, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case float64:
		return &v, nil
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("amount %q is not a number", v)
		}
		return &parsed, nil
	default:
		return nil, fmt.Errorf("amount has unsupported type %T", raw)
	}
}

type createTransactionBody struct {
	Sender               string      `json:"sender"`
	Receiver             string      `json:"receiver"`
	Amount               interface{} `json:"amount"`
	SenderMunicipality   string      `json:"sender_municipality"`
	ReceiverMunicipality string      `json:"receiver_municipality"`
	VerifiableCredential string      `json:"verifiable_credential"`
	Details              string      `json:"details"`
	Latitude             float64     `json:"latitude"`
	Longitude            float64     `json:"longitude"`
	PrivateKey           string      `json:"private_key"`
	SeedPhrase           string      `json:"seed_phrase"`
}

func (b *createTransactionBody) toCreateRequest() (*ledger.CreateRequest, error) {
	amount, err := parseAmount(b.Amount)
	if err != nil {
		return nil, err
	}
	return &ledger.CreateRequest{
		Sender:               b.Sender,
		Receiver:             b.Receiver,
		Amount:               amount,
		SenderMunicipality:   b.SenderMunicipality,
		ReceiverMunicipality: b.ReceiverMunicipality,
		VerifiableCredential: b.VerifiableCredential,
		Details:              b.Details,
		Latitude:             b.Latitude,
		Longitude:            b.Longitude,
		PrivateKey:           b.PrivateKey,
		SeedPhrase:           b.SeedPhrase,
	}, nil
}

// CreateTransactionHandler admits a transaction without caller-side signing.
func (sr *ServiceRegistry) CreateTransactionHandler(req *Request) (*Response, error) {
	var body createTransactionBody
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return badBody(sr, err)
	}
	createReq, err := body.toCreateRequest()
	if err != nil {
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body:       fmt.Sprintf(`{"error":%q}`, err.Error()),
		}, err
	}

	tx, rerr := sr.ledger.CreateTransaction(context.Background(), createReq)
	if rerr != nil {
		return errorResponse(rerr)
	}
	return jsonResponse(http.StatusOK, map[string]interface{}{
		"message":     "Transaction created",
		"transaction": tx,
	})
}

// SendTransactionHandler admits a signed transaction; private_key and
// seed_phrase are required on this path.
func (sr *ServiceRegistry) SendTransactionHandler(req *Request) (*Response, error) {
	var body createTransactionBody
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return badBody(sr, err)
	}
	if body.PrivateKey == "" || body.SeedPhrase == "" {
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body:       `{"error":"private_key and seed_phrase are required"}`,
		}, fmt.Errorf("missing signing material")
	}
	createReq, err := body.toCreateRequest()
	if err != nil {
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body:       fmt.Sprintf(`{"error":%q}`, err.Error()),
		}, err
	}

	tx, rerr := sr.ledger.SendTransaction(context.Background(), createReq)
	if rerr != nil {
		return errorResponse(rerr)
	}
	return jsonResponse(http.StatusOK, map[string]interface{}{
		"message":     "Transaction sent",
		"transaction": tx,
	})
}

type updateStatusBody struct {
	TransactionID     string `json:"transaction_id"`
	NewStatus         string `json:"new_status"`
	SenderMunicipalID string `json:"sender_municipal_id"`
}

// UpdateStatusHandler applies a requested status transition.
func (sr *ServiceRegistry) UpdateStatusHandler(req *Request) (*Response, error) {
	var body updateStatusBody
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return badBody(sr, err)
	}
	if body.TransactionID == "" || body.NewStatus == "" || body.SenderMunicipalID == "" {
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body:       `{"error":"transaction_id, new_status and sender_municipal_id are required"}`,
		}, fmt.Errorf("missing required fields")
	}

	tx, rerr := sr.ledger.UpdateStatus(context.Background(), body.TransactionID, body.NewStatus, body.SenderMunicipalID)
	if rerr != nil {
		return errorResponse(rerr)
	}
	return jsonResponse(http.StatusOK, map[string]interface{}{
		"message":     "Status updated",
		"transaction": tx,
	})
}

type claimTransactionBody struct {
	TransactionID        string `json:"transaction_id"`
	Receiver             string `json:"receiver"`
	ReceiverMunicipality string `json:"receiver_municipality"`
}

// ClaimTransactionHandler lets a receiver claim a pending transaction.
func (sr *ServiceRegistry) ClaimTransactionHandler(req *Request) (*Response, error) {
	var body claimTransactionBody
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return badBody(sr, err)
	}

	tx, rerr := sr.ledger.ClaimTransaction(context.Background(), body.TransactionID, body.Receiver, body.ReceiverMunicipality)
	if rerr != nil {
		return errorResponse(rerr)
	}
	return jsonResponse(http.StatusOK, map[string]interface{}{
		"message":     "Transaction claimed",
		"transaction": tx,
	})
}

type confirmTransactionBody struct {
	TransactionID        string `json:"transaction_id"`
	ReceiverMunicipality string `json:"receiver_municipality"`
}

// ConfirmTransactionHandler pushes a claimed transaction to the continental
// tier and finalizes it.
func (sr *ServiceRegistry) ConfirmTransactionHandler(req *Request) (*Response, error) {
	var body confirmTransactionBody
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return badBody(sr, err)
	}

	tx, rerr := sr.ledger.ConfirmTransaction(context.Background(), body.TransactionID, body.ReceiverMunicipality)
	if rerr != nil {
		return errorResponse(rerr)
	}
	return jsonResponse(http.StatusOK, map[string]interface{}{
		"message":     "Transaction confirmed",
		"transaction": tx,
	})
}

type completeTransactionBody struct {
	TransactionID string `json:"transaction_id"`
	Municipality  string `json:"municipality"`
}

// CompleteTransactionHandler finalizes a claimed transaction without a
// downstream call.
func (sr *ServiceRegistry) CompleteTransactionHandler(req *Request) (*Response, error) {
	var body completeTransactionBody
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return badBody(sr, err)
	}

	tx, rerr := sr.ledger.CompleteTransaction(context.Background(), body.TransactionID, body.Municipality)
	if rerr != nil {
		return errorResponse(rerr)
	}
	return jsonResponse(http.StatusOK, map[string]interface{}{
		"message":     "Transaction completed",
		"transaction": tx,
	})
}

type rejectTransactionBody struct {
	TransactionID string `json:"transaction_id"`
	Municipality  string `json:"municipality"`
	Reason        string `json:"reason"`
}

// RejectTransactionHandler moves a non-terminal transaction to rejected.
func (sr *ServiceRegistry) RejectTransactionHandler(req *Request) (*Response, error) {
	var body rejectTransactionBody
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return badBody(sr, err)
	}

	tx, rerr := sr.ledger.RejectTransaction(context.Background(), body.TransactionID, body.Municipality, body.Reason)
	if rerr != nil {
		return errorResponse(rerr)
	}
	return jsonResponse(http.StatusOK, map[string]interface{}{
		"message":     "Transaction rejected",
		"transaction": tx,
	})
}

// PendingTransactionsHandler lists send_pending transactions for a receiver.
func (sr *ServiceRegistry) PendingTransactionsHandler(req *Request) (*Response, error) {
	receiver := req.Query.Get("receiver")
	municipality := req.Query.Get("receiver_municipality")

	txs, rerr := sr.ledger.PendingTransactions(receiver, municipality)
	if rerr != nil {
		return errorResponse(rerr)
	}
	return jsonResponse(http.StatusOK, map[string]interface{}{
		"count":        len(txs),
		"transactions": txs,
	})
}

// MunicipalitiesHandler lists every known municipality.
func (sr *ServiceRegistry) MunicipalitiesHandler(req *Request) (*Response, error) {
	return jsonResponse(http.StatusOK, map[string]interface{}{
		"municipalities": sr.directory.Municipalities(),
	})
}
