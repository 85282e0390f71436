package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odla-network/settlement"
)

func TestNewOperatorClientRequiresURL(t *testing.T) {
	if _, err := NewOperatorClient(nil); !errors.Is(err, settlement.ErrMissingField) {
		t.Errorf("Expected missing field error, got %v", err)
	}
	if _, err := NewOperatorClient(&OperatorConfig{}); !errors.Is(err, settlement.ErrMissingField) {
		t.Errorf("Expected missing field error, got %v", err)
	}
}

func TestOperatorClientJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/jobs/job-1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"job_id": "job-1",
				"status": "completed",
				"model": "llama2:latest",
				"payment": {"amount_ccd": 0.0123, "recipient_address": "addr", "recipient_node": "node-7"}
			}`))
		case "/jobs/job-2":
			_, _ = w.Write([]byte(`{"job_id": "job-2", "status": "running", "payment": null}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail": "Job not found"}`))
		}
	}))
	defer server.Close()

	client, err := NewOperatorClient(&OperatorConfig{URL: server.URL})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	job, err := client.Job(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if job.Payment == nil {
		t.Fatal("Expected payment info")
	}
	if !job.Payment.AmountCCD.Equal(decimal.RequireFromString("0.0123")) {
		t.Errorf("Expected amount 0.0123, got %s", job.Payment.AmountCCD)
	}
	if job.Payment.RecipientAddress != "addr" || job.Payment.RecipientNode != "node-7" {
		t.Errorf("Unexpected payment %+v", job.Payment)
	}

	job, err = client.Job(context.Background(), "job-2")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if job.Payment != nil {
		t.Errorf("Expected no payment for running job, got %+v", job.Payment)
	}

	_, err = client.Job(context.Background(), "missing")
	if !errors.Is(err, settlement.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}

	_, err = client.Job(context.Background(), "")
	if !errors.Is(err, settlement.ErrMissingField) {
		t.Errorf("Expected missing field, got %v", err)
	}
}

func TestOperatorClientConfirmPayment(t *testing.T) {
	received := make(chan map[string]interface{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payment-confirmed" || r.Method != http.MethodPost {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		received <- body
		_, _ = w.Write([]byte(`{"status": "ok"}`))
	}))
	defer server.Close()

	client, err := NewOperatorClient(&OperatorConfig{URL: server.URL})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	err = client.ConfirmPayment(context.Background(), PaymentConfirmation{
		JobID:           "job-1",
		TransactionHash: "abc",
		Amount:          decimal.RequireFromString("1.5"),
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	body := <-received
	if body["job_id"] != "job-1" || body["transaction_hash"] != "abc" {
		t.Errorf("Unexpected body %v", body)
	}
	// the operator expects a number, not a string
	if body["amount"] != 1.5 {
		t.Errorf("Expected numeric amount 1.5, got %#v", body["amount"])
	}
}

func TestOperatorNotifyHook(t *testing.T) {
	calls := make(chan string, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body PaymentConfirmation
		_ = json.NewDecoder(r.Body).Decode(&body)
		calls <- body.JobID
		if body.JobID == "bad" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewOperatorClient(&OperatorConfig{URL: server.URL})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	hook := client.NotifyHook(nil)

	result := func(memo string) settlement.SettleResultContext {
		return settlement.SettleResultContext{
			SettleContext: settlement.SettleContext{Ctx: context.Background(), Timestamp: time.Now()},
			Receipt: settlement.Receipt{
				Record: settlement.TransactionRecord{Hash: "abc", Memo: memo},
				Amount: decimal.RequireFromString("2"),
			},
		}
	}

	if err := hook(result("")); err != nil {
		t.Errorf("Expected payments without memo to be skipped, got %v", err)
	}
	if err := hook(result("job-9")); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if got := <-calls; got != "job-9" {
		t.Errorf("Expected job-9 confirmed, got %s", got)
	}
	if err := hook(result("bad")); !errors.Is(err, settlement.ErrNotFound) {
		t.Errorf("Expected not found from operator, got %v", err)
	}
}
