package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashbridge/fusion-resolver/internal/order"
	"github.com/hashbridge/fusion-resolver/internal/storage"
	"github.com/hashbridge/fusion-resolver/internal/timelock"
)

const (
	testOrderHash = "0x1111111111111111111111111111111111111111111111111111111111111111"
	testHashLock  = "0x2222222222222222222222222222222222222222222222222222222222222222"
)

func newTestServer(t *testing.T) (*Server, *storage.Store) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(store, log), store
}

func createBody() string {
	return `{
	  "orderHash": "` + testOrderHash + `",
	  "hashLock": "` + testHashLock + `",
	  "maker": "0x0000000000000000000000000000000000000001",
	  "taker": "0x0000000000000000000000000000000000000002",
	  "safetyDeposit": "10000",
	  "source": {"chainId": "11155111", "token": "0xA", "amount": "1000000", "decimals": 6},
	  "dest": {"chainId": "43113", "token": "0xB", "amount": "990000", "decimals": 6}
	}`
}

func do(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndGetOrder(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	rec := do(t, handler, http.MethodPost, "/orders", createBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", rec.Code, rec.Body)
	}

	rec = do(t, handler, http.MethodGet, "/orders/"+testOrderHash, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != string(order.StatusPending) {
		t.Fatalf("order status = %v", resp["status"])
	}

	// Duplicate registration conflicts.
	rec = do(t, handler, http.MethodPost, "/orders", createBody())
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d", rec.Code)
	}
}

func TestCreateOrderRejectsBadBody(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	for _, body := range []string{"not json", `{"orderHash": ""}`} {
		rec := do(t, handler, http.MethodPost, "/orders", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d for body %q", rec.Code, body)
		}
	}
}

func TestGetOrderNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv.Handler(), http.MethodGet, "/orders/0xmissing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestShareSecretLifecycle(t *testing.T) {
	srv, store := newTestServer(t)
	handler := srv.Handler()
	ctx := context.Background()

	rec := do(t, handler, http.MethodPost, "/orders", createBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d", rec.Code)
	}

	path := "/relayer/share-secret/" + testOrderHash

	// Unknown order.
	rec = do(t, handler, http.MethodPut, "/relayer/share-secret/0xmissing", `{"secret":"0xs"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown order: %d", rec.Code)
	}

	// Missing secret.
	rec = do(t, handler, http.MethodPut, path, `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing secret: %d", rec.Code)
	}

	// Order not yet awaiting a secret.
	rec = do(t, handler, http.MethodPut, path, `{"secret":"0xs"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("premature secret: %d", rec.Code)
	}

	// Drive the order to DEST_ESCROW_CREATED.
	tl := timelock.Timelocks{}.SetDeployedAt(1_700_000_000).Put(timelock.SrcCancellation, 3600)
	src := order.SrcEscrowCreated{
		EventMeta: order.EventMeta{ChainID: "11155111", TxHash: "0xaaa", Timestamp: 1_700_000_000},
		OrderHash: testOrderHash, Hashlock: testHashLock,
		Timelocks: tl, Escrow: "0xe5",
	}
	if applied, err := store.ApplySrcEscrowCreated(ctx, src); err != nil || !applied {
		t.Fatalf("src event: applied=%v err=%v", applied, err)
	}
	if applied, err := store.MarkDstEscrowRequested(ctx, testOrderHash); err != nil || !applied {
		t.Fatalf("mark requested: applied=%v err=%v", applied, err)
	}
	dst := order.DstEscrowCreated{
		EventMeta: order.EventMeta{ChainID: "43113", TxHash: "0xbbb", Timestamp: 1_700_000_100},
		OrderHash: testOrderHash, Escrow: "0xe6", Hashlock: testHashLock,
	}
	if applied, err := store.ApplyDstEscrowCreated(ctx, dst); err != nil || !applied {
		t.Fatalf("dst event: applied=%v err=%v", applied, err)
	}

	rec = do(t, handler, http.MethodPut, path, `{"secret":"0x5ec2e7"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("share secret: %d body=%s", rec.Code, rec.Body)
	}

	got, err := store.GetOrderByHash(ctx, testOrderHash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != order.StatusSecretShared || got.Secret != "0x5ec2e7" {
		t.Fatalf("order after share: %+v", got)
	}
}
