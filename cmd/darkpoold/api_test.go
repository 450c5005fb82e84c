package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/0x5487/darkpool"
	"github.com/0x5487/darkpool/mpc"
	"github.com/0x5487/darkpool/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"
)

type apiFixture struct {
	node *node
	srv  *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Home = t.TempDir()
	cfg.Balances = map[string]uint64{"buyer": 1_000_000}
	require.NoError(t, generateKeys(filepath.Join(cfg.Home, "keys")))

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	n, err := newNode(cfg, dbm.NewMemDB(), logger, darkpool.NopMetrics())
	require.NoError(t, err)
	require.NoError(t, n.start(context.Background()))

	f := &apiFixture{node: n, srv: httptest.NewServer(newAPI(n.pool, n.view))}
	t.Cleanup(func() {
		f.srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, n.stop(ctx))
	})
	return f
}

// command posts a command envelope and decodes the response into out when out is not nil.
func (f *apiFixture) command(t *testing.T, typ protocol.CommandType, payload, out any) int {
	t.Helper()

	bz, err := json.Marshal(payload)
	require.NoError(t, err)
	envelope, err := json.Marshal(&protocol.Command{Version: 1, Type: typ, Payload: bz})
	require.NoError(t, err)

	resp, err := http.Post(f.srv.URL+"/v1/commands", "application/json", bytes.NewReader(envelope))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *apiFixture) get(t *testing.T, path string, out any) int {
	t.Helper()

	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *apiFixture) submit(t *testing.T, owner string, o mpc.Order) *darkpool.Order {
	t.Helper()

	trader, err := mpc.GenerateKeyPair(rand.Reader)
	require.NoError(t, err)
	nonce, err := mpc.NewNonce(rand.Reader)
	require.NoError(t, err)
	sealed, err := mpc.SealOrder(trader, f.node.cluster.PublicKey(), nonce, o)
	require.NoError(t, err)
	data, err := sealed.MarshalBinary()
	require.NoError(t, err)

	side := protocol.SideSell
	if o.IsBuy {
		side = protocol.SideBuy
	}
	var order darkpool.Order
	status := f.command(t, protocol.CmdSubmitOrder, protocol.SubmitOrderCommand{
		Owner:         owner,
		EncryptedData: data,
		Side:          side,
	}, &order)
	require.Equal(t, http.StatusOK, status)
	return &order
}

func TestAPIMatchAndSettle(t *testing.T) {
	f := newAPIFixture(t)

	buy := f.submit(t, "buyer", mpc.Order{Price: 100, Quantity: 50, IsBuy: true})
	sell := f.submit(t, "seller", mpc.Order{Price: 98, Quantity: 30})
	assert.Equal(t, protocol.OrderStatusSubmitted, buy.Status)

	var req darkpool.MatchingRequest
	status := f.command(t, protocol.CmdRequestMatching, protocol.RequestMatchingCommand{
		Authority:  DefaultConfig().Pool.Authority,
		BuyOrders:  []string{buy.ID},
		SellOrders: []string{sell.ID},
	}, &req)
	require.Equal(t, http.StatusOK, status)

	require.Eventually(t, func() bool {
		var stored darkpool.MatchingRequest
		return f.get(t, "/v1/requests/"+req.ID, &stored) == http.StatusOK &&
			stored.Status == protocol.MatchingStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	execID := darkpool.TradeExecutionID(req.ID)
	var exec darkpool.TradeExecution
	require.Equal(t, http.StatusOK, f.get(t, "/v1/executions/"+execID, &exec))
	assert.Equal(t, protocol.ExecutionStatusMatched, exec.Status)

	var settlement darkpool.Settlement
	status = f.command(t, protocol.CmdSettleTrade, protocol.SettleTradeCommand{ExecutionID: execID, FillAmount: 1000}, &settlement)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, uint64(997), settlement.TransferAmount)
	assert.Equal(t, uint64(3), settlement.FeeAmount)
	assert.Equal(t, uint64(997), f.node.bank.Balance("seller"))

	// the event view catches up through the async publish log
	require.Eventually(t, func() bool {
		return f.node.view.Fees() == 3
	}, 2*time.Second, 10*time.Millisecond)

	var stats statsResponse
	require.Equal(t, http.StatusOK, f.get(t, "/v1/stats", &stats))
	assert.Equal(t, uint64(1000), stats.Ledger.TotalVolume)
	assert.Equal(t, uint64(1000), stats.Events.TotalVolume)
	assert.Equal(t, uint64(3), stats.Fees)
	// initialize has no event: submit x2, requested, completed, settled
	assert.Equal(t, uint64(5), stats.SeqID)
}

func TestAPIErrors(t *testing.T) {
	f := newAPIFixture(t)
	order := f.submit(t, "alice", mpc.Order{Price: 100, Quantity: 5, IsBuy: true})

	t.Run("MalformedEnvelope", func(t *testing.T) {
		resp, err := http.Post(f.srv.URL+"/v1/commands", "application/json", strings.NewReader("{"))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("UnknownCommand", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, f.command(t, protocol.CmdUnknown, struct{}{}, nil))
	})

	t.Run("NotOwner", func(t *testing.T) {
		status := f.command(t, protocol.CmdCancelOrder, protocol.CancelOrderCommand{OrderID: order.ID, Owner: "mallory"}, nil)
		assert.Equal(t, http.StatusForbidden, status)
	})

	t.Run("NotFound", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/orders/missing", nil))
	})

	t.Run("AlreadyInitialized", func(t *testing.T) {
		status := f.command(t, protocol.CmdInitialize, protocol.InitializeCommand{Authority: "other"}, nil)
		assert.Equal(t, http.StatusConflict, status)
	})

	t.Run("WrongMethod", func(t *testing.T) {
		assert.Equal(t, http.StatusMethodNotAllowed, f.get(t, "/v1/commands", nil))
	})
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{darkpool.ErrEmptyOrderData, http.StatusBadRequest},
		{darkpool.ErrUnauthorized, http.StatusForbidden},
		{darkpool.ErrUnknownCorrelator, http.StatusNotFound},
		{darkpool.ErrCannotCancelOrder, http.StatusConflict},
		{darkpool.ErrComputeUnavailable, http.StatusServiceUnavailable},
		{darkpool.ErrShutdown, http.StatusServiceUnavailable},
		{darkpool.ErrAbortedComputation, http.StatusUnprocessableEntity},
		{darkpool.ErrTimeout, http.StatusGatewayTimeout},
		{darkpool.ErrInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCode(tt.err), tt.err.Error())
	}
}
