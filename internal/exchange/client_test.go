package exchange

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digitbot-go/internal/signal"
)

func TestEndpointAddsAppID(t *testing.T) {
	assert.Equal(t, "wss://ws.derivws.com/websockets/v3?app_id=1089", Endpoint("", ""))
	assert.Equal(t, "wss://example.test/ws?app_id=42", Endpoint("wss://example.test/ws?app_id=42", "1089"))
}

func TestClassifyMapsBrokerCodes(t *testing.T) {
	cases := []struct {
		code     string
		fallback error
		want     error
	}{
		{"InvalidToken", ErrData, ErrAuth},
		{"RateLimit", ErrTrade, ErrRateLimit},
		{"InvalidSymbol", ErrData, ErrData},
		{"MarketIsClosed", ErrTrade, ErrTrade},
		{"ContractBuyValidationError", ErrTrade, ErrTrade},
	}
	for _, tc := range cases {
		err := classify(&APIError{Code: tc.code, Message: "x"}, tc.fallback)
		assert.ErrorIs(t, err, tc.want, tc.code)
	}
}

func TestConnectRejectsInvalidToken(t *testing.T) {
	broker := newFakeBroker(t, func(req map[string]any) []map[string]any {
		if _, ok := req["authorize"]; ok {
			return []map[string]any{apiError("authorize", "InvalidToken", "The token is invalid.")}
		}
		return nil
	})
	client := NewClient(broker.url(), "bad-token", zerolog.Nop())
	err := client.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuth)
}

func TestConnectNeverLogsRawToken(t *testing.T) {
	const token = "a1-SuperSecretToken9876"
	broker := newFakeBroker(t, func(req map[string]any) []map[string]any {
		if _, ok := req["authorize"]; ok {
			return []map[string]any{{
				"msg_type":  "authorize",
				"authorize": map[string]any{"loginid": "VRTC1", "currency": "USD", "balance": 10000, "is_virtual": 1},
			}}
		}
		return nil
	})
	var buf bytes.Buffer
	log := zerolog.New(zerolog.SyncWriter(&buf)).Level(zerolog.DebugLevel)
	client := NewClient(broker.url(), token, log)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	acct := client.Account()
	assert.Equal(t, "VRTC1", acct.LoginID)
	assert.True(t, acct.Virtual)
	assert.NotContains(t, buf.String(), token)
	assert.Contains(t, buf.String(), "9876")
}

func TestConnectFailsWithConnectionError(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1/websockets/v3", "", zerolog.Nop(), WithHandshakeTimeout(200*time.Millisecond))
	err := client.Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnection)
}

func TestTicksHistoryKeepsTrailingZeros(t *testing.T) {
	broker := newFakeBroker(t, func(req map[string]any) []map[string]any {
		if _, ok := req["ticks_history"]; ok {
			return []map[string]any{{
				"msg_type": "history",
				"pip_size": 2,
				"history": map[string]any{
					"prices": []float64{1234.5, 1234.57, 1235},
					"times":  []int64{1700000000, 1700000002, 1700000004},
				},
			}}
		}
		return nil
	})
	client := NewClient(broker.url(), "", zerolog.Nop())
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	ticks, err := client.TicksHistory(context.Background(), "R_100", 3)
	require.NoError(t, err)
	require.Len(t, ticks, 3)
	assert.Equal(t, []int{0, 7, 0}, signal.Digits(ticks))
	assert.Equal(t, "1234.50", ticks[0].Display())
	assert.Equal(t, "R_100", ticks[2].Symbol)
}

func TestSubscribeErrorIsClassified(t *testing.T) {
	broker := newFakeBroker(t, func(req map[string]any) []map[string]any {
		if _, ok := req["ticks"]; ok {
			return []map[string]any{apiError("tick", "InvalidSymbol", "Symbol NOPE is invalid.")}
		}
		return nil
	})
	client := NewClient(broker.url(), "", zerolog.Nop())
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	_, err := client.Subscribe(context.Background(), map[string]any{"ticks": "NOPE"}, ErrData)
	assert.ErrorIs(t, err, ErrData)
	assert.Empty(t, client.ActiveStreams())
}

func TestShutdownForgetsBeforeClosing(t *testing.T) {
	broker := newFakeBroker(t, func(req map[string]any) []map[string]any {
		switch {
		case req["ticks"] != nil:
			return []map[string]any{tickFrame("R_50", 250.12, 2, 1700000000)}
		case req["forget"] != nil:
			return []map[string]any{{"msg_type": "forget", "forget": 1}}
		}
		return nil
	})
	client := NewClient(broker.url(), "", zerolog.Nop())
	require.NoError(t, client.Connect(context.Background()))

	stream, err := client.Subscribe(context.Background(), map[string]any{"ticks": "R_50"}, ErrData)
	require.NoError(t, err)
	assert.Equal(t, "sub-R_50", stream.ID)

	env := <-stream.C()
	tick, err := ParseTick(env)
	require.NoError(t, err)
	assert.Equal(t, 2, tick.LastDigit)

	require.NoError(t, client.Shutdown(context.Background()))
	select {
	case <-broker.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("broker never saw the connection close")
	}
	assert.Equal(t, []string{"ticks", "forget", "close"}, broker.events())
	_, open := <-stream.C()
	assert.False(t, open)
}

func TestProposalBuyAndWatch(t *testing.T) {
	broker := newFakeBroker(t, func(req map[string]any) []map[string]any {
		switch {
		case req["proposal"] != nil:
			if req["contract_type"] != "DIGITOVER" || req["barrier"] != "4" {
				return []map[string]any{apiError("proposal", "InputValidationFailed", "bad barrier")}
			}
			return []map[string]any{{"msg_type": "proposal", "proposal": map[string]any{"id": "p-1", "ask_price": 1.0, "payout": 1.95}}}
		case req["buy"] != nil:
			return []map[string]any{{"msg_type": "buy", "buy": map[string]any{"contract_id": 77, "buy_price": 1.0, "payout": 1.95, "balance_after": 99}}}
		case req["proposal_open_contract"] != nil:
			sub := map[string]any{"id": "poc-77"}
			return []map[string]any{
				{"msg_type": "proposal_open_contract", "subscription": sub, "proposal_open_contract": map[string]any{"contract_id": 77, "is_sold": 0, "status": "open"}},
				{"msg_type": "proposal_open_contract", "subscription": sub, "proposal_open_contract": map[string]any{"contract_id": 77, "is_sold": 1, "status": "won", "profit": 0.95, "buy_price": 1.0, "exit_tick_display_value": "1234.57"}},
			}
		case req["forget"] != nil:
			return []map[string]any{{"msg_type": "forget", "forget": 1}}
		}
		return nil
	})
	client := NewClient(broker.url(), "", zerolog.Nop())
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()
	ctx := context.Background()

	prop, err := client.Proposal(ctx, ProposalRequest{Symbol: "R_100", Contract: signal.DigitOver, Barrier: 4, Stake: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.Equal(t, "p-1", prop.ID)

	buy, err := client.Buy(ctx, prop.ID, prop.AskPrice)
	require.NoError(t, err)
	assert.Equal(t, int64(77), buy.ContractID)

	update, err := client.WatchContract(ctx, buy.ContractID)
	require.NoError(t, err)
	assert.Equal(t, "won", update.Status)
	assert.InDelta(t, 0.95, update.Profit, 1e-9)
	assert.Empty(t, client.ActiveStreams())
	assert.Contains(t, broker.events(), "forget")
}

func TestWatchContractOutcomeUnknownOnDisconnect(t *testing.T) {
	var broker *fakeBroker
	broker = newFakeBroker(t, func(req map[string]any) []map[string]any {
		if req["proposal_open_contract"] != nil {
			go broker.dropAll()
			return []map[string]any{{"msg_type": "proposal_open_contract", "subscription": map[string]any{"id": "poc-5"}, "proposal_open_contract": map[string]any{"contract_id": 5, "status": "open"}}}
		}
		return nil
	})
	client := NewClient(broker.url(), "", zerolog.Nop())
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := client.WatchContract(ctx, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTrade) || errors.Is(err, ErrConnection), "got %v", err)
}
