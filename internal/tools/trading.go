package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/northstar-hq/northstar/pkg/store"
	"github.com/northstar-hq/northstar/pkg/types"
)

// logTradeArgs is the JSON-decoded input for the "log_trade" tool.
type logTradeArgs struct {
	// Symbol is the instrument ticker, e.g. "NVDA". Required.
	Symbol string `json:"symbol"`

	// Side is "buy" or "sell". Required.
	Side string `json:"side"`

	// Quantity is the number of units traded. Must be positive.
	Quantity float64 `json:"quantity"`

	// Price is the per-unit execution price. Must be positive.
	Price float64 `json:"price"`

	// Fees holds total commission and fees for the fill.
	Fees float64 `json:"fees"`

	// Notes holds an optional rationale for the trade.
	Notes string `json:"notes"`

	// ExecutedAt is an optional RFC 3339 execution time; defaults to now.
	ExecutedAt string `json:"executed_at"`
}

// listTradesArgs is the JSON-decoded input for the "list_trades" tool.
type listTradesArgs struct {
	// Symbol filters trades by ticker. Empty means all symbols.
	Symbol string `json:"symbol"`

	// Limit caps the number of returned trades. Defaults to 20.
	Limit int `json:"limit"`
}

// performanceArgs is the JSON-decoded input for the "trading_performance" tool.
type performanceArgs struct {
	// Symbol limits the summary to one ticker. Empty means the whole journal.
	Symbol string `json:"symbol"`
}

// TradingTools returns the trade journal tool set backed by ts.
func TradingTools(ts store.TradeStore) []Tool {
	return []Tool{
		{
			Definition: types.ToolDefinition{
				Name:        "log_trade",
				Description: "Record an executed trade in the journal.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"symbol":      map[string]any{"type": "string", "description": "Instrument ticker"},
						"side":        map[string]any{"type": "string", "enum": []string{"buy", "sell"}},
						"quantity":    map[string]any{"type": "number"},
						"price":       map[string]any{"type": "number", "description": "Per-unit execution price"},
						"fees":        map[string]any{"type": "number"},
						"notes":       map[string]any{"type": "string", "description": "Trade rationale"},
						"executed_at": map[string]any{"type": "string", "description": "Execution time in RFC 3339 format"},
					},
					"required": []string{"symbol", "side", "quantity", "price"},
				},
			},
			Handler: func(ctx context.Context, args string) (string, *types.AgentAction, error) {
				return logTrade(ctx, ts, args)
			},
		},
		{
			Definition: types.ToolDefinition{
				Name:        "list_trades",
				Description: "List recent trades from the journal, optionally filtered by symbol.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"symbol": map[string]any{"type": "string"},
						"limit":  map[string]any{"type": "integer"},
					},
				},
			},
			Handler: func(ctx context.Context, args string) (string, *types.AgentAction, error) {
				return listTrades(ctx, ts, args)
			},
		},
		{
			Definition: types.ToolDefinition{
				Name:        "trading_performance",
				Description: "Summarize trading activity: trade counts, gross buy/sell volume, net cash flow and total fees.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"symbol": map[string]any{"type": "string", "description": "Limit the summary to one ticker"},
					},
				},
			},
			Handler: func(ctx context.Context, args string) (string, *types.AgentAction, error) {
				return tradingPerformance(ctx, ts, args)
			},
		},
	}
}

func logTrade(ctx context.Context, ts store.TradeStore, args string) (string, *types.AgentAction, error) {
	var in logTradeArgs
	if err := json.Unmarshal([]byte(args), &in); err != nil {
		return "", nil, fmt.Errorf("tools: invalid log_trade args: %w", err)
	}

	side := strings.ToLower(strings.TrimSpace(in.Side))
	if side != store.TradeSideBuy && side != store.TradeSideSell {
		return "", nil, fmt.Errorf("tools: log_trade side must be %q or %q, got %q", store.TradeSideBuy, store.TradeSideSell, in.Side)
	}
	symbol := strings.ToUpper(strings.TrimSpace(in.Symbol))
	if symbol == "" {
		return "", nil, fmt.Errorf("tools: log_trade requires a symbol")
	}
	if in.Quantity <= 0 {
		return "", nil, fmt.Errorf("tools: log_trade quantity must be positive, got %v", in.Quantity)
	}
	if in.Price <= 0 {
		return "", nil, fmt.Errorf("tools: log_trade price must be positive, got %v", in.Price)
	}

	executedAt := time.Now().UTC()
	if in.ExecutedAt != "" {
		t, err := time.Parse(time.RFC3339, in.ExecutedAt)
		if err != nil {
			return "", nil, fmt.Errorf("tools: log_trade executed_at must be RFC 3339: %w", err)
		}
		executedAt = t
	}

	trade := store.Trade{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       side,
		Quantity:   in.Quantity,
		Price:      in.Price,
		Fees:       in.Fees,
		Notes:      in.Notes,
		ExecutedAt: executedAt,
		CreatedAt:  time.Now().UTC(),
	}
	if err := ts.LogTrade(ctx, trade); err != nil {
		return "", nil, fmt.Errorf("tools: log_trade: %w", err)
	}

	action := &types.AgentAction{
		Action:     "log_trade",
		EntityType: "trade",
		EntityID:   trade.ID,
		Parameters: args,
	}
	return fmt.Sprintf("Logged %s of %v %s at %v.", side, in.Quantity, symbol, in.Price), action, nil
}

func listTrades(ctx context.Context, ts store.TradeStore, args string) (string, *types.AgentAction, error) {
	in := listTradesArgs{Limit: 20}
	if args != "" {
		if err := json.Unmarshal([]byte(args), &in); err != nil {
			return "", nil, fmt.Errorf("tools: invalid list_trades args: %w", err)
		}
	}
	if in.Limit <= 0 {
		in.Limit = 20
	}

	trades, err := ts.ListTrades(ctx, strings.ToUpper(strings.TrimSpace(in.Symbol)), in.Limit)
	if err != nil {
		return "", nil, fmt.Errorf("tools: list_trades: %w", err)
	}
	if len(trades) == 0 {
		return "No trades found.", nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d trade(s):\n", len(trades))
	for _, t := range trades {
		fmt.Fprintf(&sb, "- %s %s %v @ %v on %s", t.Side, t.Symbol, t.Quantity, t.Price,
			t.ExecutedAt.Format("2006-01-02"))
		if t.Notes != "" {
			fmt.Fprintf(&sb, " (%s)", t.Notes)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil, nil
}

// tradingPerformance computes a cash-flow summary from the journal. Sells add
// to net cash, buys subtract; fees always subtract.
func tradingPerformance(ctx context.Context, ts store.TradeStore, args string) (string, *types.AgentAction, error) {
	var in performanceArgs
	if args != "" {
		if err := json.Unmarshal([]byte(args), &in); err != nil {
			return "", nil, fmt.Errorf("tools: invalid trading_performance args: %w", err)
		}
	}

	trades, err := ts.ListTrades(ctx, strings.ToUpper(strings.TrimSpace(in.Symbol)), 1000)
	if err != nil {
		return "", nil, fmt.Errorf("tools: trading_performance: %w", err)
	}
	if len(trades) == 0 {
		return "No trades in the journal yet.", nil, nil
	}

	var buys, sells int
	var buyVolume, sellVolume, fees float64
	for _, t := range trades {
		gross := t.Quantity * t.Price
		switch t.Side {
		case store.TradeSideBuy:
			buys++
			buyVolume += gross
		case store.TradeSideSell:
			sells++
			sellVolume += gross
		}
		fees += t.Fees
	}
	net := sellVolume - buyVolume - fees

	var sb strings.Builder
	if in.Symbol != "" {
		fmt.Fprintf(&sb, "Performance for %s:\n", strings.ToUpper(in.Symbol))
	} else {
		sb.WriteString("Overall trading performance:\n")
	}
	fmt.Fprintf(&sb, "- trades: %d (%d buys, %d sells)\n", len(trades), buys, sells)
	fmt.Fprintf(&sb, "- gross bought: %.2f\n", buyVolume)
	fmt.Fprintf(&sb, "- gross sold: %.2f\n", sellVolume)
	fmt.Fprintf(&sb, "- total fees: %.2f\n", fees)
	fmt.Fprintf(&sb, "- net cash flow: %.2f\n", net)
	return sb.String(), nil, nil
}
