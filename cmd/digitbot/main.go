package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"digitbot-go/internal/bot"
	"digitbot-go/internal/config"
	"digitbot-go/internal/martingale"
	"digitbot-go/internal/metrics"
	"digitbot-go/internal/util"
)

const defaultConfigPath = "internal/config/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the YAML config")
	envFile := flag.String("env", ".env", "dotenv file with DERIV_API_TOKEN / DERIV_APP_ID")
	live := flag.Bool("live", false, "trade against the broker instead of the simulator")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg.LoadEnv(*envFile)
	if *live {
		cfg.App.Mode = config.ModeLive
	}

	log := util.NewLogger(cfg.App.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	redacted := cfg.Redacted()
	log.Info().Interface("config", redacted).Msg("config loaded")

	if cfg.App.MetricsAddr != "" {
		srv := metrics.Serve(cfg.App.MetricsAddr)
		defer srv.Close()
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := bot.Assemble(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("assemble session")
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := rt.Close(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("shutdown")
		}
	}()

	if bal, currency, err := rt.Balance(ctx); err == nil {
		log.Info().Str("balance", bal.StringFixed(2)).Str("currency", currency).Msg("account")
	} else {
		log.Warn().Err(err).Msg("balance unavailable")
	}

	rt.Session.Controller().Register(martingale.ObserverFunc(func(ev martingale.Event) {
		e := log.Info().Str("event", string(ev.Type)).Str("market", ev.Market).Str("strategy", ev.Strategy).
			Int("trades", ev.Session.TradesExecuted).Str("profit", ev.Session.SessionProfit.StringFixed(2)).
			Str("next_stake", ev.Session.CurrentStake.StringFixed(2))
		if ev.Reason != "" {
			e = e.Str("reason", ev.Reason)
		}
		if ev.Err != nil {
			e = e.AnErr("trade_err", ev.Err)
		}
		e.Msg("session event")
	}))

	log.Info().Str("mode", cfg.App.Mode).Str("strategy", cfg.Strategy.Mode).Msg("digitbot started")
	if err := rt.Session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("session ended with error")
	}

	st := rt.Journal.Stats()
	log.Info().Int("trades", st.TotalTrades).Int("wins", st.Wins).Int("losses", st.Losses).
		Float64("win_rate", st.WinRate).Str("total_profit", st.TotalProfit.StringFixed(2)).
		Str("average_profit", st.AverageProfit.StringFixed(2)).Msg("journal summary")
	sess := rt.Session.Controller().Session()
	log.Info().Str("reason", rt.Session.Controller().StopReason()).Int("wins", sess.Wins).Int("losses", sess.Losses).
		Str("session_profit", sess.SessionProfit.StringFixed(2)).Str("lost_stakes", sess.SessionLossTotal.StringFixed(2)).
		Msg("session summary")
	if rt.Ledger != nil {
		for _, s := range rt.Ledger.Snapshot() {
			log.Debug().Str("contract", string(s.Request.Contract)).Int("digit", s.Digit).
				Str("result", string(s.Result.Result)).Str("profit", s.Result.Profit.StringFixed(2)).Msg("simulated settlement")
		}
	}
	if bal, currency, err := rt.Balance(context.Background()); err == nil {
		log.Info().Str("balance", bal.StringFixed(2)).Str("currency", currency).Msg("account")
	}
}
