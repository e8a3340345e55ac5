package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"digitbot-go/internal/config"
	"digitbot-go/internal/journal"
	"digitbot-go/internal/store"
	"digitbot-go/internal/strategy"
)

const defaultConfigPath = "internal/config/config.yaml"

func main() {
	reader := bufio.NewReader(os.Stdin)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Println("\n=== DigitBot Control ===")
		fmt.Println("1) Show configuration summary")
		fmt.Println("2) Edit strategy")
		fmt.Println("3) Edit martingale and stop limits")
		fmt.Println("4) Show journal summary")
		fmt.Println("5) Clear journal")
		fmt.Println("6) Save config")
		fmt.Println("7) Launch bot")
		fmt.Println("8) Reload config from disk")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		choice := strings.TrimSpace(input)

		switch choice {
		case "1":
			printSummary(cfg)
		case "2":
			editStrategy(reader, cfg)
		case "3":
			editMartingale(reader, cfg)
		case "4":
			withJournal(cfg, printJournal)
		case "5":
			if promptYes(reader, "Delete all journal entries for tab "+cfg.Journal.Tab) {
				withJournal(cfg, func(j *journal.Journal) {
					j.Clear(context.Background())
					fmt.Println("journal cleared")
				})
			}
		case "6":
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "not saved: %v\n", err)
			} else if err := saveConfig(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved")
			}
		case "7":
			launchBot(reader, cfg.App.Mode == config.ModeLive)
		case "8":
			reloaded, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			} else {
				cfg = reloaded
				fmt.Println("config reloaded")
			}
		case "0":
			return
		default:
			fmt.Println("unknown option")
		}
	}
}

func printSummary(cfg *config.Config) {
	m := cfg.Martingale
	fmt.Println("\n--- Configuration Summary ---")
	fmt.Printf("Mode: %s | provider: %s | markets: %s\n", cfg.App.Mode, cfg.Broker.Provider, strings.Join(cfg.Broker.Symbols, ", "))
	fmt.Printf("Strategy: %s (pivot %d, min gap %.1f%%, confirmations %d)\n",
		cfg.Strategy.Mode, cfg.Analysis.Pivot, cfg.Strategy.Params.MinGap, cfg.Strategy.Params.Confirmations)
	fmt.Printf("Analysis window: %ds | buffer: %d ticks\n", cfg.Analysis.WindowSecs, cfg.Ingest.BufferSize)
	fmt.Printf("Base stake: %.2f %s | multiplier: %.2f | cap level: %d\n", m.BaseStake, cfg.Broker.Currency, cfg.Multiplier(cfg.Strategy.Mode), m.CapLevel)
	fmt.Printf("Target profit: %.2f | max loss: %.2f | max trades: %d | max stake: %.2f\n", m.TargetProfit, m.MaxLoss, m.MaxTrades, m.MaxStake)
	fmt.Printf("On trade failure: %s (max retries %d)\n", m.FailurePolicy, m.MaxRetries)
	if cfg.Broker.Token != "" {
		fmt.Println("Broker token: configured")
	} else {
		fmt.Printf("Broker token: not set (%s)\n", config.TokenEnv)
	}
}

func editStrategy(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Strategy ---")
	fmt.Printf("Modes: %s, %s, %s\n", strategy.ModeEvenOdd, strategy.ModeOverUnder, strategy.ModeDiffers)
	fmt.Printf("Mode [%s]: ", cfg.Strategy.Mode)
	if line, _ := reader.ReadString('\n'); strings.TrimSpace(line) != "" {
		if mode, ok := strategy.Normalize(line); ok {
			cfg.Strategy.Mode = mode
		} else {
			fmt.Printf("unknown mode, keeping %s\n", cfg.Strategy.Mode)
		}
	}
	cfg.Analysis.Pivot = promptInt(reader, "Over/under pivot (0-8)", cfg.Analysis.Pivot)
	cfg.Analysis.WindowSecs = promptInt(reader, "Analysis window (seconds)", cfg.Analysis.WindowSecs)
	cfg.Strategy.Params.MinGap = promptFloat(reader, "Minimum gap (percentage points)", cfg.Strategy.Params.MinGap)
	cfg.Strategy.Params.Confirmations = promptInt(reader, "Confirmation ticks", cfg.Strategy.Params.Confirmations)
}

func editMartingale(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Martingale / Limits ---")
	m := &cfg.Martingale
	m.BaseStake = promptFloat(reader, "Base stake", m.BaseStake)
	m.Multipliers[cfg.Strategy.Mode] = promptFloat(reader, "Multiplier for "+cfg.Strategy.Mode, cfg.Multiplier(cfg.Strategy.Mode))
	m.CapLevel = promptInt(reader, "Cap level (losses)", m.CapLevel)
	m.TargetProfit = promptFloat(reader, "Target profit (0 disables)", m.TargetProfit)
	m.MaxLoss = promptFloat(reader, "Max loss (0 disables)", m.MaxLoss)
	m.MaxTrades = promptInt(reader, "Max trades (0 disables)", m.MaxTrades)
	m.MaxStake = promptFloat(reader, "Max stake (0 disables)", m.MaxStake)
}

func withJournal(cfg *config.Config, fn func(*journal.Journal)) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	kv, err := store.Open(ctx, store.Options{
		Backend:   cfg.Store.Backend,
		Path:      cfg.Store.Path,
		RedisAddr: cfg.Store.RedisAddr,
		RedisDB:   cfg.Store.RedisDB,
		Prefix:    cfg.Store.Prefix,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		return
	}
	defer kv.Close()
	fn(journal.New(ctx, cfg.Journal.Tab, kv, zerolog.Nop()))
}

func printJournal(j *journal.Journal) {
	st := j.Stats()
	fmt.Println("\n--- Journal ---")
	fmt.Printf("Trades: %d | wins: %d | losses: %d | win rate: %.1f%%\n", st.TotalTrades, st.Wins, st.Losses, st.WinRate)
	fmt.Printf("Total profit: %s | average: %s\n", st.TotalProfit.StringFixed(2), st.AverageProfit.StringFixed(2))
	for _, e := range j.Entries(10) {
		tag := ""
		if e.Simulated {
			tag = " [sim]"
		}
		fmt.Printf("%s %-8s %-22s %-7s %s%s\n", e.Timestamp.Format(time.TimeOnly), e.Type, e.Action, e.Result, e.Profit.StringFixed(2), tag)
	}
}

func launchBot(reader *bufio.Reader, live bool) {
	fmt.Println("Launching bot (Ctrl+C to stop)...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	args := []string{"run", "./cmd/digitbot", "-config", locateConfig()}
	if live {
		args = append(args, "-live")
	}
	cmd := exec.CommandContext(ctx, "go", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start bot: %v\n", err)
		return
	}

	go func() {
		_ = cmd.Wait()
		cancel()
	}()

	fmt.Print("\nPress ENTER to stop the bot and return to menu...")
	_, _ = reader.ReadString('\n')
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func promptFloat(reader *bufio.Reader, label string, current float64) float64 {
	fmt.Printf("%s [%.2f]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %.2f\n", current)
		return current
	}
	return val
}

func promptInt(reader *bufio.Reader, label string, current int) int {
	fmt.Printf("%s [%d]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.Atoi(line)
	if err != nil {
		fmt.Printf("invalid number, keeping %d\n", current)
		return current
	}
	return val
}

func promptYes(reader *bufio.Reader, label string) bool {
	fmt.Printf("%s? [y/N]: ", label)
	line, _ := reader.ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(line), "y")
}

func loadConfig() (*config.Config, error) {
	return config.Load(locateConfig())
}

func saveConfig(cfg *config.Config) error {
	return config.Save(locateConfig(), cfg)
}

func locateConfig() string {
	if filepath.IsAbs(defaultConfigPath) {
		return defaultConfigPath
	}
	return filepath.Clean(defaultConfigPath)
}
