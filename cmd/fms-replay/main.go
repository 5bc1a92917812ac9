// fms-replay drives the engine over a JSON-lines bar fixture, printing the
// entry/exit snapshot lines a live session would emit. Used to diff strategy
// behavior across changes without a market connection.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/quantfold/fms-engine/internal/config"
	"github.com/quantfold/fms-engine/internal/engine"
	"github.com/quantfold/fms-engine/internal/market"
	"github.com/quantfold/fms-engine/internal/observ"
	"github.com/quantfold/fms-engine/internal/trade"
)

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", envOr("FMS_CONFIG", ""), "config file (empty = defaults)")
	barsPath := flag.String("bars", "fixtures/bars.jsonl", "bar fixture, one JSON bar per line")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := observ.NewLogger(cfg.Logging.Level, cfg.Logging.Console)

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observ.MetricsHandler())
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	eng, err := engine.New(cfg, trade.NoopBroker{}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("engine init failed")
	}

	f, err := os.Open(*barsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open bar fixture")
	}
	defer f.Close()

	bars := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var b market.Bar
		if err := json.Unmarshal(line, &b); err != nil {
			log.Warn().Err(err).Int("line", bars+1).Msg("skipping malformed bar")
			continue
		}
		eng.OnBarClose(b)
		bars++
	}
	if err := sc.Err(); err != nil {
		log.Fatal().Err(err).Msg("read bar fixture")
	}
	log.Info().Int("bars", bars).Msg("replay complete")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
