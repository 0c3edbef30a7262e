package main

import (
	"flag"
	"net/http"
	"time"

	"github.com/facebookgo/httpdown"
	"go.uber.org/zap"
)

func main() {
	// Prepare the stoppable HTTP server
	server := &http.Server{
		Addr: "127.0.0.1:8000",
	}
	hd := &httpdown.HTTP{
		StopTimeout: 10 * time.Second,
		KillTimeout: 1 * time.Second,
	}

	flag.StringVar(&server.Addr, "addr", server.Addr, "http service address")
	flag.DurationVar(&hd.StopTimeout, "stop-timeout", hd.StopTimeout, "stop timeout")
	flag.DurationVar(&hd.KillTimeout, "kill-timeout", hd.KillTimeout, "kill timeout")
	origin := flag.String("origin", "", "websocket server checks Origin headers against this scheme://host[:port]")
	pingEvery := flag.Duration("ping-period", pingPeriod, "interval between keepalive pings to connected clients")
	flag.Parse()

	logger := zap.Must(zap.NewProduction())
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	startMetrics()
	defer finalMetrics()

	reg := newRegistry()
	ticker := newMTicker(*pingEvery)
	defer ticker.stop()

	// Start the server
	server.Handler = newHandler(reg, ticker, *origin)
	logger.Info("listening", zap.String("addr", server.Addr))
	if err := httpdown.ListenAndServe(server, hd); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
