// Command tablesrv runs one real-time No-Limit Texas Hold'em table over a
// websocket listener: process wiring only (flags, logging, storage,
// listener), mirroring the teacher's cmd/pokersrv flag-based wiring style.
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/decred/slog"
	"github.com/vctt94/bisonbotkit/logging"

	"github.com/holdemtable/engine/pkg/session"
	"github.com/holdemtable/engine/pkg/store"
	"github.com/holdemtable/engine/pkg/table"
	"github.com/holdemtable/engine/pkg/ws"
)

func main() {
	var (
		dbPath          string
		host            string
		port            int
		portFile        string
		tableID         string
		seatCount       int
		smallBlind      int
		bigBlind        int
		minPlayers      int
		startingStack   int
		actionTimeoutMs int
		reconnectSecs   int
		debugLevel      string
	)
	flag.StringVar(&dbPath, "db", "", "Path to SQLite database file (created if missing)")
	flag.StringVar(&host, "host", "127.0.0.1", "Host to listen on")
	flag.IntVar(&port, "port", 0, "Port to listen on (0 for random free port)")
	flag.StringVar(&portFile, "portfile", "", "If set, write the selected port to this file")
	flag.StringVar(&tableID, "table", "table-1", "Stable ID this table is snapshotted and rehydrated under")
	flag.IntVar(&seatCount, "seats", 6, "Ring size")
	flag.IntVar(&smallBlind, "sb", 1, "Small blind")
	flag.IntVar(&bigBlind, "bb", 2, "Big blind")
	flag.IntVar(&minPlayers, "minplayers", 2, "Minimum occupied seats to start a hand")
	flag.IntVar(&startingStack, "stack", 1000, "Starting stack for a newly seated participant")
	flag.IntVar(&actionTimeoutMs, "actiontimeoutms", 30000, "Per-decision action timer, in milliseconds")
	flag.IntVar(&reconnectSecs, "reconnectsecs", 60, "Reclaim window after a disconnect, in seconds")
	flag.StringVar(&debugLevel, "debuglevel", "info", "Logging level: trace, debug, info, warn, error")
	flag.Parse()

	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "tablesrv.sqlite")
	}

	logBackend, err := logging.NewLogBackend(logging.LogConfig{DebugLevel: debugLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init log backend: %v\n", err)
		os.Exit(1)
	}
	log := logBackend.Logger("TABLESRV")

	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	cfg := table.Config{
		SeatCount:       seatCount,
		SmallBlind:      smallBlind,
		BigBlind:        bigBlind,
		MinPlayers:      minPlayers,
		StartingStack:   startingStack,
		ActionTimeout:   time.Duration(actionTimeoutMs) * time.Millisecond,
		ReconnectWindow: time.Duration(reconnectSecs) * time.Second,
		ShowdownDelay:   2 * time.Second,
	}

	tbl := table.New(tableID, cfg, logBackend.Logger("TABLE"))
	if snap, ok, err := st.LoadSnapshot(tableID); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load snapshot for %s: %v\n", tableID, err)
		os.Exit(1)
	} else if ok {
		if err := tbl.Restore(snap); err != nil {
			fmt.Fprintf(os.Stderr, "failed to restore snapshot for %s: %v\n", tableID, err)
			os.Exit(1)
		}
		log.Infof("table %s rehydrated from snapshot (stage=%s)", tableID, tbl.CurrentStage())
	}

	mgr := session.NewManager(tbl, st, logBackend.Logger("SESSION"))
	gw := session.NewGateway(mgr, session.IdentityTicketAuthenticator{}, logBackend.Logger("GATEWAY"))

	stop := make(chan struct{})
	defer close(stop)
	startHealthSampler(logBackend.Logger("HEALTH"), stop)
	startReclaimSweeper(mgr, stop)

	wsSrv := ws.NewServer(gw, logBackend.Logger("WS"))

	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to listen: %v\n", err)
		os.Exit(1)
	}
	if portFile != "" {
		_, p, _ := net.SplitHostPort(lis.Addr().String())
		_ = os.WriteFile(portFile, []byte(p), 0600)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", wsSrv)
	log.Infof("table %s listening on %s", tableID, lis.Addr())
	if err := http.Serve(lis, mux); err != nil {
		fmt.Fprintf(os.Stderr, "http serve error: %v\n", err)
		os.Exit(1)
	}
}

func startHealthSampler(log slog.Logger, stop <-chan struct{}) {
	sampler, err := session.NewHealthSampler()
	if err != nil {
		log.Warnf("health sampler disabled: %v", err)
		return
	}
	sampler.StartPeriodic(30*time.Second, stop, func(s session.ResourceSample) {
		log.Debugf("resource sample: rss=%d openfds=%d freeram=%d", s.ProcessRSS, s.OpenFDs, s.FreeSystemRAM)
	})
}

func startReclaimSweeper(mgr *session.Manager, stop <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				mgr.SweepReclaims()
			}
		}
	}()
}
