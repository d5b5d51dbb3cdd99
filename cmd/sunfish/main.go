/*
Shoal is a Redfish aggregator service.
Copyright (C) 2025  Matthew Burns

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Command sunfish runs the fabric aggregation manager: it serves a single
// Redfish service root that merges resources discovered from any number of
// agent-managed fabrics into one resource store, forwarding events between
// agents and northbound subscribers.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"sunfish/internal/agentclient"
	"sunfish/internal/aggregator"
	"sunfish/internal/alias"
	"sunfish/internal/api"
	"sunfish/internal/bfs"
	"sunfish/internal/config"
	"sunfish/internal/eventhandler"
	"sunfish/internal/forwarder"
	"sunfish/internal/logging"
	"sunfish/internal/metrics"
	"sunfish/internal/objecthandler"
	"sunfish/internal/router"
	"sunfish/internal/store"
	"sunfish/internal/subscription"
	"sunfish/pkg/crypto"
	"sunfish/pkg/models"
)

func main() {
	var (
		httpAddr = flag.String("addr", "", "override SUNFISH_HTTP_ADDR")
		dbPath   = flag.String("db", "", "override SUNFISH_DB_PATH")
		logLevel = flag.String("log-level", "", "override SUNFISH_LOG_LEVEL")
	)
	flag.Parse()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx := context.Background()

	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		slog.Error("failed to open resource store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := seedTopLevel(ctx, st, cfg.RedfishRoot); err != nil {
		slog.Error("failed to seed top-level resources", "error", err)
		os.Exit(1)
	}

	var encryptor *crypto.Encryptor
	if cfg.EncryptionKey != "" {
		encryptor, err = crypto.NewEncryptor(cfg.EncryptionKey)
		if err != nil {
			slog.Error("failed to initialize credential encryptor", "error", err)
			os.Exit(1)
		}
	}

	aliases, err := alias.Open(ctx, st, cfg.AliasCacheSize)
	if err != nil {
		slog.Error("failed to open alias registry", "error", err)
		os.Exit(1)
	}

	resources, err := st.All(ctx)
	if err != nil {
		slog.Error("failed to load resources for startup indexing", "error", err)
		os.Exit(1)
	}
	subs := subscription.Rebuild(ctx, resources)
	slog.Info("rebuilt subscription index", "count", subs.Count())

	agentTimeout := time.Duration(cfg.AgentTimeoutSeconds) * time.Second
	agents := agentclient.New(agentTimeout, encryptor)

	rtr := router.New(st, cfg.RedfishRoot)
	ingestor := bfs.New(st, aliases, agents)
	objects := objecthandler.New(subs)
	fwd := forwarder.New(subs, agentTimeout)
	events := eventhandler.New(st, ingestor, agents, subs, fwd, cfg.RedfishRoot)
	facade := aggregator.New(st, rtr, agents, aliases, objects, subs, events, fwd, cfg.RedfishRoot)

	serviceUUID := uuid.New().String()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", api.NewRouter(facade, cfg.RedfishRoot, serviceUUID))

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting fabric aggregation manager", "addr", cfg.HTTPAddr, "redfish_root", cfg.RedfishRoot)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server exited")
}

// seedTopLevel writes the fixed singleton and collection documents that sit
// directly under the service root, if they are not already present. Every
// other resource is discovered from agents via the boundary-following
// ingestor, but these few have nowhere else to come from: the two service
// singletons under the service root are never populated by any agent, and the
// Systems/Chassis/Fabrics/Managers collections must exist before agent
// discovery can add members to them.
func seedTopLevel(ctx context.Context, st *store.Store, redfishRoot string) error {
	singletons := []models.Resource{
		{
			"@odata.id":   redfishRoot + "/AggregationService",
			"@odata.type": "#AggregationService.v1_0_0.AggregationService",
			"Id":          "AggregationService",
			"Name":        "Aggregation Service",
		},
		{
			"@odata.id":   redfishRoot + "/EventService",
			"@odata.type": "#EventService.v1_7_0.EventService",
			"Id":          "EventService",
			"Name":        "Event Service",
		},
	}
	collections := []struct {
		path, typ, name string
	}{
		{redfishRoot + "/Systems", "#ComputerSystemCollection.ComputerSystemCollection", "Computer System Collection"},
		{redfishRoot + "/Chassis", "#ChassisCollection.ChassisCollection", "Chassis Collection"},
		{redfishRoot + "/Fabrics", "#FabricCollection.FabricCollection", "Fabric Collection"},
		{redfishRoot + "/Managers", "#ManagerCollection.ManagerCollection", "Manager Collection"},
	}

	for _, s := range singletons {
		if err := seedIfAbsent(ctx, st, s); err != nil {
			return err
		}
	}
	for _, c := range collections {
		coll := models.Resource{
			"@odata.id":           c.path,
			"@odata.type":         c.typ,
			"Name":                c.name,
			"Members":             []any{},
			"Members@odata.count": 0,
		}
		if err := seedIfAbsent(ctx, st, coll); err != nil {
			return err
		}
	}
	return nil
}

func seedIfAbsent(ctx context.Context, st *store.Store, obj models.Resource) error {
	exists, err := st.Exists(ctx, obj.ODataID())
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return st.Write(ctx, obj)
}
