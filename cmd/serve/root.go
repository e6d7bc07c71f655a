package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ValentinKolb/dMsg/cmd/util"
	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/ValentinKolb/dMsg/rpc/server"
	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dMsg server",
		Long:    `Start the dMsg server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DMSG_<flag> (e.g. DMSG_HASH_TTL=1h)`,
		PreRunE: processConfig,
		RunE:    run,
	}
	acceptTypes []uint8
)

func init() {
	util.SetupServerFlags(ServeCmd)

	key := "accept-types"
	ServeCmd.PersistentFlags().String(key, "0-200", util.WrapString("Message types the server accepts, as a comma separated list of types and ranges (e.g. 1,5,10-20). Other types are answered with UNKNOWN_MESSAGE_TYPE"))

	key = "decode"
	ServeCmd.PersistentFlags().Bool(key, false, util.WrapString("Decode payloads with the configured serializer and log them. Payloads that cannot be decoded are rejected with UNKNOWN_ERROR_NO_RETRY"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", util.WrapString("Address of the Prometheus /metrics endpoint (e.g. 0.0.0.0:9090, empty disables it)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(_ *cobra.Command, _ []string) error {
	*serveCmdConfig = *util.GetServerConfig()

	types, err := util.ParseTypeList(viper.GetString("accept-types"))
	if err != nil {
		return err
	}
	acceptTypes = types

	return nil
}

// run starts the dMsg server and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	listeners := server.NewListenerRegistry()
	if viper.GetBool("decode") {
		s, err := util.GetSerializer()
		if err != nil {
			return err
		}
		if err := server.RegisterDecodingListeners(listeners, s, acceptTypes...); err != nil {
			return err
		}
	} else if err := server.RegisterLoggingListeners(listeners, acceptTypes...); err != nil {
		return err
	}

	t, err := util.GetServerTransport()
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(*serveCmdConfig, t, listeners, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if endpoint := viper.GetString("metrics-endpoint"); endpoint != "" {
		metricsServer := startMetricsServer(endpoint, serv)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	go func() {
		<-ctx.Done()
		server.Logger.Infof("shutting down")
		if err := serv.Close(); err != nil {
			server.Logger.Errorf("failed to close server: %v", err)
		}
	}()

	return serv.Serve()
}

// startMetricsServer exposes the server metrics and the process metrics in the Prometheus text format
func startMetricsServer(endpoint string, serv *server.RPCServer) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		serv.WritePrometheus(w)
		metrics.WritePrometheus(w, true)
	})

	srv := &http.Server{
		Addr:              endpoint,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Logger.Errorf("metrics endpoint failed: %v", err)
		}
	}()

	server.Logger.Infof("serving metrics on %s", fmt.Sprintf("http://%s/metrics", endpoint))
	return srv
}
