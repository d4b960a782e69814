package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/terrainview/internal/logging"
	"github.com/signalsfoundry/terrainview/terrain"
	"github.com/signalsfoundry/terrainview/terrain/httpterrain"
)

func newTerrainCmd() *cobra.Command {
	var (
		addr   string
		name   string
		height float64
	)
	cmd := &cobra.Command{
		Use:   "terrain",
		Short: "Serve a flat terrain service speaking the layer.json/heights protocol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log := logging.NewFromEnv()
			meta := httpterrain.Metadata{Name: name, VerticalDatum: terrain.DatumEllipsoid}
			srv := &http.Server{
				Addr:              addr,
				Handler:           httpterrain.NewHandler(meta, terrain.Flat{Name: name, Height: height}),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			log.Info(ctx, "serving flat terrain",
				logging.String("addr", addr), logging.Float64("height", height))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8081", "listen address")
	cmd.Flags().StringVar(&name, "name", "flat", "layer name")
	cmd.Flags().Float64Var(&height, "height", 0, "ellipsoid height returned for every point")
	return cmd
}
