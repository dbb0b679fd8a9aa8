package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/podaac/gaptracker/internal/config"
	"github.com/podaac/gaptracker/internal/handler"
	"github.com/podaac/gaptracker/internal/report"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the gap tracking API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(rootCtx,
			config.EnvRDSSecret, config.EnvRDSProxyHost, config.EnvCMREnv,
			config.EnvToleranceTable, config.EnvQueueURL,
			config.EnvSubscriptionARNIngest, config.EnvSubscriptionARNDeletion,
			config.EnvGapReportBucket, config.EnvGapResponseBucket)
		if err != nil {
			return err
		}
		defer d.close()

		store, err := d.gapStore(rootCtx)
		if err != nil {
			return err
		}
		registrar, err := d.registrar(rootCtx)
		if err != nil {
			return err
		}

		collections := handler.NewCollections(registrar, d.log)
		gaps := handler.NewGaps(store, d.tolerances(), d.responseObjects(), d.log)
		reasons := handler.NewReasons(store, d.log)
		reports := handler.NewReport(report.NewFetcher(d.reportObjects()), d.log)

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(middleware.Timeout(2 * time.Minute))
		r.Post("/collections", adapt(collections.Handle))
		r.Get("/gaps", adapt(gaps.Handle))
		r.Post("/reasons", adapt(reasons.Handle))
		r.Get("/reasons", adapt(reasons.Handle))
		r.Get("/report", adapt(reports.Handle))

		srv := &http.Server{
			Addr:              serveAddr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		d.log.Info("serving gap tracking API", "addr", serveAddr)

		select {
		case err := <-errCh:
			return err
		case <-rootCtx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

// adapt bridges an envelope handler into a chi route.
func adapt(h func(context.Context, handler.Request) handler.Response) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		params := map[string]string{}
		for name, values := range r.URL.Query() {
			if len(values) > 0 {
				params[name] = values[0]
			}
		}
		resp := h(r.Context(), handler.Request{
			HTTPMethod:            r.Method,
			Path:                  r.URL.Path,
			Body:                  string(body),
			QueryStringParameters: params,
		})
		for name, value := range resp.Headers {
			w.Header().Set(name, value)
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write([]byte(resp.Body))
	}
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	rootCmd.AddCommand(serveCmd)
}
