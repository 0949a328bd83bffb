package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/courierlane/trackhub/internal/api/trackingws"
	"github.com/courierlane/trackhub/internal/services/janitor"
	"github.com/courierlane/trackhub/internal/services/tracking"
)

type trackHubOpts struct {
	httpAddr string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runTrackHub(ctx context.Context, opts trackHubOpts, svc *tracking.Service, ws *trackingws.Handler, jan *janitor.Janitor, consumer kafkaConsumer) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8080"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/ws", ws.ServeWS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		out := map[string]any{"hub": svc.Stats()}
		if jan != nil {
			out["janitor"] = jan.Stats()
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	// Последняя известная точка по доставке для клиентов без WebSocket
	// (страница заказа, поддержка).
	r.Get("/deliveries/{deliveryID}/location", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		deliveryID := chi.URLParam(r, "deliveryID")

		snap, err := svc.LatestForDelivery(r.Context(), deliveryID)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		if snap == nil {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "no location for delivery"})
			return
		}
		_ = json.NewEncoder(w).Encode(snap)
	})

	r.Get("/deliveries/{deliveryID}/session", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		deliveryID := chi.URLParam(r, "deliveryID")

		sess, err := svc.ActiveSession(r.Context(), deliveryID)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		if sess == nil {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "no active session"})
			return
		}
		_ = json.NewEncoder(w).Encode(sess)
	})

	r.Post("/janitor/trigger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if jan == nil {
			_, _ = w.Write([]byte(`{"error":"janitor not wired"}`))
			return
		}
		jan.Trigger()
		_, _ = w.Write([]byte(`{"triggered":true}`))
	})

	if consumer != nil {
		go func() {
			slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
			_ = consumer.Consume(ctx, func(_key, value []byte) error {
				return svc.HandleDeliveryEvent(ctx, value)
			})
		}()
	}

	if jan != nil {
		go func() {
			if err := jan.Run(ctx); err != nil && err != context.Canceled {
				slog.Error("janitor stopped", "error", err.Error())
			}
		}()
	}

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("track-hub listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return ctx.Err()
}
