package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rotafood/dispatchbox/internal/broker/messages"
	"github.com/rotafood/dispatchbox/internal/services/dispatch"
)

type dispatchAPIOpts struct {
	httpAddr string

	statusTopic   string
	offlineTopic  string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runDispatchAPI(ctx context.Context, opts dispatchAPIOpts, svc *dispatch.Service, statusConsumer, offlineConsumer kafkaConsumer) error {
	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	if statusConsumer != nil {
		go func() {
			slog.Info("kafka consumer started", "topic", opts.statusTopic, "group", opts.consumerGroup)
			// Poison messages are logged and committed, not retried forever.
			_ = statusConsumer.Consume(ctx, func(_, value []byte) error {
				var m messages.DeliveryStatusChanged
				if err := json.Unmarshal(value, &m); err != nil {
					slog.Error("delivery status: unmarshal", "error", err.Error())
					return nil
				}
				if err := svc.ApplyStatusUpdate(ctx, m); err != nil {
					slog.Error("delivery status: apply", "delivery_id", m.DeliveryID, "error", err.Error())
				}
				return nil
			})
		}()
	}
	if offlineConsumer != nil {
		go func() {
			slog.Info("kafka consumer started", "topic", opts.offlineTopic, "group", opts.consumerGroup)
			_ = offlineConsumer.Consume(ctx, func(_, value []byte) error {
				var m messages.CourierWentOffline
				if err := json.Unmarshal(value, &m); err != nil {
					slog.Error("courier offline: unmarshal", "error", err.Error())
					return nil
				}
				if err := svc.HandleCourierOffline(ctx, m); err != nil {
					slog.Error("courier offline: handle", "courier_id", m.CourierID, "error", err.Error())
				}
				return nil
			})
		}()
	}

	srv := &http.Server{Handler: newRouter(svc)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return ctx.Err()
}

func newRouter(svc *dispatch.Service) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Post("/restaurants/{restaurantID}/dispatch", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "restaurantID")
		if !ok {
			return
		}
		res, err := svc.RunAutomaticDispatch(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	r.Get("/restaurants/{restaurantID}/capacity", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "restaurantID")
		if !ok {
			return
		}
		snap, err := svc.Snapshot(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Post("/restaurants/{restaurantID}/delays/check", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "restaurantID")
		if !ok {
			return
		}
		if err := svc.FlagDelayedOrders(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"checked": true})
	})

	r.Post("/orders/{orderID}/assign", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "orderID")
		if !ok {
			return
		}
		var body struct {
			CourierID int64  `json:"courier_id"`
			Operator  string `json:"operator"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		res, err := svc.AssignManual(r.Context(), id, body.CourierID, body.Operator)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	r.Post("/couriers/{courierID}/release", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "courierID")
		if !ok {
			return
		}
		var body struct {
			Authorized bool `json:"authorized"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		res, err := svc.ReleaseCourierPendingDeliveries(r.Context(), id, body.Authorized)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	return r
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err.Error())
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
