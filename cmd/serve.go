package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/annotated-calllog/internal/calllog"
	"github.com/sells-group/annotated-calllog/internal/device"
	"github.com/sells-group/annotated-calllog/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Keep the annotated call log in sync and serve it over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		} else {
			cfg.Server.Port = port
		}

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		refresher := calllog.NewRefresher(env.Worker,
			time.Duration(cfg.Refresh.DebounceMs)*time.Millisecond,
			calllog.WithOnResult(func(res calllog.RefreshResult, err error) {
				if err != nil {
					zap.L().Error("background refresh failed", zap.Error(err))
					return
				}
				zap.L().Info("background refresh complete", zap.Stringer("result", res))
			}),
		)
		fw := calllog.NewFramework(env.Worker, refresher)
		fw.RegisterContentObservers(ctx)
		defer fw.UnregisterContentObservers()

		refresher.RequestRefresh(ctx, true)
		if secs := cfg.Refresh.IntervalSecs; secs > 0 {
			ticker := time.NewTicker(time.Duration(secs) * time.Second)
			defer ticker.Stop()
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						refresher.RequestRefresh(ctx, true)
					}
				}
			}()
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env, refresher),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			refresher.Cancel()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		refresher.Wait()
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the HTTP API. refresher may be nil, in which case cancel
// requests are a no-op.
func newRouter(env *appEnv, refresher *calllog.Refresher) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	h := &apiHandler{env: env, refresher: refresher}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/refresh", h.refresh)
	r.Post("/refresh/cancel", h.cancelRefresh)
	r.Get("/calllog", h.listCallLog)
	r.Get("/lookup/{number}", h.lookup)

	r.Route("/device", func(r chi.Router) {
		r.Post("/calls", h.addCall)
		r.Delete("/calls/{id}", h.deleteCall)
		r.Post("/contacts", h.upsertContact)
		r.Delete("/contacts/{id}", h.deleteContact)
		r.Post("/blocked", h.setBlocked)
	})

	return r
}

type apiHandler struct {
	env       *appEnv
	refresher *calllog.Refresher
}

func (h *apiHandler) refresh(w http.ResponseWriter, r *http.Request) {
	checkDirty, _ := strconv.ParseBool(r.URL.Query().Get("check_dirty"))

	var (
		res calllog.RefreshResult
		err error
	)
	if checkDirty {
		res, err = h.env.Worker.RefreshWithDirtyCheck(r.Context())
	} else {
		res, err = h.env.Worker.RefreshWithoutDirtyCheck(r.Context())
	}
	if err != nil {
		zap.L().Error("refresh request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": res.String()})
}

func (h *apiHandler) cancelRefresh(w http.ResponseWriter, _ *http.Request) {
	if h.refresher != nil {
		h.refresher.Cancel()
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelled"})
}

func (h *apiHandler) listCallLog(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	rows, err := h.env.Store.ListRows(r.Context(), limit)
	if err != nil {
		zap.L().Error("list call log failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list call log failed")
		return
	}
	if rows == nil {
		rows = []model.AnnotatedRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *apiHandler) lookup(w http.ResponseWriter, r *http.Request) {
	region := r.URL.Query().Get("region")
	if region == "" {
		region = h.env.Device.CountryISO()
	}

	res, err := lookupNumber(r.Context(), h.env.Lookups, chi.URLParam(r, "number"), region)
	if err != nil {
		zap.L().Error("lookup failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type callRequest struct {
	Number       string `json:"number"`
	CountryISO   string `json:"country_iso"`
	Type         string `json:"type"`
	DurationSecs int64  `json:"duration_secs"`
	IsRead       bool   `json:"is_read"`
	New          bool   `json:"new"`
}

func (h *apiHandler) addCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	callType, err := device.ParseCallType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.env.Device.InsertCall(r.Context(), model.SystemCall{
		Number:     req.Number,
		CountryISO: req.CountryISO,
		Duration:   time.Duration(req.DurationSecs) * time.Second,
		Type:       callType,
		IsRead:     req.IsRead,
		New:        req.New,
	})
	if err != nil {
		zap.L().Error("insert call failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "insert call failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (h *apiHandler) deleteCall(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.env.Device.DeleteCall(r.Context(), id); err != nil {
		zap.L().Error("delete call failed", zap.Int64("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "delete call failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type contactRequest struct {
	ID                int64                 `json:"id"`
	Name              string                `json:"name"`
	PhotoURI          string                `json:"photo_uri"`
	PhotoThumbnailURI string                `json:"photo_thumbnail_uri"`
	PhotoID           int64                 `json:"photo_id"`
	LookupKey         string                `json:"lookup_key"`
	Phones            []contactPhoneRequest `json:"phones"`
}

type contactPhoneRequest struct {
	Number       string `json:"number"`
	Label        string `json:"label"`
	CarrierVideo bool   `json:"carrier_video"`
}

func (c contactRequest) toContact() device.Contact {
	out := device.Contact{
		ID:                c.ID,
		DisplayName:       c.Name,
		PhotoURI:          c.PhotoURI,
		PhotoThumbnailURI: c.PhotoThumbnailURI,
		PhotoID:           c.PhotoID,
		LookupKey:         c.LookupKey,
	}
	for _, p := range c.Phones {
		out.Phones = append(out.Phones, device.ContactPhone{Number: p.Number, Label: p.Label, CarrierVideo: p.CarrierVideo})
	}
	return out
}

func (h *apiHandler) upsertContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	id, err := h.env.Device.UpsertContact(r.Context(), req.toContact())
	if err != nil {
		zap.L().Error("upsert contact failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "upsert contact failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}

func (h *apiHandler) deleteContact(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.env.Device.DeleteContact(r.Context(), id); err != nil {
		zap.L().Error("delete contact failed", zap.Int64("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "delete contact failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) setBlocked(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Number  string `json:"number"`
		Blocked bool   `json:"blocked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Number == "" {
		writeError(w, http.StatusBadRequest, "number is required")
		return
	}

	var err error
	if req.Blocked {
		err = h.env.Device.BlockNumber(r.Context(), req.Number)
	} else {
		err = h.env.Device.UnblockNumber(r.Context(), req.Number)
	}
	if err != nil {
		zap.L().Error("update blocked number failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "update blocked number failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
