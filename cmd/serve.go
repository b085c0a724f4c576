package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andina-health/glosas-cli/internal/ledger"
	"github.com/andina-health/glosas-cli/internal/model"
	"github.com/andina-health/glosas-cli/internal/pipeline"
	"github.com/andina-health/glosas-cli/internal/resilience"
	"github.com/andina-health/glosas-cli/internal/rules"
	"github.com/andina-health/glosas-cli/internal/store"
	anthropicpkg "github.com/andina-health/glosas-cli/pkg/anthropic"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expone la superficie de consulta y evaluación sobre HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initAudit(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		interp := rules.NewAnthropicInterpreter(
			anthropicpkg.NewClient(cfg.Anthropic.Key),
			cfg.Anthropic.Model,
			time.Duration(cfg.Anthropic.TimeoutSecs)*time.Second,
		)
		repo := rules.NewRepository(env.Store, interp)
		led := ledger.New(env.Store)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env, repo, led),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func newRouter(env *auditEnv, repo *rules.Repository, led *ledger.Ledger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/radicados", func(rr chi.Router) {
		rr.Get("/", func(w http.ResponseWriter, req *http.Request) {
			filter := store.RadicadoFilter{
				Estado: model.EstadoRadicado(req.URL.Query().Get("estado")),
				EPSNit: req.URL.Query().Get("eps"),
				IPSNit: req.URL.Query().Get("ips"),
			}
			rads, err := env.Store.ListRadicados(req.Context(), filter)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, rads)
		})
		rr.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
			rad, err := env.Store.GetRadicado(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			if rad == nil {
				writeError(w, http.StatusNotFound, eris.New("radicado no encontrado"))
				return
			}
			writeJSON(w, http.StatusOK, rad)
		})
		rr.Post("/{id}/evaluar", func(w http.ResponseWriter, req *http.Request) {
			rad, err := env.Auditor.Audit(req.Context(), chi.URLParam(req, "id"))
			switch {
			case err == nil:
				writeJSON(w, http.StatusOK, rad)
			case eris.Is(err, pipeline.ErrRadicadoNoEncontrado):
				writeError(w, http.StatusNotFound, err)
			case resilience.IsConflicto(err):
				writeError(w, http.StatusConflict, err)
			default:
				writeError(w, http.StatusUnprocessableEntity, err)
			}
		})
		rr.Post("/{id}/finalizar", func(w http.ResponseWriter, req *http.Request) {
			rad, err := env.Auditor.Finalizar(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, err)
				return
			}
			writeJSON(w, http.StatusOK, rad)
		})
	})

	r.Route("/reglas", func(rr chi.Router) {
		rr.Get("/", func(w http.ResponseWriter, req *http.Request) {
			reglas, err := repo.List(req.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, reglas)
		})
		rr.Post("/", func(w http.ResponseWriter, req *http.Request) {
			var body reglaRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
				return
			}
			regla, err := repo.Create(req.Context(), body.Nombre, body.Descripcion, body.Tipo, body.Prioridad)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusCreated, regla)
		})
		rr.Post("/preview", func(w http.ResponseWriter, req *http.Request) {
			var body reglaRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
				return
			}
			interp, aplicable, err := repo.Preview(req.Context(), body.Descripcion, body.Tipo)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"interpretacion": interp,
				"aplicable":      aplicable,
			})
		})
		rr.Route("/{id}", func(item chi.Router) {
			item.Get("/", func(w http.ResponseWriter, req *http.Request) {
				regla, err := repo.Get(req.Context(), chi.URLParam(req, "id"))
				if err != nil {
					writeError(w, reglaStatus(err), err)
					return
				}
				writeJSON(w, http.StatusOK, regla)
			})
			item.Put("/", func(w http.ResponseWriter, req *http.Request) {
				var body reglaRequest
				if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
					writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
					return
				}
				regla, err := repo.Update(req.Context(), chi.URLParam(req, "id"),
					body.Nombre, body.Descripcion, body.Tipo, body.Prioridad, body.Activa)
				if err != nil {
					writeError(w, reglaStatus(err), err)
					return
				}
				writeJSON(w, http.StatusOK, regla)
			})
			item.Delete("/", func(w http.ResponseWriter, req *http.Request) {
				if err := repo.Delete(req.Context(), chi.URLParam(req, "id")); err != nil {
					writeError(w, http.StatusInternalServerError, err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
			item.Get("/estadisticas", func(w http.ResponseWriter, req *http.Request) {
				stats, err := repo.Estadisticas(req.Context(), chi.URLParam(req, "id"))
				if err != nil {
					writeError(w, http.StatusInternalServerError, err)
					return
				}
				writeJSON(w, http.StatusOK, stats)
			})
		})
	})

	r.Route("/autorizaciones", func(ar chi.Router) {
		ar.Get("/{numero}", func(w http.ResponseWriter, req *http.Request) {
			aut, err := led.Get(req.Context(), chi.URLParam(req, "numero"))
			if err != nil {
				status := http.StatusInternalServerError
				if eris.Is(err, ledger.ErrAutorizacionNoEncontrada) {
					status = http.StatusNotFound
				}
				writeError(w, status, err)
				return
			}
			writeJSON(w, http.StatusOK, aut)
		})
		ar.Post("/{numero}/validar", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				CUPS     string `json:"cups"`
				Cantidad int    `json:"cantidad"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
				return
			}
			if body.Cantidad <= 0 {
				body.Cantidad = 1
			}
			res, err := led.Validar(req.Context(), chi.URLParam(req, "numero"), body.CUPS, body.Cantidad, time.Now().UTC())
			if err != nil {
				status := http.StatusInternalServerError
				if eris.Is(err, ledger.ErrAutorizacionNoEncontrada) {
					status = http.StatusNotFound
				}
				writeError(w, status, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})
	})

	return r
}

type reglaRequest struct {
	Nombre      string          `json:"nombre"`
	Descripcion string          `json:"descripcion"`
	Tipo        model.TipoRegla `json:"tipo"`
	Prioridad   int             `json:"prioridad"`
	Activa      bool            `json:"activa"`
}

func reglaStatus(err error) int {
	if eris.Is(err, rules.ErrReglaNoEncontrada) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
