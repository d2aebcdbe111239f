package web

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"scribe.town/config"
	"scribe.town/db"
	"scribe.town/stt"
	"scribe.town/whisper"
)

// Pipeline is the slice of the transcriber a recognition session
// drives. Stop must release everything the factory allocated.
type Pipeline interface {
	Submit(samples []float32) uint64
	Start(cb stt.Callback, interval time.Duration)
	Stop()
}

// PipelineFactory builds one pipeline per connection from the
// settings in the client's StartRecognition message.
type PipelineFactory func(immediate bool, window time.Duration, sampleRate int) (Pipeline, error)

type Handler struct {
	store     *db.Store
	pipelines PipelineFactory
	logger    *log.Logger
	upgrader  websocket.Upgrader
}

func NewHandler(store *db.Store, pipelines PipelineFactory, logger *log.Logger) *Handler {
	return &Handler{
		store:     store,
		pipelines: pipelines,
		logger:    logger,
	}
}

func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Get("/", h.handleIndex)
	r.Get("/sessions", h.handleSessions)
	r.Get("/sessions/{id}", h.handleSession)
	r.Get("/ws", h.handleSocket)
	return r
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	transcriptions, err := h.store.RecentTranscriptions(r.Context(), 50)
	if err != nil {
		h.logger.Error("failed to get transcriptions", "error", err.Error())
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	tmpl := template.Must(template.New("index").Parse(`
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Recent Transcriptions</title>
    <script src="https://cdn.tailwindcss.com"></script>
</head>
<body class="bg-gray-100">
    <div class="container mx-auto px-4 py-8">
        <h1 class="text-3xl font-bold mb-6">Recent Transcriptions</h1>
        <p class="mb-6"><a class="text-blue-600 hover:text-blue-800" href="/sessions">Browse sessions</a></p>
        <div class="space-y-4">
            {{range .}}
            <div class="bg-white shadow rounded-lg p-4">
                <p class="text-gray-600 text-sm">{{.CreatedAt.Format "2006-01-02 15:04:05"}}
                    in <a class="text-blue-600 hover:text-blue-800" href="/sessions/{{.Session}}">{{.Session}}</a></p>
                <p class="text-lg">{{.Text}}</p>
            </div>
            {{end}}
        </div>
    </div>
</body>
</html>
`))

	if err := tmpl.Execute(w, transcriptions); err != nil {
		h.logger.Error("failed to execute template", "error", err.Error())
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions(r.Context())
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err.Error())
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	tmpl := template.Must(template.New("sessions").Parse(`
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Sessions</title>
    <script src="https://cdn.tailwindcss.com"></script>
</head>
<body class="bg-gray-100">
    <div class="container mx-auto px-4 py-8">
        <h1 class="text-3xl font-bold mb-6">Sessions</h1>
        <div class="space-y-4">
            {{range .}}
            <div class="bg-white shadow rounded-lg p-4">
                <p class="text-lg"><a class="text-blue-600 hover:text-blue-800" href="/sessions/{{.ID}}">{{.ID}}</a></p>
                <p class="text-gray-600 text-sm">Source: {{.Source}}</p>
                <p class="text-gray-600 text-sm">Started: {{.StartedAt.Format "2006-01-02 15:04:05"}}</p>
                <p class="text-gray-600 text-sm">Transcriptions: {{.Transcriptions}}</p>
            </div>
            {{end}}
        </div>
    </div>
</body>
</html>
`))

	if err := tmpl.Execute(w, sessions); err != nil {
		h.logger.Error("failed to execute template", "error", err.Error())
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	session, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.NotFound(w, r)
			return
		}
		h.logger.Error("failed to get session", "error", err.Error())
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	transcriptions, err := h.store.SessionTranscriptions(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get session transcriptions", "error", err.Error())
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	type sessionPage struct {
		Session        db.Session
		Transcriptions []db.Transcription
	}

	tmpl := template.Must(template.New("session").Parse(`
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Session {{.Session.ID}}</title>
    <script src="https://cdn.tailwindcss.com"></script>
</head>
<body class="bg-gray-100">
    <div class="container mx-auto px-4 py-8">
        <h1 class="text-3xl font-bold mb-2">Session {{.Session.ID}}</h1>
        <p class="text-gray-600 mb-6">{{.Session.Source}},
            started {{.Session.StartedAt.Format "2006-01-02 15:04:05"}}</p>
        <div class="space-y-4">
            {{range .Transcriptions}}
            <div class="bg-white shadow rounded-lg p-4">
                <p class="text-gray-600 text-sm">chunk {{.ChunkID}}</p>
                <p class="text-lg">{{.Text}}</p>
            </div>
            {{else}}
            <p>No transcriptions stored for this session.</p>
            {{end}}
        </div>
    </div>
</body>
</html>
`))

	page := sessionPage{Session: session, Transcriptions: transcriptions}
	if err := tmpl.Execute(w, page); err != nil {
		h.logger.Error("failed to execute template", "error", err.Error())
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// EnginePipelines opens one whisper model per recognition session and
// ties its lifetime to the pipeline.
func EnginePipelines(logger *log.Logger) PipelineFactory {
	return func(immediate bool, window time.Duration, sampleRate int) (Pipeline, error) {
		model, err := whisper.Open(whisper.Config{
			ModelPath: viper.GetString("MODEL_PATH"),
			Language:  viper.GetString("LANGUAGE"),
			UseGPU:    viper.GetBool("USE_GPU"),
			Threads:   viper.GetInt("THREADS"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open model: %w", err)
		}
		t := stt.New(model, stt.Config{
			Immediate:  immediate,
			MaxWindow:  window,
			SampleRate: sampleRate,
		}, logger)
		return &enginePipeline{Transcriber: t, model: model}, nil
	}
}

type enginePipeline struct {
	*stt.Transcriber
	model *whisper.Model
}

func (p *enginePipeline) Stop() {
	p.Transcriber.Stop()
	p.model.Close()
}

func Serve(ctx context.Context, port int, logger *log.Logger) error {
	store, err := db.Open(ctx, viper.GetString("DATABASE_URL"), logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	if err := config.New(store).Load(ctx); err != nil {
		return err
	}

	handler := NewHandler(store, EnginePipelines(logger), logger)

	logger.Info("http", "url", fmt.Sprintf("http://localhost:%d", port))
	return http.ListenAndServe(fmt.Sprintf(":%d", port), handler.Router())
}

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the transcription web server",
	Long:  `This command starts the HTTP server with the transcript pages and the live recognition WebSocket.`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		logger := log.Default().WithPrefix("web")
		if err := Serve(cmd.Context(), port, logger); err != nil {
			log.Fatal("Failed to start server", "error", err)
		}
	},
}

func init() {
	ServeCmd.Flags().IntP("port", "p", 4444, "Port to run the HTTP server on")
}
