package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"scribe.town/config"
	"scribe.town/db"
	"scribe.town/etc"
	"scribe.town/snd"
	"scribe.town/stt"
	"scribe.town/tui"
	"scribe.town/web"
	"scribe.town/whisper"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)

	listenCmd.Flags().
		Bool("immediate", false, "Transcribe every chunk on its own")
	listenCmd.Flags().
		Float64("window", 10, "Accumulation window in seconds")
	listenCmd.Flags().
		Int("interval", 100, "Result dispatch interval in milliseconds")
	listenCmd.Flags().
		Int("chunk-ms", 500, "Chunk size for stdin and replay, in milliseconds")
	listenCmd.Flags().
		String("udp", "", "Listen for RTP s16le packets on this UDP address")
	listenCmd.Flags().
		String("wav", "", "Replay a WAV file instead of reading stdin")
	listenCmd.Flags().Bool("tui", false, "Show the live transcript UI")
	listenCmd.Flags().
		Bool("store", false, "Persist final transcriptions to the database")

	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(web.ServeCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(setupCmd)

	// Add persistent flags
	rootCmd.PersistentFlags().String("model", "", "Path to the whisper model file")
	rootCmd.PersistentFlags().
		String("language", "auto", "Transcription language (ISO code, or auto)")
	rootCmd.PersistentFlags().String("database-url", "", "Postgres connection string")
	rootCmd.PersistentFlags().Bool("gpu", false, "Run the model on the GPU")
	rootCmd.PersistentFlags().Int("threads", 0, "Inference threads (0 = engine default)")

	// Bind flags to viper
	viper.BindPFlag(
		"model_path",
		rootCmd.PersistentFlags().Lookup("model"),
	)
	viper.BindPFlag(
		"language",
		rootCmd.PersistentFlags().Lookup("language"),
	)
	viper.BindPFlag(
		"database_url",
		rootCmd.PersistentFlags().Lookup("database-url"),
	)
	viper.BindPFlag("use_gpu", rootCmd.PersistentFlags().Lookup("gpu"))
	viper.BindPFlag("threads", rootCmd.PersistentFlags().Lookup("threads"))
	viper.BindPFlag("window_seconds", listenCmd.Flags().Lookup("window"))
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("Error reading config file: %s\n", err)
		}
	}

	logger = log.New(os.Stdout)
	log.SetDefault(logger)
}

var rootCmd = &cobra.Command{
	Use:   "scribe",
	Short: "Scribe is a live speech transcription tool",
	Long:  `Scribe transcribes speech from WAV files, stdin, or the network with a local whisper.cpp model, and can store and serve the results.`,
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file.wav>",
	Short: "Transcribe a WAV file in one shot",
	Long:  `Transcribe a 16 kHz mono WAV file synchronously and print the timed segments.`,
	Args:  cobra.ExactArgs(1),
	Run:   runTranscribe,
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run a live transcription session",
	Long:  `Read s16le audio from stdin (or UDP, or a replayed WAV file) and print partial and final transcriptions as they arrive.`,
	Run:   runListen,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored sessions in a cool table",
	Run:   runSessions,
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow newly stored transcriptions",
	Long:  `Print transcriptions as other scribe processes store them, using Postgres LISTEN/NOTIFY.`,
	Run:   runTail,
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactively configure scribe",
	Run: func(cmd *cobra.Command, args []string) {
		RunSetup()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func openModel(hearLogger *log.Logger) (*whisper.Model, error) {
	modelPath := viper.GetString("model_path")
	if modelPath == "" {
		return nil, fmt.Errorf("missing MODEL_PATH or --model=")
	}

	whisper.SetLogger(hearLogger)
	return whisper.Open(whisper.Config{
		ModelPath: modelPath,
		Language:  viper.GetString("language"),
		UseGPU:    viper.GetBool("use_gpu"),
		Threads:   viper.GetInt("threads"),
	})
}

func runTranscribe(cmd *cobra.Command, args []string) {
	mainLogger, hearLogger, _, _ := createLoggers()

	samples, err := snd.ReadWAVFile(args[0], whisper.SampleRate)
	if err != nil {
		mainLogger.Fatal("read audio", "error", err.Error())
	}

	model, err := openModel(hearLogger)
	if err != nil {
		mainLogger.Fatal("load model", "error", err.Error())
	}
	defer model.Close()

	started := time.Now()
	segments, err := model.Transcribe(samples)
	if err != nil {
		mainLogger.Fatal("transcribe", "error", err.Error())
	}
	mainLogger.Info("Transcription finished",
		"audio", snd.Duration(len(samples), whisper.SampleRate),
		"took", time.Since(started),
	)

	for _, seg := range segments {
		fmt.Printf("[%s --> %s]  %s\n",
			etc.FormatTimestamp(whisper.TickDuration(seg.Start)),
			etc.FormatTimestamp(whisper.TickDuration(seg.End)),
			strings.TrimSpace(seg.Text),
		)
	}
}

func runListen(cmd *cobra.Command, args []string) {
	mainLogger, hearLogger, feedLogger, dataLogger := createLoggers()

	immediate, _ := cmd.Flags().GetBool("immediate")
	intervalMs, _ := cmd.Flags().GetInt("interval")
	chunkMs, _ := cmd.Flags().GetInt("chunk-ms")
	udpAddr, _ := cmd.Flags().GetString("udp")
	wavPath, _ := cmd.Flags().GetString("wav")
	useTUI, _ := cmd.Flags().GetBool("tui")
	persist, _ := cmd.Flags().GetBool("store")

	ctx := context.Background()
	// Feeds cancel on their own context; the session's store writes
	// outlive them.
	feedCtx, stopFeeds := context.WithCancel(ctx)
	defer stopFeeds()

	var store *db.Store
	if persist {
		var err error
		store, err = db.Open(ctx, viper.GetString("database_url"), dataLogger)
		if err != nil {
			mainLogger.Fatal("open database", "error", err.Error())
		}
		defer store.Close()

		if err := config.New(store).Load(ctx); err != nil {
			mainLogger.Fatal("load config", "error", err.Error())
		}
	}

	windowSec := viper.GetFloat64("window_seconds")
	if cmd.Flags().Changed("window") {
		windowSec, _ = cmd.Flags().GetFloat64("window")
	}

	model, err := openModel(hearLogger)
	if err != nil {
		mainLogger.Fatal("load model", "error", err.Error())
	}
	defer model.Close()

	transcriber := stt.New(model, stt.Config{
		Immediate: immediate,
		MaxWindow: time.Duration(windowSec * float64(time.Second)),
	}, hearLogger)

	source := "stdin"
	switch {
	case udpAddr != "":
		source = "udp:" + udpAddr
	case wavPath != "":
		source = "wav:" + filepath.Base(wavPath)
	}

	var sess db.Session
	if store != nil {
		sess, err = store.CreateSession(ctx, source, filepath.Base(viper.GetString("model_path")))
		if err != nil {
			mainLogger.Fatal("create session", "error", err.Error())
		}
		mainLogger.Info("Session started", "id", sess.ID)
	}

	var results chan tui.Result
	if useTUI {
		results = make(chan tui.Result, 64)
	}

	callback := func(chunkID uint64, text string, isPartial bool) {
		if store != nil && !isPartial {
			if err := store.SaveTranscription(ctx, sess.ID, chunkID, text); err != nil {
				dataLogger.Error("save transcription", "error", err.Error())
			}
		}
		if useTUI {
			select {
			case results <- tui.Result{ChunkID: chunkID, Text: text, IsPartial: isPartial}:
			default:
			}
			return
		}
		prefix := "FIN"
		if isPartial {
			prefix = "TMP"
		}
		fmt.Printf("%s %4d  %s\n", prefix, chunkID, text)
	}

	transcriber.Start(callback, time.Duration(intervalMs)*time.Millisecond)
	mainLogger.Info("Listening",
		"source", source,
		"immediate", immediate,
		"window", time.Duration(windowSec*float64(time.Second)),
	)

	feedDone := make(chan struct{})
	chunkSamples := snd.Samples(time.Duration(chunkMs)*time.Millisecond, whisper.SampleRate)

	switch {
	case udpAddr != "":
		listener, err := snd.Listen(udpAddr, feedLogger)
		if err != nil {
			mainLogger.Fatal("listen", "error", err.Error())
		}
		packets := listener.Stream(feedCtx)
		go func() {
			defer close(feedDone)
			for p := range packets {
				transcriber.Submit(p.Samples)
			}
		}()

	case wavPath != "":
		samples, err := snd.ReadWAVFile(wavPath, whisper.SampleRate)
		if err != nil {
			mainLogger.Fatal("read audio", "error", err.Error())
		}
		go func() {
			defer close(feedDone)
			ticker := time.NewTicker(time.Duration(chunkMs) * time.Millisecond)
			defer ticker.Stop()
			for _, chunk := range splitChunks(samples, chunkSamples) {
				transcriber.Submit(chunk)
				select {
				case <-ticker.C:
				case <-feedCtx.Done():
					return
				}
			}
		}()

	default:
		go func() {
			defer close(feedDone)
			// Full reads keep the s16le stream aligned; a short read only
			// happens at EOF.
			buf := make([]byte, chunkSamples*snd.BytesPerSample)
			for {
				n, err := io.ReadFull(os.Stdin, buf)
				if n > 0 {
					transcriber.Submit(snd.BytesToFloat32(buf[:n]))
				}
				if err != nil {
					return
				}
			}
		}()
	}

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)

	if useTUI {
		go func() {
			select {
			case <-sc:
			case <-feedDone:
			}
			stopListen(transcriber, stopFeeds)
			close(results)
		}()
		if err := tui.Run(results); err != nil {
			mainLogger.Error("transcript ui", "error", err.Error())
		}
	} else {
		select {
		case <-sc:
			fmt.Println()
		case <-feedDone:
		}
	}

	stopListen(transcriber, stopFeeds)

	if store != nil {
		if err := store.EndSession(ctx, sess.ID); err != nil {
			dataLogger.Error("end session", "error", err.Error())
		} else {
			mainLogger.Info("Session ended", "id", sess.ID)
		}
	}
}

// stopListen shuts a session down in order: the transcriber first, so its
// forced final flush still reaches the callback, then the feeds.
func stopListen(transcriber *stt.Transcriber, stopFeeds context.CancelFunc) {
	transcriber.Stop()
	stopFeeds()
}

// splitChunks cuts samples into submission-sized pieces. The final
// chunk carries the remainder.
func splitChunks(samples []float32, size int) [][]float32 {
	if size <= 0 || len(samples) == 0 {
		return nil
	}
	var chunks [][]float32
	for start := 0; start < len(samples); start += size {
		end := start + size
		if end > len(samples) {
			end = len(samples)
		}
		chunks = append(chunks, samples[start:end])
	}
	return chunks
}

func runSessions(cmd *cobra.Command, args []string) {
	mainLogger, _, _, dataLogger := createLoggers()

	ctx := context.Background()
	store, err := db.Open(ctx, viper.GetString("database_url"), dataLogger)
	if err != nil {
		mainLogger.Fatal("open database", "error", err.Error())
	}
	defer store.Close()

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		mainLogger.Fatal("fetch sessions", "error", err.Error())
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Source", "Model", "Started At", "Duration", "Transcriptions"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for _, s := range sessions {
		duration := "live"
		if s.EndedAt != nil {
			duration = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
		}

		table.Append([]string{
			s.ID,
			s.Source,
			s.Model,
			s.StartedAt.Format("2006-01-02 15:04:05"),
			duration,
			fmt.Sprintf("%d", s.Transcriptions),
		})
	}

	table.Render()
}

func runTail(cmd *cobra.Command, args []string) {
	mainLogger, _, _, dataLogger := createLoggers()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := db.Open(ctx, viper.GetString("database_url"), dataLogger)
	if err != nil {
		mainLogger.Fatal("open database", "error", err.Error())
	}
	defer store.Close()

	updates, err := store.StreamTranscriptions(ctx)
	if err != nil {
		mainLogger.Fatal("stream transcriptions", "error", err.Error())
	}

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	go func() {
		<-sc
		cancel()
	}()

	for update := range updates {
		fmt.Printf("%s  %s  %s\n",
			update.CreatedAt.Format("15:04:05"),
			update.Session,
			update.Text,
		)
	}
}

func createLoggers() (mainLogger, hearLogger, feedLogger, dataLogger *log.Logger) {
	logLevel := log.DebugLevel

	logger.SetLevel(logLevel)
	logger.SetReportCaller(true)
	logger.SetCallerFormatter(
		func(file string, line int, funcName string) string {
			path, err := filepath.Rel(".", file)
			if err != nil {
				path = file
			}
			return fmt.Sprintf("%s:%d", path, line)
		},
	)

	styles := log.DefaultStyles()
	styles.Prefix = styles.Prefix.MarginTop(1).
		Bold(false).Transform(func(s string) string {
		return strings.TrimSuffix(s, ":")
	})
	styles.Levels[log.InfoLevel] = styles.Levels[log.InfoLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Levels[log.ErrorLevel] = styles.Levels[log.ErrorLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Message = styles.Message.Bold(true).Width(24)
	styles.Key = styles.Key.MarginLeft(1).
		Bold(false).
		Foreground(lipgloss.Color("#ff8800"))

	logger.SetStyles(styles)

	mainLogger = logger.With().WithPrefix("main")
	hearLogger = logger.With().WithPrefix("hear")
	feedLogger = logger.With().WithPrefix("feed")
	dataLogger = logger.With().WithPrefix("data")

	return
}
