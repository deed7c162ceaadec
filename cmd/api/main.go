package main

import (
	"context"
	"crypto/x509"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jhoicas/elfatoura-api/internal/application/progress"
	"github.com/jhoicas/elfatoura-api/internal/application/workflow"
	"github.com/jhoicas/elfatoura-api/internal/infrastructure/ance"
	"github.com/jhoicas/elfatoura-api/internal/infrastructure/packaging"
	infrapdf "github.com/jhoicas/elfatoura-api/internal/infrastructure/pdf"
	"github.com/jhoicas/elfatoura-api/internal/infrastructure/postgres"
	"github.com/jhoicas/elfatoura-api/internal/infrastructure/ttn"
	"github.com/jhoicas/elfatoura-api/internal/infrastructure/xades"
	httpRouter "github.com/jhoicas/elfatoura-api/internal/interfaces/http"
	"github.com/jhoicas/elfatoura-api/pkg/config"
	"github.com/jhoicas/elfatoura-api/pkg/logger"
)

const (
	httpShutdownTimeout     = 10 * time.Second
	workflowShutdownTimeout = 60 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: cfg.App.LogLevel,
	})
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("configuración inválida")
	}
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("signer_mode", cfg.Signer.Mode).
		Int("workers", cfg.Workflow.Workers).
		Msg("iniciando aplicación")

	ctx := context.Background()

	// Firma XAdES-EPES: política en caché + firmante remoto (ANCE) o local (.p12)
	policy := xades.NewPolicyHashCache(cfg.Signer.PolicyURL, cfg.Signer.PolicyHashTTL,
		&http.Client{Timeout: 30 * time.Second}, log.Component("policy"))
	builder := xades.NewBuilder(policy, log.Component("xades"))

	anceClient := ance.NewClient(ance.Config{
		SignURL:       cfg.ANCE.SignURL,
		ValidationURL: cfg.ANCE.ValidationURL,
		SSLVerify:     cfg.ANCE.SSLVerify,
		Timeout:       cfg.ANCE.Timeout,
	}, log.Component("ance"))

	var (
		hashSigner   xades.HashSigner
		defaultChain []*x509.Certificate
	)
	switch cfg.Signer.Mode {
	case "local":
		local, err := xades.LoadLocalSigner(cfg.Signer.P12Path, cfg.Signer.P12Password)
		if err != nil {
			log.Fatal().Err(err).Msg("cargar firmante local")
		}
		hashSigner = local
		defaultChain = local.Chain()
		log.Warn().Msg("firma local activa: usar solo en desarrollo")
	default:
		hashSigner = anceClient
		defaultChain, err = xades.LoadCertificateChain(cfg.ANCE.CertPath, cfg.ANCE.CertPassword)
		if err != nil {
			// Sin cadena por defecto cada petición debe subir su certificado.
			log.Warn().Err(err).Str("path", cfg.ANCE.CertPath).Msg("cadena de certificados por defecto no disponible")
		}
	}
	signingSvc := xades.NewDocumentSigningService(builder, hashSigner, defaultChain, log.Component("signing"))

	// TradeNet El Fatoura
	soapClient := ttn.NewSOAPClient(ttn.Config{
		SOAPURL:           cfg.TTN.SOAPURL,
		TransformURL:      cfg.TTN.TransformURL,
		Timeout:           cfg.TTN.Timeout,
		ConsultDelay:      cfg.TTN.ConsultDelay,
		ContentRetries:    cfg.TTN.ContentRetries,
		ContentRetryDelay: cfg.TTN.ContentRetryDelay,
	}, log.Component("ttn"))
	transformClient := ttn.NewTransformClient(cfg.TTN.TransformURL, cfg.TTN.Timeout, log.Component("ttn-transform"))

	// Log de operaciones: PostgreSQL si está habilitado, si no solo el logger
	var (
		oplog      workflow.OperationLogger = workflow.NewLogOperationLogger(log.Component("oplog"))
		operations httpRouter.OperationLogReader
		closeDB    = func() {}
	)
	if cfg.DB.Enabled {
		pool, err := postgres.NewPool(ctx, cfg.DB, log.Component("postgres"))
		if err != nil {
			log.Fatal().Err(err).Msg("conexión a PostgreSQL")
		}
		closeDB = pool.Close
		repo := postgres.NewOperationLogRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("crear tabla operation_logs")
		}
		oplog = workflow.NewRepositoryOperationLogger(repo, log.Component("oplog"))
		operations = repo
	}
	defer closeDB()

	// Progreso y barrido de sesiones antiguas
	tracker := progress.NewTracker(progress.DefaultQueueSize, log.Component("progress"))
	sweeper := progress.NewSweeper(tracker, cfg.Workflow.SweepSchedule, cfg.Workflow.SessionMaxAge, log.Component("sweeper"))
	if err := sweeper.Start(); err != nil {
		log.Fatal().Err(err).Msg("iniciar barrido de sesiones")
	}

	// Empaquetado ZIP con informe PDF
	if err := os.MkdirAll(cfg.Workflow.OutputDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Workflow.OutputDir).Msg("crear directorio de salida")
	}
	packager := packaging.NewZipPackager(cfg.Workflow.OutputDir, infrapdf.NewBatchReportGenerator(), log.Component("packaging"))

	// Workflow: procesador por archivo + orquestador de lotes
	processor := workflow.NewFileProcessor(signingSvc, soapClient, ance.NewReportValidator(anceClient), transformClient, tracker, oplog, log.Component("processor"))
	orchestrator := workflow.NewOrchestrator(processor, tracker, packager, oplog, workflow.Config{
		Workers:         cfg.Workflow.Workers,
		FileTimeout:     cfg.Workflow.FileTimeout,
		ResultRetention: cfg.Workflow.SessionMaxAge,
	}, log.Component("workflow"))
	orchestrator.Start()

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		BodyLimit:    cfg.HTTP.BodyLimitMB << 20,
		ReadTimeout:  time.Second * 60,
		WriteTimeout: 0, // el stream SSE queda abierto mientras dura el lote
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "El Fatoura API",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":           "ok",
			"service":          cfg.App.Name,
			"policyLastCheck":  policy.LastCheck(),
			"activeSessions":   len(tracker.List()),
			"signerMode":       cfg.Signer.Mode,
			"defaultCertChain": len(defaultChain) > 0,
		})
	})

	httpRouter.Router(app, httpRouter.RouterDeps{
		Workflow:      orchestrator,
		Archives:      packager,
		Progress:      tracker,
		Consulter:     soapClient,
		Renderer:      transformClient,
		Signer:        signingSvc,
		Operations:    operations,
		ParseCert:     xades.ParseCertificateChain,
		SessionMaxAge: cfg.Workflow.SessionMaxAge,
		JWTSecret:     cfg.JWT.Secret,
		Log:           log.Component("http"),
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancelHTTP()
	if err := app.ShutdownWithContext(httpCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}

	wfCtx, cancelWF := context.WithTimeout(context.Background(), workflowShutdownTimeout)
	defer cancelWF()
	if err := orchestrator.Shutdown(wfCtx); err != nil {
		log.Error().Err(err).Msg("lotes cancelados durante el apagado")
	}
	sweeper.Stop()

	log.Info().Msg("aplicación detenida")
}
