package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/clippy-oss/homie/marketplace-chat/internal/api"
	"github.com/clippy-oss/homie/marketplace-chat/internal/auth"
	"github.com/clippy-oss/homie/marketplace-chat/internal/cli"
	"github.com/clippy-oss/homie/marketplace-chat/internal/config"
	"github.com/clippy-oss/homie/marketplace-chat/internal/domain"
	"github.com/clippy-oss/homie/marketplace-chat/internal/logger"
	"github.com/clippy-oss/homie/marketplace-chat/internal/media"
	"github.com/clippy-oss/homie/marketplace-chat/internal/realtime"
	"github.com/clippy-oss/homie/marketplace-chat/internal/repository"
	"github.com/clippy-oss/homie/marketplace-chat/internal/service"
	grpcTransport "github.com/clippy-oss/homie/marketplace-chat/internal/transport/grpc"
	mcpTransport "github.com/clippy-oss/homie/marketplace-chat/internal/transport/mcp"
	"github.com/clippy-oss/homie/marketplace-chat/internal/transport/stompws"
)

type credentials interface {
	auth.Credentials
	io.Closer
}

type staticCredentials struct {
	*auth.StaticCredentials
}

func (staticCredentials) Close() error { return nil }

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "marketplace-chat: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	// CLI modes own stdout
	if cfg.Mode == config.ModeServer {
		logger.Init(cfg.LogLevel)
	} else {
		logger.InitWithWriter(os.Stderr, cfg.LogLevel)
	}
	log := logger.Module("main")

	if err := cfg.EnsureDirs(); err != nil {
		return fmt.Errorf("failed to create data directories: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	creds, err := loadCredentials(ctx, cfg)
	if err != nil {
		return err
	}
	defer creds.Close()

	identity, err := auth.CurrentIdentity(creds)
	if err != nil {
		return fmt.Errorf("failed to resolve the current user: %w", err)
	}
	if identity.Expired(time.Now()) {
		log.Warn().Time("expires_at", identity.ExpiresAt).Msg("token already expired, waiting for a refresh")
	}

	db, err := repository.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer repository.Close(db)

	store, err := media.NewStore(cfg.MediaPath)
	if err != nil {
		return fmt.Errorf("failed to open media store: %w", err)
	}

	msgRepo := repository.NewMessageRepository(db)
	chatRepo := repository.NewChatRepository(db)
	eventBus := domain.NewEventBus()

	manager := realtime.NewManager(
		stompws.New(stompws.Config{URL: cfg.WebSocketURL}),
		creds,
		eventBus,
		realtime.ManagerConfig{ReconnectDelay: cfg.ReconnectDelay},
	)
	client := api.NewClient(creds, api.ClientConfig{
		BaseURL: cfg.BackendURL,
		Timeout: cfg.RequestTimeout,
	})

	chatSvc := service.NewChatService(manager, client, store, msgRepo, chatRepo, eventBus, service.ChatServiceConfig{
		Username:       identity.Username,
		MaxUploadSize:  cfg.MaxUploadSize,
		MediaCacheSize: cfg.MediaCacheSize,
	})
	msgSvc := service.NewMessageService(msgRepo, chatRepo)

	log.Info().
		Str("user", identity.Username).
		Str("role", string(identity.Role())).
		Str("backend", cfg.BackendURL).
		Str("database", cfg.DatabasePath).
		Msg("marketplace chat starting")

	if err := chatSvc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start chat service: %w", err)
	}

	handlerConfig := cli.HandlerConfig{WebURL: cfg.WebURL}

	switch cfg.Mode {
	case config.ModeInteractive:
		err = runCLI(ctx, cli.NewInteractiveCLI(cli.NewCommandHandler(chatSvc, msgSvc, eventBus, handlerConfig)))
	case config.ModeHeadless:
		err = runCLI(ctx, cli.NewHeadlessCLI(cli.NewCommandHandler(chatSvc, msgSvc, eventBus, handlerConfig)))
	default:
		err = runServer(ctx, cfg, log, manager, chatSvc, msgSvc)
	}

	return multierr.Append(err, chatSvc.Stop())
}

func loadCredentials(ctx context.Context, cfg *config.Config) (credentials, error) {
	if cfg.TokenFile == "" {
		if cfg.Token == "" {
			return nil, errors.New("a token or a token file is required")
		}
		return staticCredentials{auth.NewStaticCredentials(cfg.Token)}, nil
	}

	fc, err := auth.NewFileCredentials(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	if err := fc.Watch(ctx); err != nil {
		return nil, err
	}
	return fc, nil
}

type runner interface {
	Run(ctx context.Context) error
}

func runCLI(ctx context.Context, r runner) error {
	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("CLI error: %w", err)
	}
	return nil
}

func runServer(
	ctx context.Context,
	cfg *config.Config,
	log zerolog.Logger,
	manager *realtime.Manager,
	chatSvc *service.ChatService,
	msgSvc *service.MessageService,
) error {
	grpcServer := grpcTransport.NewServer(manager, grpcTransport.ServerConfig{Address: cfg.GRPCAddress})
	mcpServer := mcpTransport.NewServer(chatSvc, msgSvc, mcpTransport.ServerConfig{Address: cfg.MCPAddress})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("address", cfg.GRPCAddress).Msg("starting gRPC server")
		if err := grpcServer.Start(); err != nil {
			return fmt.Errorf("gRPC server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info().Str("address", cfg.MCPAddress).Msg("starting MCP SSE server")
		if err := mcpServer.Start(); err != nil {
			return fmt.Errorf("MCP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		grpcServer.Stop()
		return mcpServer.Stop(shutdownCtx)
	})

	// Print ready message for subprocess coordination
	fmt.Println("ready")

	return g.Wait()
}
