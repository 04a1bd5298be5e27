package main

import (
	"context"
	"os"
	"time"

	"github.com/dar-of-the-flame/MoYue/internal/annotations"
	"github.com/dar-of-the-flame/MoYue/internal/auth"
	"github.com/dar-of-the-flame/MoYue/internal/config"
	"github.com/dar-of-the-flame/MoYue/internal/database"
	"github.com/dar-of-the-flame/MoYue/internal/events"
	"github.com/dar-of-the-flame/MoYue/internal/library"
	"github.com/dar-of-the-flame/MoYue/internal/logging"
	"github.com/dar-of-the-flame/MoYue/internal/reader"
	"github.com/dar-of-the-flame/MoYue/internal/shares"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// application holds the services shared by the server and the CLI commands.
type application struct {
	config      config.AppConfig
	logger      *zap.Logger
	tokens      *auth.TokenIssuer
	dispatcher  *events.Dispatcher
	bridge      *events.RedisBridge
	publisher   events.Publisher
	library     *library.Service
	shares      *shares.Service
	reader      *reader.Service
	annotations *annotations.Service

	closers []func() error
}

func openApplication(ctx context.Context) (*application, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.PrettyLogs || logging.IsTerminal(os.Stderr))
	if err != nil {
		return nil, err
	}
	app := &application{config: appConfig, logger: logger}
	app.closers = append(app.closers, func() error {
		_ = logger.Sync()
		return nil
	})

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		app.Close()
		return nil, err
	}
	app.closers = append(app.closers, sqlDB.Close)

	app.tokens, err = auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	app.dispatcher = events.NewDispatcher()
	app.publisher = app.dispatcher
	if appConfig.RedisAddress != "" {
		client, err := events.ConnectRedis(ctx, events.RedisOptions{
			Address: appConfig.RedisAddress,
			Channel: appConfig.RedisChannel,
		}, logger)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.closers = append(app.closers, client.Close)
		app.bridge, err = events.NewRedisBridge(client, appConfig.RedisChannel, app.dispatcher, logger)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.publisher = app.bridge
	}

	app.library, err = library.NewService(library.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: library.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	app.shares, err = shares.NewService(shares.ServiceConfig{
		Database:            db,
		Books:               app.library,
		Clock:               time.Now,
		IDProvider:          library.NewUUIDProvider(),
		Logger:              logger,
		Events:              app.publisher,
		EventSubject:        appConfig.OwnerSubject,
		BaseURL:             appConfig.ShareBaseURL,
		DefaultTTL:          appConfig.ShareDefaultTTL,
		MaxTTL:              appConfig.ShareMaxTTL,
		DefaultMaxDownloads: appConfig.ShareMaxDownloads,
		ScryptWorkFactor:    appConfig.ShareScryptWorkFactor,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	app.reader, err = reader.NewService(reader.ServiceConfig{Database: db, Clock: time.Now, Logger: logger})
	if err != nil {
		app.Close()
		return nil, err
	}

	app.annotations, err = annotations.NewService(annotations.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: library.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	return app, nil
}

// publish announces a CLI-initiated change to the owner's listeners.
func (a *application) publish(eventType string, bookIDs ...string) {
	a.publisher.Publish(events.Message{
		Subject:   a.config.OwnerSubject,
		Type:      eventType,
		BookIDs:   bookIDs,
		Timestamp: time.Now().UTC(),
	})
}

// Close releases resources in reverse order of acquisition.
func (a *application) Close() {
	for index := len(a.closers) - 1; index >= 0; index-- {
		if err := a.closers[index](); err != nil && a.logger != nil {
			a.logger.Warn("failed to release resource", zap.Error(err))
		}
	}
	a.closers = nil
}
